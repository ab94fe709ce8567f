// Package events publishes booking lifecycle events to a message broker so
// other systems (usage dashboards, billing) can follow along. Publishing is
// best effort; a broker outage never fails a booking.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/laundry-scheduler/internal/booking"
	"github.com/example/laundry-scheduler/internal/logger"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *logger.Logger
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, log: logger.New("events")}, nil
}

type bookingEvent struct {
	BookingID string `json:"bookingId"`
	RoomID    string `json:"roomId"`
	Owner     string `json:"owner"`
	Machine   string `json:"machine"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	LinkedID  string `json:"linkedId,omitempty"`
	At        int64  `json:"at"`
}

func (p *Publisher) BookingCreated(ctx context.Context, b booking.Booking) {
	p.publish(ctx, "booking.created", b)
}

func (p *Publisher) BookingDeleted(ctx context.Context, b booking.Booking) {
	p.publish(ctx, "booking.deleted", b)
}

func (p *Publisher) publish(ctx context.Context, key string, b booking.Booking) {
	body, err := json.Marshal(bookingEvent{
		BookingID: b.ID,
		RoomID:    b.RoomID,
		Owner:     b.OwnerIdentity,
		Machine:   string(b.Machine),
		StartTime: b.StartTime.UnixMilli(),
		EndTime:   b.EndTime.UnixMilli(),
		LinkedID:  b.LinkedID,
		At:        time.Now().UnixMilli(),
	})
	if err != nil {
		p.log.Error("marshal %s: %v", key, err)
		return
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		p.log.Error("publish %s: %v", key, err)
	}
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
