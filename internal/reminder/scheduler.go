// Package reminder fires a one-shot notification when a booking's time is
// over. Pending reminders live in an in-memory queue, keyed by booking id;
// they do not survive a restart.
package reminder

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/laundry-scheduler/internal/booking"
	"github.com/example/laundry-scheduler/internal/logger"
	"github.com/example/laundry-scheduler/internal/notify"
	"github.com/example/laundry-scheduler/internal/timegrid"
)

// BookingReader re-checks that a booking still exists at fire time.
type BookingReader interface {
	Get(ctx context.Context, id string) (booking.Booking, error)
}

// ContactDirectory resolves a member's contact address in a room.
type ContactDirectory interface {
	MemberContact(ctx context.Context, roomID, identity string) (string, error)
}

type entry struct {
	bookingID string
	firesAt   time.Time
	message   string
	index     int
	cancelled bool
}

type queue []*entry

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].firesAt.Before(q[j].firesAt) }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }

func (q *queue) Push(x any) { e := x.(*entry); e.index = len(*q); *q = append(*q, e) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Scheduler runs a single goroutine that sleeps until the earliest pending
// reminder is due. At most one reminder is pending per booking id; scheduling
// again replaces the previous one, and cancellation is lazy.
type Scheduler struct {
	bookings BookingReader
	contacts ContactDirectory
	gateway  notify.Gateway
	clock    timegrid.Clock
	log      *logger.Logger

	mu   sync.Mutex
	q    queue
	byID map[string]*entry
	wake chan struct{}
}

func New(bookings BookingReader, contacts ContactDirectory, gateway notify.Gateway, clock timegrid.Clock) *Scheduler {
	if clock == nil {
		clock = timegrid.RealClock{}
	}
	return &Scheduler{
		bookings: bookings,
		contacts: contacts,
		gateway:  gateway,
		clock:    clock,
		log:      logger.New("reminder"),
		byID:     make(map[string]*entry),
		wake:     make(chan struct{}, 1),
	}
}

// Schedule queues a reminder. A reminder already pending for the booking is
// replaced; a fire time in the past is dropped.
func (s *Scheduler) Schedule(bookingID string, firesAt time.Time, message string) {
	if !firesAt.After(s.clock.Now()) {
		return
	}
	s.mu.Lock()
	if old, ok := s.byID[bookingID]; ok {
		old.cancelled = true
	}
	e := &entry{bookingID: bookingID, firesAt: firesAt, message: message}
	s.byID[bookingID] = e
	heap.Push(&s.q, e)
	s.mu.Unlock()
	s.signal()
}

// Cancel drops the pending reminder for the booking, if any. The queue entry
// is skipped when it surfaces rather than removed eagerly.
func (s *Scheduler) Cancel(bookingID string) {
	s.mu.Lock()
	if e, ok := s.byID[bookingID]; ok {
		e.cancelled = true
		delete(s.byID, bookingID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes the queue until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		next := s.peek()
		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		delay := next.firesAt.Sub(s.clock.Now())
		if delay <= 0 {
			if e := s.take(next); e != nil {
				s.fire(ctx, e)
			}
			continue
		}

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

// peek returns the earliest live entry, discarding cancelled heads.
func (s *Scheduler) peek() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.q.Len() > 0 && s.q[0].cancelled {
		heap.Pop(&s.q)
	}
	if s.q.Len() == 0 {
		return nil
	}
	return s.q[0]
}

// take pops e if it is still the live head.
func (s *Scheduler) take(e *entry) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.cancelled || s.q.Len() == 0 || s.q[0] != e {
		return nil
	}
	heap.Pop(&s.q)
	if s.byID[e.bookingID] == e {
		delete(s.byID, e.bookingID)
	}
	return e
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	b, err := s.bookings.Get(ctx, e.bookingID)
	if err != nil {
		if !errors.Is(err, booking.ErrNotFound) {
			s.log.Error("looking up booking %s: %v", e.bookingID, err)
		}
		return
	}
	contact, err := s.contacts.MemberContact(ctx, b.RoomID, b.OwnerIdentity)
	if err != nil {
		s.log.Error("resolving contact for %s in room %s: %v", b.OwnerIdentity, b.RoomID, err)
		return
	}
	if contact == "" {
		s.log.Debug("no contact address for %s, skipping reminder", b.OwnerIdentity)
		return
	}
	if err := s.gateway.Send(contact, e.message); err != nil {
		s.log.Error("sending reminder for booking %s: %v", e.bookingID, err)
	}
}
