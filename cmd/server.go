package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/laundry-scheduler/internal/booking"
	"github.com/example/laundry-scheduler/internal/config"
	"github.com/example/laundry-scheduler/internal/db"
	"github.com/example/laundry-scheduler/internal/events"
	"github.com/example/laundry-scheduler/internal/identity"
	"github.com/example/laundry-scheduler/internal/logger"
	"github.com/example/laundry-scheduler/internal/migrate"
	"github.com/example/laundry-scheduler/internal/notify"
	"github.com/example/laundry-scheduler/internal/reminder"
	"github.com/example/laundry-scheduler/internal/rooms"
	"github.com/example/laundry-scheduler/internal/timegrid"
	"github.com/example/laundry-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the booking API + reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logger.New("server")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			grid := timegrid.New(cfg.OperatingStartHour, cfg.OperatingEndHour, cfg.Timezone, nil)
			store := booking.NewPGStore(d)
			roomRepo := rooms.NewRepo(d)

			var gateway notify.Gateway
			switch cfg.NotifyDriver {
			case "telegram":
				gateway, err = notify.NewTelegram(cfg.TelegramBotToken)
				if err != nil {
					return err
				}
			default:
				gateway = notify.NewConsole()
			}

			reminders := reminder.New(store, roomRepo, gateway, nil)
			go reminders.Run(ctx)

			var sink booking.EventSink
			if cfg.AMQPURL != "" {
				pub, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
				if err != nil {
					return err
				}
				defer func() { _ = pub.Close() }()
				sink = pub
				log.Info("publishing booking events to %s", cfg.AMQPExchange)
			}

			svc := booking.NewService(store, roomRepo, grid, reminders, sink)

			ws := &web.Server{
				Bookings: svc,
				Rooms:    roomRepo,
				Local:    identity.NewLocalStore(d),
				Sessions: web.NewSessions(cfg.CookieHashKey, cfg.CookieBlockKey),
			}
			return web.Start(ctx, cfg.ListenAddr, ws.Routes())
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
