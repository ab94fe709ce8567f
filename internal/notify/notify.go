// Package notify delivers end-of-booking reminders to members. Delivery is
// fire-and-forget: a failed send is logged by the caller and never retried.
package notify

import (
	"github.com/example/laundry-scheduler/internal/logger"
)

// Gateway sends a message to a member's contact address. The address format
// is driver-specific.
type Gateway interface {
	Send(contactAddress, message string) error
}

// Console writes reminders to the log. The default driver; useful for
// development and for installations without a messaging channel.
type Console struct {
	log *logger.Logger
}

func NewConsole() *Console {
	return &Console{log: logger.New("notify")}
}

func (c *Console) Send(contactAddress, message string) error {
	c.log.Info("reminder for %s: %s", contactAddress, message)
	return nil
}
