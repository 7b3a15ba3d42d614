// Package notify posts desktop notifications. Delivery is best effort:
// a headless session or missing notification daemon must never break a
// refresh cycle.
package notify

import (
	"go.uber.org/zap"

	"github.com/gen2brain/beeep"
)

// Notifier posts desktop notifications.
type Notifier interface {
	Notify(title, message string)
}

// Desktop sends through the platform notification service.
type Desktop struct {
	log *zap.Logger
}

func NewDesktop(log *zap.Logger) *Desktop {
	return &Desktop{log: log}
}

func (d *Desktop) Notify(title, message string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		d.log.Debug("notification failed", zap.String("title", title), zap.Error(err))
	}
}

// Nop discards notifications; used when the user disabled them and in
// tests.
type Nop struct{}

func (Nop) Notify(string, string) {}
