package event

import (
	"context"

	"github.com/gen2brain/beeep"
)

// DesktopNotifier shows a desktop notification for each activation that ran actions.
type DesktopNotifier struct {
	// OnlyFailures limits notifications to activations with a failed action.
	OnlyFailures bool

	notify func(title, message string) error
}

// NewDesktopNotifier creates a notifier backed by the platform notification service.
func NewDesktopNotifier(onlyFailures bool) *DesktopNotifier {
	return &DesktopNotifier{
		OnlyFailures: onlyFailures,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (n *DesktopNotifier) Publish(_ context.Context, a *Activation) error {
	if !a.Fired || len(a.Actions) == 0 {
		return nil
	}
	if n.OnlyFailures && a.Succeeded() {
		return nil
	}
	return n.notify("App Trigger", a.Summary())
}
