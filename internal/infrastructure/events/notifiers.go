package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/docextract/internal/core/ports"
)

// LogNotifier writes events to the structured log. It is the fallback when no
// broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event string, payload any) error {
	n.logger.InfoContext(ctx, "domain_event", "event", event, "payload", payload)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, event string, payload any) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
