package dispatch

import (
	"context"
	"log/slog"
)

// LogTransport records alerts in the service log instead of delivering
// them. It stands in for the real transport when no delivery credentials
// are configured, so the rest of the pass (dedup window, log writes) still
// behaves normally.
type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) Send(_ context.Context, recipient, subject, _ string) error {
	t.Logger.Info("dry-run alert", "recipient", recipient, "subject", subject)
	return nil
}
