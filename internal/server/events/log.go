package events

import (
	"context"

	"github.com/dmitrijs2005/keeperauth/internal/logging"
)

// LogPublisher writes events as structured audit lines.
type LogPublisher struct {
	logger logging.Logger
}

// NewLogPublisher writes events to l at Info.
func NewLogPublisher(l logging.Logger) *LogPublisher {
	return &LogPublisher{logger: l}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	args := []any{"event", e.Type, "account_id", e.AccountID, "at", e.At}
	for k, v := range e.Attrs {
		args = append(args, k, v)
	}
	p.logger.Info(ctx, "audit", args...)
	return nil
}
