package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/observability"
)

// Handle consumes one out-of-band event record (system notifications,
// moderation deletions) and publishes it. Records carry explicit identity;
// there is no originating connection to report errors to, so failures are
// logged and the record is skipped.
func (e *Engine) Handle(ctx context.Context, record []byte) {
	log := observability.GetLogger(ctx)

	ev, err := e.codec.Decode(ctx, record, "")
	if err != nil {
		log.Error("engine: undecodable ingest record", zap.Error(err))
		return
	}
	if err := e.Publish(ctx, ev); err != nil {
		log.Error("engine: ingest publish failed",
			zap.String("kind", ev.EventKind()), zap.Error(err))
	}
}
