package cmd

import (
	"context"
	"log/slog"

	"github.com/anagora/agora-bridge/internal/bridge"
	"github.com/anagora/agora-bridge/internal/bus"
)

// consumeInboundMessages is the single dispatch consumer. All messages from
// every channel funnel through this one goroutine, which is what keeps
// ledger reads and writes serialized without extra locking at the engine
// level.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus, engine *bridge.Engine) {
	slog.Info("inbound message consumer started")

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}

		outcome, err := engine.Process(ctx, msg)
		if err != nil {
			// Only context cancellation reaches here.
			slog.Info("inbound message consumer stopped", "reason", err)
			return
		}

		slog.Debug("message processed",
			"run_id", outcome.RunID,
			"channel", msg.Channel,
			"author", msg.Author,
			"kind", outcome.Kind,
			"entities", outcome.Entities,
			"replied", outcome.Replied,
			"archived", outcome.Archived,
			"skip", outcome.SkipReason,
		)
	}
}
