// Package bridge wires classification, dedup, opt-in and reply composition
// into the per-message pipeline run by the dispatch consumer.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/anagora/agora-bridge/internal/archive"
	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/config"
	"github.com/anagora/agora-bridge/internal/ledger"
	"github.com/anagora/agora-bridge/internal/optin"
	"github.com/anagora/agora-bridge/internal/reply"
	"github.com/anagora/agora-bridge/internal/router"
)

// Skip reasons reported in Outcome and on the event feed.
const (
	SkipSelf        = "self"
	SkipStale       = "stale"
	SkipNoIntent    = "no-intent"
	SkipPushOff     = "push-disabled"
	SkipNoLedger    = "no-ledger"
	SkipDuplicate   = "duplicate"
	SkipLedgerError = "ledger-error"
	SkipDryRun      = "dry-run"
)

// Outcome describes what Process did with one message.
type Outcome struct {
	RunID      string
	Kind       router.Kind
	Entities   []string
	Results    []ledger.NodeResult
	Replied    bool
	ReplyText  string
	Archived   bool
	SkipReason string
}

// Booster amplifies a push message on its origin platform (boost, reblog,
// retweet). No booster is wired by default; recognition without
// amplification is the shipped behaviour.
type Booster interface {
	Boost(ctx context.Context, msg bus.InboundMessage) error
}

// Deps are the collaborators an Engine needs. Store, Archiver and Booster
// may be nil: the engine then observes without replying, archiving or
// boosting.
type Deps struct {
	Config   *config.Config
	Store    ledger.Store
	Optin    *optin.Resolver
	Composer *reply.Composer
	Archiver *archive.Archiver
	Push     router.PushHandler
	Booster  Booster
	// Hints overrides the hint policy. Nil means the policy is derived
	// from the config on every message, so reloads take effect.
	Hints    router.HintPolicy
	Events   bus.EventPublisher
	Outbound func(bus.OutboundMessage)
}

// Engine runs the message pipeline. It is driven by a single consumer
// goroutine, which is what serializes ledger access.
type Engine struct {
	cfg      *config.Config
	store    ledger.Store
	gate     ledger.Gate
	optin    *optin.Resolver
	composer *reply.Composer
	archiver *archive.Archiver
	push     router.PushHandler
	booster  Booster
	hints    router.HintPolicy
	events   bus.EventPublisher
	outbound func(bus.OutboundMessage)
	tracer   trace.Tracer
	now      func() time.Time
}

// New builds an Engine from its dependencies.
func New(d Deps) *Engine {
	if d.Push == nil {
		d.Push = router.DisabledPush{}
	}
	if d.Composer == nil {
		d.Composer = reply.NewComposer("", nil)
	}
	if d.Outbound == nil {
		d.Outbound = func(bus.OutboundMessage) {}
	}
	return &Engine{
		cfg:      d.Config,
		store:    d.Store,
		gate:     ledger.Gate(d.Config.Ledger.Gate),
		optin:    d.Optin,
		composer: d.Composer,
		archiver: d.Archiver,
		push:     d.Push,
		booster:  d.Booster,
		hints:    d.Hints,
		events:   d.Events,
		outbound: d.Outbound,
		tracer:   otel.Tracer("agora-bridge/engine"),
		now:      time.Now,
	}
}

// Process runs one message through the pipeline: classify, dedup-log,
// decide, compose, emit. Per-message failures are absorbed fail-closed; the
// returned error is reserved for context cancellation.
func (e *Engine) Process(ctx context.Context, msg bus.InboundMessage) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{RunID: uuid.NewString()}
	ctx, span := e.tracer.Start(ctx, "bridge.process", trace.WithAttributes(
		attribute.String("run.id", out.RunID),
		attribute.String("message.channel", msg.Channel),
		attribute.String("message.author", msg.Author),
	))
	defer span.End()

	if msg.Author == "" || msg.Author == e.cfg.Bot.User {
		return e.skip(out, msg, SkipSelf), nil
	}
	if maxAge := e.cfg.Bot.MaxAge.Std(); maxAge > 0 && !msg.CreatedAt.IsZero() &&
		e.now().Sub(msg.CreatedAt) > maxAge {
		return e.skip(out, msg, SkipStale), nil
	}

	intent := router.New(e.cfg.ExcludedAuthorsList(), e.hintPolicy()).Classify(msg)
	out.Kind = intent.Kind
	out.Entities = intent.Entities
	span.SetAttributes(attribute.String("intent.kind", string(intent.Kind)))
	e.broadcast(bus.EventDispatched, out, msg)

	switch intent.Kind {
	case router.KindNone:
		if intent.Hint != "" {
			return e.reply(out, msg, "@"+msg.Author+" "+intent.Hint), nil
		}
		return e.skip(out, msg, SkipNoIntent), nil

	case router.KindPush:
		if err := e.push.Handle(ctx, msg, intent); err != nil {
			slog.Warn("push handler failed", "run_id", out.RunID, "error", err)
		}
		if e.booster != nil {
			if err := e.booster.Boost(ctx, msg); err != nil {
				slog.Warn("boost failed", "run_id", out.RunID, "error", err)
			}
		}
		return e.skip(out, msg, SkipPushOff), nil
	}

	if e.store == nil {
		return e.skip(out, msg, SkipNoLedger), nil
	}

	if e.cfg.DryRunEnabled() {
		return e.dryRun(ctx, out, msg, intent), nil
	}

	out.Results = ledger.LogAll(ctx, e.store, intent.Entities, msg.Author, msg.Ref())
	failed := false
	for _, r := range out.Results {
		if r.Err != nil {
			failed = true
			slog.Warn("ledger write failed", "run_id", out.RunID, "node", r.Node, "error", r.Err)
		}
	}
	if failed {
		e.broadcast(bus.EventError, out, msg)
	}

	e.maybeArchive(ctx, out, msg)

	if !ledger.ShouldReply(out.Results, e.gate) {
		if failed {
			return e.skip(out, msg, SkipLedgerError), nil
		}
		return e.skip(out, msg, SkipDuplicate), nil
	}

	return e.reply(out, msg, e.composer.Build(ctx, msg, intent.Entities)), nil
}

// dryRun evaluates the reply decision without touching durable state: the
// ledger is consulted read-only for novelty, and nothing is logged,
// archived or posted.
func (e *Engine) dryRun(ctx context.Context, out *Outcome, msg bus.InboundMessage, intent router.Intent) *Outcome {
	failed := false
	out.Results = make([]ledger.NodeResult, 0, len(intent.Entities))
	for _, node := range intent.Entities {
		found, err := e.store.Contains(ctx, node, msg.Ref())
		if err != nil {
			failed = true
			slog.Warn("ledger read failed", "run_id", out.RunID, "node", node, "error", err)
		}
		out.Results = append(out.Results, ledger.NodeResult{Node: node, Logged: err == nil && !found, Err: err})
	}

	if !ledger.ShouldReply(out.Results, e.gate) {
		if failed {
			return e.skip(out, msg, SkipLedgerError)
		}
		return e.skip(out, msg, SkipDuplicate)
	}

	out.ReplyText = e.composer.Build(ctx, msg, intent.Entities)
	slog.Info("dry-run, not posting", "run_id", out.RunID, "reply", out.ReplyText)
	return e.skip(out, msg, SkipDryRun)
}

// hintPolicy returns the injected policy, or one built from the current
// config so hint settings can be changed by a policy reload.
func (e *Engine) hintPolicy() router.HintPolicy {
	if e.hints != nil {
		return e.hints
	}
	if hint := e.cfg.HintSnapshot(); hint.Enabled {
		return router.ProbabilisticHint{Probability: hint.Probability, Text: hint.Text}
	}
	return router.NoHint{}
}

// maybeArchive stores the full message for opted-in authors. Archiving is
// independent of the reply decision: a replayed duplicate still belongs in
// the author's stream exactly once, which the archiver's own dedup ensures.
func (e *Engine) maybeArchive(ctx context.Context, out *Outcome, msg bus.InboundMessage) {
	if e.archiver == nil || e.optin == nil {
		return
	}
	if !e.optin.Wants(ctx, msg.Author) {
		return
	}
	written, err := e.archiver.Append(ctx, msg)
	if err != nil {
		slog.Warn("archive append failed", "run_id", out.RunID, "author", msg.Author, "error", err)
		return
	}
	out.Archived = written
}

func (e *Engine) skip(out *Outcome, msg bus.InboundMessage, reason string) *Outcome {
	out.SkipReason = reason
	e.broadcast(bus.EventSkipped, out, msg)
	return out
}

func (e *Engine) reply(out *Outcome, msg bus.InboundMessage, text string) *Outcome {
	out.ReplyText = text
	if e.cfg.DryRunEnabled() {
		out.SkipReason = SkipDryRun
		slog.Info("dry-run, not posting", "run_id", out.RunID, "reply", text)
		e.broadcast(bus.EventSkipped, out, msg)
		return out
	}
	out.Replied = true
	e.outbound(bus.OutboundMessage{
		Channel:   msg.Channel,
		InReplyTo: msg.ID,
		Text:      text,
	})
	e.broadcast(bus.EventReplied, out, msg)
	return out
}

func (e *Engine) broadcast(name string, out *Outcome, msg bus.InboundMessage) {
	if e.events == nil {
		return
	}
	e.events.Broadcast(bus.Event{Name: name, Payload: map[string]any{
		"run_id":   out.RunID,
		"channel":  msg.Channel,
		"author":   msg.Author,
		"ref":      msg.Ref(),
		"kind":     string(out.Kind),
		"entities": out.Entities,
		"replied":  out.Replied,
		"skip":     out.SkipReason,
	}})
}
