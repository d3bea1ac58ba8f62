package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/anagora/agora-bridge/internal/archive"
	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/config"
	"github.com/anagora/agora-bridge/internal/ledger"
	"github.com/anagora/agora-bridge/internal/optin"
	"github.com/anagora/agora-bridge/internal/reply"
	"github.com/anagora/agora-bridge/internal/router"
)

type capture struct {
	sent []bus.OutboundMessage
}

func (c *capture) send(msg bus.OutboundMessage) { c.sent = append(c.sent, msg) }

type fixture struct {
	engine *Engine
	cfg    *config.Config
	store  ledger.Store
	out    *capture
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Bot.User = "agora"
	if mutate != nil {
		mutate(cfg)
	}

	var store ledger.Store
	var archiver *archive.Archiver
	if cfg.Agora.OutputDir != "" {
		var err error
		store, err = ledger.NewFileStore(cfg.Agora.OutputDir)
		if err != nil {
			t.Fatal(err)
		}
		archiver, err = archive.New(cfg.Agora.OutputDir + "/stream")
		if err != nil {
			t.Fatal(err)
		}
	}

	out := &capture{}
	return &fixture{
		engine: New(Deps{
			Config:   cfg,
			Store:    store,
			Optin:    optin.NewResolver(store, cfg.AllowlistCopy),
			Composer: reply.NewComposer(cfg.Agora.BaseURL, nil),
			Archiver: archiver,
			Outbound: out.send,
		}),
		cfg:   cfg,
		store: store,
		out:   out,
	}
}

func mention(text, id string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "mastodon",
		ID:        id,
		Author:    "alice",
		Text:      text,
		CreatedAt: time.Now(),
		SourceURL: "https://social.example/@alice/" + id,
	}
}

func TestProcess_WikilinkMentionRepliesOnce(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	ctx := context.Background()

	out, err := f.engine.Process(ctx, mention("I keep thinking about [[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Replied {
		t.Fatalf("first mention not replied: %+v", out)
	}
	if want := "https://anagora.org/agora"; !strings.Contains(out.ReplyText, want) {
		t.Errorf("reply %q missing link %q", out.ReplyText, want)
	}
	if !strings.HasPrefix(out.ReplyText, "@alice") {
		t.Errorf("reply %q does not address the author", out.ReplyText)
	}
	if len(f.out.sent) != 1 {
		t.Fatalf("outbound count = %d, want 1", len(f.out.sent))
	}
	if got := f.out.sent[0]; got.Channel != "mastodon" || got.InReplyTo != "1" {
		t.Errorf("outbound = %+v", got)
	}

	// Replaying the same message must stay silent.
	out, err = f.engine.Process(ctx, mention("I keep thinking about [[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Replied || out.SkipReason != SkipDuplicate {
		t.Errorf("replay outcome = %+v, want duplicate skip", out)
	}
	if len(f.out.sent) != 1 {
		t.Errorf("replay posted another reply: %d", len(f.out.sent))
	}
}

func TestProcess_NoOutputDirNeverReplies(t *testing.T) {
	f := newFixture(t, nil)
	out, err := f.engine.Process(context.Background(), mention("[[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Replied || out.SkipReason != SkipNoLedger {
		t.Errorf("outcome = %+v, want no-ledger skip", out)
	}
	if len(f.out.sent) != 0 {
		t.Errorf("posted %d replies without a ledger", len(f.out.sent))
	}
}

func TestProcess_DryRunLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Agora.OutputDir = t.TempDir()
		c.Agora.DryRun = true
		c.Bot.Allowlist = []string{"alice"}
	})
	ctx := context.Background()

	out, err := f.engine.Process(ctx, mention("[[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Replied || out.SkipReason != SkipDryRun {
		t.Errorf("outcome = %+v, want dry-run skip", out)
	}
	if out.ReplyText == "" {
		t.Error("dry-run should still compose the reply")
	}
	if out.Archived {
		t.Error("dry-run archived the message")
	}
	if len(f.out.sent) != 0 {
		t.Errorf("dry-run posted %d replies", len(f.out.sent))
	}

	// Nothing was written: the ledger has no trace of the message, and a
	// later wet run replies as if the dry-run never happened.
	if found, err := f.store.Contains(ctx, "agora", "https://social.example/@alice/1"); err != nil || found {
		t.Errorf("ledger after dry-run: found=%v err=%v, want untouched", found, err)
	}
	f.cfg.Agora.DryRun = false
	out, err = f.engine.Process(ctx, mention("[[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Replied {
		t.Errorf("wet run after dry-run = %+v, want reply", out)
	}
}

func TestProcess_DryRunStillDetectsDuplicates(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	ctx := context.Background()

	if _, err := f.engine.Process(ctx, mention("[[agora]]", "1")); err != nil {
		t.Fatal(err)
	}
	f.cfg.Agora.DryRun = true
	out, err := f.engine.Process(ctx, mention("[[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.SkipReason != SkipDuplicate {
		t.Errorf("dry-run replay = %+v, want duplicate skip", out)
	}
}

func TestProcess_ReshareSuppressed(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	msg := mention("[[agora]]", "1")
	msg.IsReshare = true

	out, err := f.engine.Process(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != router.KindNone || out.Replied {
		t.Errorf("reshare outcome = %+v, want none", out)
	}
}

func TestProcess_OwnMessagesIgnored(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	msg := mention("[[agora]]", "1")
	msg.Author = "agora"

	out, err := f.engine.Process(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.SkipReason != SkipSelf {
		t.Errorf("outcome = %+v, want self skip", out)
	}
}

func TestProcess_MaxAgeDropsStaleMessages(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Agora.OutputDir = t.TempDir()
		c.Bot.MaxAge = config.Duration(time.Hour)
	})
	msg := mention("[[agora]]", "1")
	msg.CreatedAt = time.Now().Add(-2 * time.Hour)

	out, err := f.engine.Process(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.SkipReason != SkipStale {
		t.Errorf("outcome = %+v, want stale skip", out)
	}
}

func TestProcess_PushRecognizedButSuppressed(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	out, err := f.engine.Process(context.Background(), mention("[[push]] [[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != router.KindPush || out.Replied || out.SkipReason != SkipPushOff {
		t.Errorf("outcome = %+v, want suppressed push", out)
	}
}

type fakeBooster struct {
	boosted []string
}

func (b *fakeBooster) Boost(ctx context.Context, msg bus.InboundMessage) error {
	b.boosted = append(b.boosted, msg.ID)
	return nil
}

func TestProcess_PushBoostsWhenBoosterWired(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	fb := &fakeBooster{}
	f.engine.booster = fb

	out, err := f.engine.Process(context.Background(), mention("[[push]] [[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.SkipReason != SkipPushOff {
		t.Errorf("outcome = %+v, want push skip", out)
	}
	if len(fb.boosted) != 1 || fb.boosted[0] != "1" {
		t.Errorf("boosted = %v, want [1]", fb.boosted)
	}

	// Non-push messages are never boosted.
	if _, err := f.engine.Process(context.Background(), mention("[[agora]]", "2")); err != nil {
		t.Fatal(err)
	}
	if len(fb.boosted) != 1 {
		t.Errorf("boosted = %v after wikilink message", fb.boosted)
	}
}

func TestProcess_ArchivesOptedInAuthors(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, func(c *config.Config) {
		c.Agora.OutputDir = dir
		c.Bot.Allowlist = []string{"alice"}
	})

	out, err := f.engine.Process(context.Background(), mention("archive me [[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Archived {
		t.Errorf("outcome = %+v, want archived", out)
	}

	// Not opted in: no archive entry.
	msg := mention("[[flancia]]", "2")
	msg.Author = "bob"
	out, err = f.engine.Process(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.Archived {
		t.Error("archived a non-opted-in author")
	}
}

type failingStore struct{}

func (failingStore) LogIfNew(context.Context, string, string, string) (bool, error) {
	return false, ledger.ErrUnavailable
}

func (failingStore) Contains(context.Context, string, string) (bool, error) {
	return false, ledger.ErrUnavailable
}

func (failingStore) Close() error { return nil }

type eventRecorder struct {
	events []bus.Event
}

func (r *eventRecorder) Subscribe(string, bus.EventHandler) {}
func (r *eventRecorder) Unsubscribe(string)                 {}
func (r *eventRecorder) Broadcast(e bus.Event)              { r.events = append(r.events, e) }

func TestProcess_LedgerFailureEmitsErrorEvent(t *testing.T) {
	events := &eventRecorder{}
	cfg := config.Default()
	cfg.Agora.OutputDir = t.TempDir()
	engine := New(Deps{Config: cfg, Store: failingStore{}, Events: events})

	out, err := engine.Process(context.Background(), mention("[[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Replied || out.SkipReason != SkipLedgerError {
		t.Errorf("outcome = %+v, want ledger-error skip", out)
	}

	sawError := false
	for _, e := range events.events {
		if e.Name == bus.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("events = %+v, want an %s event", events.events, bus.EventError)
	}
}

func TestProcess_AllowlistReloadTakesEffect(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	ctx := context.Background()

	out, err := f.engine.Process(ctx, mention("[[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Archived {
		t.Error("archived before the author was allowlisted")
	}

	// A policy reload adds alice; the running engine must pick it up.
	f.cfg.Bot.Allowlist = []string{"alice"}
	out, err = f.engine.Process(ctx, mention("[[flancia]]", "2"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Archived {
		t.Errorf("outcome = %+v, want archived after reload", out)
	}
}

func TestProcess_HintReloadTakesEffect(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	ctx := context.Background()

	out, err := f.engine.Process(ctx, mention("no markup here", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Replied || out.SkipReason != SkipNoIntent {
		t.Errorf("outcome = %+v, want no-intent skip", out)
	}

	f.cfg.Bot.Hint = config.HintConfig{Enabled: true, Probability: 1, Text: "try [[wikilinks]]"}
	out, err = f.engine.Process(ctx, mention("no markup here", "2"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Replied || !strings.Contains(out.ReplyText, "try [[wikilinks]]") {
		t.Errorf("outcome = %+v, want hint reply after reload", out)
	}
}

func TestProcess_NilComposerGetsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Agora.OutputDir = dir
	store, err := ledger.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	engine := New(Deps{Config: cfg, Store: store})

	out, err := engine.Process(context.Background(), mention("[[agora]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Replied || !strings.Contains(out.ReplyText, "https://anagora.org/agora") {
		t.Errorf("outcome = %+v, want default-composed reply", out)
	}
}

func TestProcess_GateAnyRepliesOnPartialNovelty(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Agora.OutputDir = t.TempDir()
		c.Ledger.Gate = "any"
	})
	ctx := context.Background()

	if _, err := f.engine.Process(ctx, mention("[[agora]]", "1")); err != nil {
		t.Fatal(err)
	}
	// An edited message keeps its ref but gains an entity: one node is
	// already logged, one is new.
	out, err := f.engine.Process(ctx, mention("[[agora]] and [[flancia]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Replied {
		t.Errorf("outcome = %+v, want reply under any gate", out)
	}
}

func TestProcess_GateAllStaysQuietOnPartialNovelty(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agora.OutputDir = t.TempDir() })
	ctx := context.Background()

	if _, err := f.engine.Process(ctx, mention("[[agora]]", "1")); err != nil {
		t.Fatal(err)
	}
	out, err := f.engine.Process(ctx, mention("[[agora]] and [[flancia]]", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Replied || out.SkipReason != SkipDuplicate {
		t.Errorf("outcome = %+v, want duplicate skip under all gate", out)
	}
}
