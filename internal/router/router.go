// Package router classifies inbound messages into at most one handling
// intent. Rules are tried in a fixed priority order; the first match wins.
package router

import (
	"context"
	"math/rand"
	"regexp"

	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/extract"
)

// Kind names the rule that claimed a message.
type Kind string

const (
	KindPush     Kind = "push"
	KindWikilink Kind = "wikilink"
	KindHashtag  Kind = "hashtag"
	KindNone     Kind = "none"
)

var pushRe = regexp.MustCompile(`(?i)\[\[push\]\]`)

// Intent is the routing outcome: which rule matched and which normalized
// entities it extracted. KindNone carries no entities.
type Intent struct {
	Kind     Kind
	Entities []string
	Hint     string
}

// HintPolicy optionally attaches a usage hint to a reply. The default
// policy never hints; a probabilistic one can be injected for instances
// that want occasional onboarding nudges.
type HintPolicy interface {
	Hint(msg bus.InboundMessage) (string, bool)
}

// NoHint is the default HintPolicy.
type NoHint struct{}

func (NoHint) Hint(bus.InboundMessage) (string, bool) { return "", false }

// ProbabilisticHint emits a fixed hint on a fraction of unmatched messages.
// Probability 0 never hints, 1 always does.
type ProbabilisticHint struct {
	Probability float64
	Text        string
	// Rand overrides the random source in tests. Nil uses math/rand.
	Rand func() float64
}

func (p ProbabilisticHint) Hint(bus.InboundMessage) (string, bool) {
	if p.Probability <= 0 || p.Text == "" {
		return "", false
	}
	roll := rand.Float64
	if p.Rand != nil {
		roll = p.Rand
	}
	if roll() >= p.Probability {
		return "", false
	}
	return p.Text, true
}

// PushHandler handles push-command messages. Push is recognized so it can
// be suppressed cleanly, but acting on it is currently disabled.
type PushHandler interface {
	Handle(ctx context.Context, msg bus.InboundMessage, intent Intent) error
}

// DisabledPush acknowledges push commands without doing anything.
type DisabledPush struct{}

func (DisabledPush) Handle(context.Context, bus.InboundMessage, Intent) error { return nil }

// Router applies the rule chain. Zero value is not usable; use New.
type Router struct {
	excluded map[string]struct{}
	hints    HintPolicy
}

// New builds a router. excludedAuthors are dropped before any rule runs.
// hints may be nil, which disables hinting.
func New(excludedAuthors []string, hints HintPolicy) *Router {
	excluded := make(map[string]struct{}, len(excludedAuthors))
	for _, a := range excludedAuthors {
		excluded[a] = struct{}{}
	}
	if hints == nil {
		hints = NoHint{}
	}
	return &Router{excluded: excluded, hints: hints}
}

// Classify returns the single intent for msg.
//
// Reshares and excluded authors never match: a boosted message must not be
// processed again under the booster's identity, and the exclusion list
// exists for accounts whose hashtags are known noise.
//
// Rule order: push, wikilink, hashtag. A message containing [[push]] is a
// command even though it also contains a wikilink.
func (r *Router) Classify(msg bus.InboundMessage) Intent {
	if msg.IsReshare {
		return Intent{Kind: KindNone}
	}
	if _, ok := r.excluded[msg.Author]; ok {
		return Intent{Kind: KindNone}
	}

	switch {
	case pushRe.MatchString(msg.Text):
		return Intent{Kind: KindPush, Entities: extract.Wikilinks(msg.Text)}
	case extract.HasWikilink(msg.Text):
		return Intent{Kind: KindWikilink, Entities: extract.Wikilinks(msg.Text)}
	case extract.HasHashtag(msg.Text):
		return Intent{Kind: KindHashtag, Entities: extract.Hashtags(msg.Text)}
	}

	// Nothing matched. The hint policy may still want to teach the author
	// how to talk to the bridge.
	if hint, ok := r.hints.Hint(msg); ok {
		return Intent{Kind: KindNone, Hint: hint}
	}
	return Intent{Kind: KindNone}
}
