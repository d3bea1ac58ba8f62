package router

import (
	"reflect"
	"testing"

	"github.com/anagora/agora-bridge/internal/bus"
)

type alwaysHint struct{}

func (alwaysHint) Hint(bus.InboundMessage) (string, bool) {
	return "wrap a topic in [[double brackets]] to link it", true
}

func TestClassify(t *testing.T) {
	r := New([]string{"noisy"}, nil)

	tests := []struct {
		name string
		msg  bus.InboundMessage
		want Intent
	}{
		{
			name: "wikilink",
			msg:  bus.InboundMessage{Author: "alice", Text: "thinking about [[agora]]"},
			want: Intent{Kind: KindWikilink, Entities: []string{"agora"}},
		},
		{
			name: "hashtag when no wikilink",
			msg:  bus.InboundMessage{Author: "alice", Text: "thinking about #agora"},
			want: Intent{Kind: KindHashtag, Entities: []string{"agora"}},
		},
		{
			name: "wikilink outranks hashtag",
			msg:  bus.InboundMessage{Author: "alice", Text: "[[agora]] and #flancia"},
			want: Intent{Kind: KindWikilink, Entities: []string{"agora"}},
		},
		{
			name: "push outranks wikilink",
			msg:  bus.InboundMessage{Author: "alice", Text: "[[push]] [[agora]]"},
			want: Intent{Kind: KindPush, Entities: []string{"agora", "push"}},
		},
		{
			name: "push is case insensitive",
			msg:  bus.InboundMessage{Author: "alice", Text: "[[PUSH]] please"},
			want: Intent{Kind: KindPush, Entities: []string{"push"}},
		},
		{
			name: "plain text matches nothing",
			msg:  bus.InboundMessage{Author: "alice", Text: "hello there"},
			want: Intent{Kind: KindNone},
		},
		{
			name: "reshare is dropped even with entities",
			msg:  bus.InboundMessage{Author: "alice", Text: "[[agora]]", IsReshare: true},
			want: Intent{Kind: KindNone},
		},
		{
			name: "excluded author is dropped before rules run",
			msg:  bus.InboundMessage{Author: "noisy", Text: "[[agora]] #everything"},
			want: Intent{Kind: KindNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Classify(tt.msg)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassify_AtMostOneRule(t *testing.T) {
	// A message matching every rule must yield exactly one intent kind.
	r := New(nil, nil)
	got := r.Classify(bus.InboundMessage{Author: "alice", Text: "[[push]] [[agora]] #flancia"})
	if got.Kind != KindPush {
		t.Errorf("Kind = %q, want %q", got.Kind, KindPush)
	}
}

func TestClassify_HintOnlyOnDefault(t *testing.T) {
	r := New(nil, alwaysHint{})

	got := r.Classify(bus.InboundMessage{Author: "alice", Text: "hello"})
	if got.Kind != KindNone || got.Hint == "" {
		t.Errorf("unmatched message = %+v, want KindNone with hint", got)
	}

	got = r.Classify(bus.InboundMessage{Author: "alice", Text: "[[agora]]"})
	if got.Hint != "" {
		t.Errorf("matched message carries hint %q, want none", got.Hint)
	}
}

func TestProbabilisticHint(t *testing.T) {
	always := ProbabilisticHint{Probability: 1, Text: "try [[brackets]]", Rand: func() float64 { return 0.5 }}
	if _, ok := always.Hint(bus.InboundMessage{}); !ok {
		t.Error("probability 1 did not hint")
	}

	never := ProbabilisticHint{Probability: 0, Text: "try [[brackets]]"}
	if _, ok := never.Hint(bus.InboundMessage{}); ok {
		t.Error("probability 0 hinted")
	}

	half := ProbabilisticHint{Probability: 0.5, Text: "try [[brackets]]", Rand: func() float64 { return 0.7 }}
	if _, ok := half.Hint(bus.InboundMessage{}); ok {
		t.Error("roll above probability hinted")
	}
}

func TestClassify_DefaultPolicyNeverHints(t *testing.T) {
	r := New(nil, nil)
	for i := 0; i < 50; i++ {
		if got := r.Classify(bus.InboundMessage{Author: "alice", Text: "hello"}); got.Hint != "" {
			t.Fatalf("default policy produced hint %q", got.Hint)
		}
	}
}
