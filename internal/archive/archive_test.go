package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anagora/agora-bridge/internal/bus"
)

func TestAppend(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	msg := bus.InboundMessage{
		Channel:   "mastodon",
		ID:        "1234",
		Author:    "alice",
		Text:      "thinking about [[agora]]",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SourceURL: "https://social.example/@alice/1234",
	}

	written, err := a.Append(ctx, msg)
	if err != nil || !written {
		t.Fatalf("first Append = (%v, %v), want (true, nil)", written, err)
	}
	written, err = a.Append(ctx, msg)
	if err != nil || written {
		t.Fatalf("second Append = (%v, %v), want (false, nil)", written, err)
	}

	data, err := os.ReadFile(filepath.Join(a.Dir(), "alice.md"))
	if err != nil {
		t.Fatal(err)
	}
	want := "- [[2025-06-01T12:00:00Z]] @[[alice]] https://social.example/@alice/1234\n\n  - thinking about [[agora]]\n\n"
	if string(data) != want {
		t.Errorf("stream = %q, want %q", data, want)
	}
}

func TestAppend_SeparateStreamsPerAuthor(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, author := range []string{"alice", "bob"} {
		msg := bus.InboundMessage{Channel: "mastodon", ID: author + "-1", Author: author, Text: "hi"}
		if _, err := a.Append(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	for _, author := range []string{"alice", "bob"} {
		data, err := os.ReadFile(filepath.Join(a.Dir(), author+".md"))
		if err != nil {
			t.Fatalf("stream for %s: %v", author, err)
		}
		if !strings.Contains(string(data), "@[["+author+"]]") {
			t.Errorf("stream for %s does not mention them: %q", author, data)
		}
	}
}

func TestAppend_RefFallsBackToChannelAndID(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	msg := bus.InboundMessage{Channel: "telegram", ID: "77", Author: "carol", Text: "hi"}
	if _, err := a.Append(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(a.Dir(), "carol.md"))
	if !strings.Contains(string(data), "telegram:77") {
		t.Errorf("stream entry missing synthesized ref: %q", data)
	}
}
