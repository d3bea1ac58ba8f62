// Package archive persists full message content for opted-in authors. Each
// author gets one stream file that reads as an Agora journal of everything
// they sent through the bridge.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/extract"
)

// Archiver appends messages to per-author stream files under a root
// directory. Safe for concurrent use.
type Archiver struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the stream directory if needed and returns an archiver over
// it.
func New(dir string) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archiver{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the stream root.
func (a *Archiver) Dir() string { return a.dir }

// Entry renders one archive entry. The timestamp is itself a wikilink so
// the Agora threads archives by date.
func Entry(createdAt time.Time, author, ref, text string) string {
	return fmt.Sprintf("- [[%s]] @[[%s]] %s\n\n  - %s\n\n",
		createdAt.UTC().Format(time.RFC3339), author, ref, text)
}

// Append writes msg to the author's stream unless the message reference is
// already present. Returns true when a new entry was written.
func (a *Archiver) Append(ctx context.Context, msg bus.InboundMessage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lock := a.lockFor(msg.Author)
	lock.Lock()
	defer lock.Unlock()

	path := a.pathFor(msg.Author)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read stream %s: %w", path, err)
	}
	ref := msg.Ref()
	if strings.Contains(string(existing), ref) {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open stream %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(Entry(msg.CreatedAt, msg.Author, ref, msg.Text)); err != nil {
		return false, fmt.Errorf("append stream %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return false, fmt.Errorf("sync stream %s: %w", path, err)
	}
	return true, nil
}

func (a *Archiver) pathFor(author string) string {
	return filepath.Join(a.dir, extract.Normalize(author)+".md")
}

func (a *Archiver) lockFor(author string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := extract.Normalize(author)
	if lock, ok := a.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	a.locks[key] = lock
	return lock
}
