package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one append-only `<node>.md` per node key under a
// directory, the format the Agora consumes directly. Check-then-append for
// a node is serialized by a per-node mutex; distinct nodes append
// concurrently.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create ledger dir %s: %v", ErrUnavailable, dir, err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the ledger directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) nodeLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *FileStore) nodePath(key string) string {
	return filepath.Join(s.dir, key+".md")
}

// LogIfNew implements Store. The existence check and the append hold the
// node's lock together, so concurrent callers cannot duplicate a line.
func (s *FileStore) LogIfNew(ctx context.Context, node, author, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := nodeKey(node)
	if key == "" {
		return false, fmt.Errorf("%w: empty node key for %q", ErrUnavailable, node)
	}

	lock := s.nodeLock(key)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.readRecord(key)
	if err != nil {
		return false, err
	}
	if strings.Contains(record, ref) {
		return false, nil
	}

	f, err := os.OpenFile(s.nodePath(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("%w: open node %s: %v", ErrUnavailable, key, err)
	}
	defer f.Close()

	if _, err := f.WriteString(EntryLine(author, ref)); err != nil {
		return false, fmt.Errorf("%w: append to node %s: %v", ErrUnavailable, key, err)
	}
	if err := f.Sync(); err != nil {
		return false, fmt.Errorf("%w: sync node %s: %v", ErrUnavailable, key, err)
	}
	return true, nil
}

// Contains implements Store.
func (s *FileStore) Contains(ctx context.Context, node, marker string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := nodeKey(node)
	if key == "" {
		return false, nil
	}

	lock := s.nodeLock(key)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.readRecord(key)
	if err != nil {
		return false, err
	}
	return strings.Contains(record, marker), nil
}

func (s *FileStore) readRecord(key string) (string, error) {
	data, err := os.ReadFile(s.nodePath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: read node %s: %v", ErrUnavailable, key, err)
	}
	return string(data), nil
}

// Close implements Store. File handles are not held open between calls.
func (s *FileStore) Close() error { return nil }
