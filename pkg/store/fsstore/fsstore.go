// Package fsstore persists event logs as one append-only JSONL file per
// context under a data directory. The file is the human-readable source of
// truth: one decoded event object per line, in append order.
//
// Writes go through a per-context mutex and a single write(2) of the whole
// batch followed by fsync, so a batch is either fully durable or not visible
// at all. Concurrent appends to different contexts do not contend.
package fsstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/store"
)

const logExt = ".jsonl"

// Store is the filesystem EventStore backend.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-context append locks
}

var _ store.EventStore = (*Store)(nil)

// New creates the data directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the data directory root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// validName rejects context names that would escape the data directory.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("fsstore: empty context name")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("fsstore: invalid context name %q", name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+logExt)
}

// Load reads and decodes the context's log file. A missing file loads as an
// empty log.
func (s *Store) Load(_ context.Context, name string) ([]event.Event, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsstore: open %s: %w", name, err)
	}
	defer f.Close()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("fsstore: %s line %d: %w", name, line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fsstore: read %s: %w", name, err)
	}
	return events, nil
}

// Append encodes the batch and writes it with a single write + fsync.
func (s *Store) Append(_ context.Context, name string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := validName(name); err != nil {
		return err
	}
	if err := store.ValidateBatch(events); err != nil {
		return err
	}

	// Encode the whole batch before touching the file so an encoding error
	// leaves nothing partially written.
	var buf bytes.Buffer
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("fsstore: encode event %s: %w", ev.ID, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fsstore: open %s for append: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("fsstore: append %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsstore: sync %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the context's log file is present.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("fsstore: stat %s: %w", name, err)
	}
	return true, nil
}

// List enumerates the log files in the data directory.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("fsstore: list %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), logExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), logExt))
	}
	sort.Strings(names)
	return names, nil
}
