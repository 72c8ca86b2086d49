package replicator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
)

// CursorStore remembers how far a replica has read in each namespace's log.
type CursorStore interface {
	// Get returns the saved cursor for ns,
	// or the zero cursor if there is none.
	Get(ctx context.Context, ns rbs.NamespaceID) (replication.Cursor, error)

	// Set saves the cursor for ns.
	Set(ctx context.Context, ns rbs.NamespaceID, c replication.Cursor) error
}

// MemCursors is an in-memory CursorStore.
type MemCursors struct {
	mu      sync.Mutex
	cursors map[rbs.NamespaceID]replication.Cursor
}

var _ CursorStore = &MemCursors{}

func (m *MemCursors) Get(_ context.Context, ns rbs.NamespaceID) (replication.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[ns], nil
}

func (m *MemCursors) Set(_ context.Context, ns rbs.NamespaceID, c replication.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursors == nil {
		m.cursors = make(map[rbs.NamespaceID]replication.Cursor)
	}
	m.cursors[ns] = c
	return nil
}

// FileCursors is a CursorStore keeping all cursors in one JSON file.
// The file is replaced atomically on each Set.
type FileCursors struct {
	Path string

	mu sync.Mutex
}

var _ CursorStore = &FileCursors{}

type fileCursor struct {
	Bucket string `json:"bucket"`
	Event  string `json:"event"`
}

// Caller must hold the lock.
func (f *FileCursors) load() (map[rbs.NamespaceID]fileCursor, error) {
	m := make(map[rbs.NamespaceID]fileCursor)

	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", f.Path)
	}
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", f.Path)
	}
	return m, nil
}

func (f *FileCursors) Get(_ context.Context, ns rbs.NamespaceID) (replication.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		return replication.Cursor{}, err
	}
	fc, ok := m[ns]
	if !ok {
		return replication.Cursor{}, nil
	}
	c, err := replication.ParseCursor(fc.Bucket, fc.Event)
	return c, errors.Wrapf(err, "parsing cursor of %s in %s", ns, f.Path)
}

func (f *FileCursors) Set(_ context.Context, ns rbs.NamespaceID, c replication.Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		return err
	}
	if c.IsZero() {
		delete(m, ns)
	} else {
		m[ns] = fileCursor{Bucket: c.Bucket, Event: c.Event.String()}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding cursors")
	}

	dir := filepath.Dir(f.Path)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "ensuring %s exists", dir)
	}
	tmp, err := os.CreateTemp(dir, "cursors-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), f.Path), "renaming %s to %s", tmp.Name(), f.Path)
}
