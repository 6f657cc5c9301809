package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"todobot/pkg/logx"
)

// documentVersion tags the container schema. A future schema change bumps
// this and adds a migration path on load.
const documentVersion = 1

type documentFile struct {
	Version int               `json:"version"`
	Users   map[string][]byte `json:"users"`
}

// Document is the single on-disk store: a versioned mapping from hashed user
// id to sealed payload blob. It is read once at startup and rewritten
// wholesale on each flush; partial on-disk states are impossible because
// writes go to a temp file that atomically replaces the live one.
type Document struct {
	path string
	log  logx.Logger

	mu    sync.Mutex
	users map[string][]byte
}

// OpenDocument loads the document at path. A missing file yields an empty
// document (first run). A file that exists but cannot be parsed as the
// container format fails with ErrCorruptStore.
func OpenDocument(path string, log logx.Logger) (*Document, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Document{path: path, log: log, users: map[string][]byte{}}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		d.log.Info("store file absent, starting empty", logx.String("path", path))
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(b) == 0 {
		return d, nil
	}

	var file documentFile
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if file.Version <= 0 || file.Version > documentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptStore, file.Version)
	}
	if file.Users != nil {
		d.users = file.Users
	}
	d.log.Info("store loaded", logx.String("path", path), logx.Int("users", len(d.users)))
	return d, nil
}

// Get returns the sealed blob for a digest, if present.
func (d *Document) Get(digest string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.users[digest]
	return b, ok
}

// Digests lists all user digests currently in the document.
func (d *Document) Digests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.users))
	for k := range d.users {
		out = append(out, k)
	}
	return out
}

// Save applies updates to the in-memory mapping and rewrites the whole file.
// A nil blob deletes the entry. The write goes to a temp file in the same
// directory and replaces the live file via rename, so a crash mid-write
// leaves the previous snapshot intact.
func (d *Document) Save(updates map[string][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range updates {
		if v == nil {
			delete(d.users, k)
		} else {
			d.users[k] = v
		}
	}
	return d.writeLocked()
}

func (d *Document) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("store dir: %w", err)
	}

	tmp := d.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store temp: %w", err)
	}
	file := documentFile{Version: documentVersion, Users: d.users}
	if err := json.NewEncoder(f).Encode(file); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store sync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store close: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store rename: %w", err)
	}
	return nil
}
