// Package htdigest reads Apache-style htdigest files ("user:realm:HA1" per
// line) as a secret source for Digest authentication with pre-hashed
// passwords. Files can be watched and are reloaded when they change.
package htdigest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rhuss/httpauth/pkg/auth"
)

// File is a SecretLookup backed by the entries of one realm in an htdigest
// file. It is safe for concurrent use, including during reloads.
type File struct {
	path  string
	realm string

	mu      sync.RWMutex
	entries map[string]string // username -> HA1
}

var _ auth.SecretLookup = (*File)(nil)

// Load reads path and keeps the entries whose realm equals realm.
func Load(path, realm string) (*File, error) {
	f := &File{path: path, realm: realm}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Parse reads htdigest records from r and returns the HA1 values of realm
// keyed by username. Blank lines and lines starting with '#' are skipped.
func Parse(r io.Reader, realm string) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = ':'
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.LazyQuotes = true

	entries := make(map[string]string)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parsing htdigest: %w", err)
		}
		if rec[0] == "" || rec[2] == "" {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("parsing htdigest: line %d: empty user or hash", line)
		}
		if rec[1] == realm {
			entries[rec[0]] = rec[2]
		}
	}
}

// Format renders one htdigest line.
func Format(username, realm, ha1 string) string {
	return username + ":" + realm + ":" + ha1
}

// Reload re-reads the file. On error the previous entries stay in use.
func (f *File) Reload() error {
	fh, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("opening htdigest file: %w", err)
	}
	defer fh.Close()

	entries, err := Parse(fh, f.realm)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}

	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
	return nil
}

// Len returns the number of users loaded for the realm.
func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// LookupSecret returns the HA1 value for username.
func (f *File) LookupSecret(_ context.Context, username string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ha1, ok := f.entries[username]
	if !ok {
		return "", auth.ErrUnknownUser
	}
	return ha1, nil
}

// Watch reloads the file whenever it changes until ctx is cancelled. The
// parent directory is watched so that editors and tools that replace the
// file by rename are picked up.
func (f *File) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(f.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := f.Reload(); err != nil {
				slog.Warn("htdigest reload failed", "path", f.path, "error", err)
				continue
			}
			slog.Info("htdigest file reloaded", "path", f.path, "users", f.Len())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Debug("fsnotify error", "error", err)
		}
	}
}
