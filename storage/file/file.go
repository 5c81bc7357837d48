// Package file provides a storage.Storage backed by JSON documents on disk,
// one document per profile. It is the default store for the CLI: the session
// survives restarts and other processes observe writes through Watch.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/paddock/storage"
)

const fileExt = ".json"

// Storage implements storage.Storage and storage.Watcher on a directory.
type Storage struct {
	dir string
	log *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option customizes a Storage.
type Option func(*Storage)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) {
		if l != nil {
			s.log = l
		}
	}
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type document map[string]storedItem

// New creates (if needed) dir with 0700 permissions and returns a Storage
// rooted there.
func New(dir string, opts ...Option) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("file storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file storage: create %s: %w", dir, err)
	}
	s := &Storage{dir: dir, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory backing the store.
func (s *Storage) Dir() string { return s.dir }

// Get retrieves data for a key within the selected profile.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	doc, err := s.read(options.Profile)
	if err != nil {
		return nil, err
	}
	it, ok := doc[key]
	if !ok {
		return nil, nil
	}
	item := &storage.Item{Data: it.Data, CreatedAt: it.CreatedAt, ExpiresAt: it.ExpiresAt}
	if item.IsExpired() {
		delete(doc, key)
		if err := s.write(options.Profile, doc); err != nil {
			s.log.Warn("storage.file.expire.fail", slog.String("err", err.Error()))
		}
		return nil, nil
	}
	return item, nil
}

// Set stores data for a key within the selected profile.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	doc, err := s.read(options.Profile)
	if err != nil {
		return err
	}
	now := time.Now()
	it := storedItem{Data: append([]byte(nil), data...), CreatedAt: now}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		it.ExpiresAt = &expiresAt
	}
	doc[key] = it
	return s.write(options.Profile, doc)
}

// Delete removes one key (WithKey) or the profile document entirely.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	if options.Key == nil {
		err := os.Remove(s.path(options.Profile))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file storage: remove profile: %w", err)
		}
		return nil
	}

	doc, err := s.read(options.Profile)
	if err != nil {
		return err
	}
	if _, ok := doc[*options.Key]; !ok {
		return nil
	}
	delete(doc, *options.Key)
	return s.write(options.Profile, doc)
}

// Close marks the store closed. Files are left on disk.
func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Watch blocks until ctx is done, calling fn whenever a profile document in
// the directory is written, replaced or removed. The key passed to fn is
// always "" because a document change can touch several keys at once.
func (s *Storage) Watch(ctx context.Context, fn func(key string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file storage: watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("file storage: watch %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			fn("")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Debug("storage.file.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (s *Storage) path(profile string) string {
	return filepath.Join(s.dir, url.PathEscape(profile)+fileExt)
}

func (s *Storage) read(profile string) (document, error) {
	b, err := os.ReadFile(s.path(profile))
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file storage: read profile: %w", err)
	}
	doc := document{}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("file storage: decode profile %q: %w", profile, err)
	}
	return doc, nil
}

// write replaces the profile document atomically via a temp file and rename.
func (s *Storage) write(profile string, doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("file storage: encode profile: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("file storage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file storage: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file storage: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path(profile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: rename: %w", err)
	}
	return nil
}

var (
	_ storage.Storage = (*Storage)(nil)
	_ storage.Watcher = (*Storage)(nil)
)
