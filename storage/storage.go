// Package storage provides the durable key/value contract used to persist a
// session between runs. It plays the role browser localStorage plays for a web
// front-end: a handful of small values, scoped per backend profile, that must
// survive process restarts.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the key/value interface every backend implements.
type Storage interface {
	// Get retrieves data for a key within the selected profile.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns an error only for legitimate storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data for a key within the selected profile, replacing any
	// previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the selected profile.
	// If no key is specified via WithKey, the entire profile is removed.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases resources held by the backend.
	Close() error
}

// Watcher is implemented by backends that can report writes made by other
// processes. fn receives the key that changed, or "" when the backend cannot
// tell which key was touched.
type Watcher interface {
	Watch(ctx context.Context, fn func(key string)) error
}

// Item represents a stored value with metadata.
type Item struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was written
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired.
func (i *Item) IsExpired() bool {
	return i.ExpiresAt != nil && time.Now().After(*i.ExpiresAt)
}

// DefaultProfile is used when no WithProfile option is given.
const DefaultProfile = "default"

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Profile string         // Profile namespace; empty means DefaultProfile
	Key     *string        // Optional: specific key (for Delete operations)
	TTL     *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value with defaults filled in.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Profile == "" {
		o.Profile = DefaultProfile
	}
	return o
}

// WithProfile selects the profile namespace. Profiles isolate sessions for
// different backends or accounts sharing one store.
func WithProfile(name string) Option {
	return func(opts *Options) {
		opts.Profile = name
	}
}

// WithKey specifies a specific key for Delete operations.
// If not provided, Delete removes the entire profile.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: closed")
