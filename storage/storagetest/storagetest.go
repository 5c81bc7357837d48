// Package storagetest provides a conformance suite that every storage backend
// runs from its own tests.
package storagetest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ggoodman/paddock/storage"
)

// Factory returns a fresh, empty backend for a single subtest. The suite
// closes it when the subtest finishes.
type Factory func(t *testing.T) storage.Storage

// Run executes the full conformance suite against backends built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetNonExistent", testGetNonExistent},
		{"Overwrite", testOverwrite},
		{"TTL", testTTL},
		{"Profiles", testProfiles},
		{"DeleteKey", testDeleteKey},
		{"DeleteMissingKey", testDeleteMissingKey},
		{"DeleteProfile", testDeleteProfile},
		{"DeleteProfileSharedPrefix", testDeleteProfileSharedPrefix},
		{"CallerBufferIsolation", testCallerBufferIsolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte(`{"username":"ana","role":"user"}`)

	if err := s.Set(ctx, "tc2000_user", data); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "tc2000_user")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if !bytes.Equal(item.Data, data) {
		t.Fatalf("Get() returned wrong data: got %s, want %s", item.Data, data)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "non-existent-key")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for non-existent key, got %+v", item)
	}
}

func testOverwrite(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "tc2000_token", []byte("first")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "tc2000_token", []byte("second")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "tc2000_token")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil || string(item.Data) != "second" {
		t.Fatalf("expected overwritten value, got %+v", item)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "ttl-key", []byte("ttl data"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Set() with TTL failed: %v", err)
	}
	item, err := s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("expected item to exist before expiry")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should not be nil for data with TTL")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Get() after expiry failed: %v", err)
	}
	if item != nil {
		t.Fatal("expected nil for expired data")
	}
}

func testProfiles(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "tc2000_token"

	if err := s.Set(ctx, key, []byte("default")); err != nil {
		t.Fatalf("Set() default failed: %v", err)
	}
	if err := s.Set(ctx, key, []byte("staging"), storage.WithProfile("staging")); err != nil {
		t.Fatalf("Set() staging failed: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil || item == nil || string(item.Data) != "default" {
		t.Fatalf("default profile: got %+v, err %v", item, err)
	}
	item, err = s.Get(ctx, key, storage.WithProfile(storage.DefaultProfile))
	if err != nil || item == nil || string(item.Data) != "default" {
		t.Fatalf("explicit default profile: got %+v, err %v", item, err)
	}
	item, err = s.Get(ctx, key, storage.WithProfile("staging"))
	if err != nil || item == nil || string(item.Data) != "staging" {
		t.Fatalf("staging profile: got %+v, err %v", item, err)
	}
	item, err = s.Get(ctx, key, storage.WithProfile("prod"))
	if err != nil {
		t.Fatalf("Get() prod failed: %v", err)
	}
	if item != nil {
		t.Fatal("expected nil for an unrelated profile")
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "tc2000_token", []byte("tok")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "tc2000_user", []byte("{}")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, storage.WithKey("tc2000_token")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	item, err := s.Get(ctx, "tc2000_token")
	if err != nil {
		t.Fatalf("Get() after delete failed: %v", err)
	}
	if item != nil {
		t.Fatal("expected nil after deletion")
	}
	item, err = s.Get(ctx, "tc2000_user")
	if err != nil || item == nil {
		t.Fatalf("sibling key should survive, got %+v err %v", item, err)
	}
}

func testDeleteMissingKey(t *testing.T, s storage.Storage) {
	if err := s.Delete(context.Background(), storage.WithKey("never-set")); err != nil {
		t.Fatalf("Delete() of missing key should succeed, got %v", err)
	}
}

func testDeleteProfile(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	keys := []string{"key1", "key2", "key3"}
	for _, key := range keys {
		if err := s.Set(ctx, key, []byte("data for "+key), storage.WithProfile("doomed")); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}
	if err := s.Set(ctx, "key1", []byte("keep"), storage.WithProfile("kept")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, storage.WithProfile("doomed")); err != nil {
		t.Fatalf("Delete() profile failed: %v", err)
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, storage.WithProfile("doomed"))
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", key, err)
		}
		if item != nil {
			t.Errorf("expected nil after profile deletion for key %s", key)
		}
	}
	item, err := s.Get(ctx, "key1", storage.WithProfile("kept"))
	if err != nil || item == nil || string(item.Data) != "keep" {
		t.Fatalf("other profile should survive, got %+v err %v", item, err)
	}
}

func testDeleteProfileSharedPrefix(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	short := storage.WithProfile("localhost")
	long := storage.WithProfile("localhost:5000")
	glob := storage.WithProfile("local*")

	for _, p := range []storage.Option{short, long, glob} {
		if err := s.Set(ctx, "tc2000_token", []byte("tok"), p); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := s.Delete(ctx, short); err != nil {
		t.Fatalf("Delete() short failed: %v", err)
	}
	if err := s.Delete(ctx, glob); err != nil {
		t.Fatalf("Delete() glob failed: %v", err)
	}
	item, err := s.Get(ctx, "tc2000_token", long)
	if err != nil || item == nil {
		t.Fatalf("profile sharing a prefix was deleted: %+v, %v", item, err)
	}
}

func testCallerBufferIsolation(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	buf := []byte("original")
	if err := s.Set(ctx, "buf", buf); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	copy(buf, "mutated!")

	item, err := s.Get(ctx, "buf")
	if err != nil || item == nil {
		t.Fatalf("Get() failed: %+v %v", item, err)
	}
	if string(item.Data) != "original" {
		t.Fatalf("stored value aliased caller buffer: %s", item.Data)
	}
}
