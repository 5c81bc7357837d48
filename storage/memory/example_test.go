package memory_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ggoodman/paddock/storage"
	"github.com/ggoodman/paddock/storage/memory"
)

func Example() {
	store, err := memory.New(1000)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	// One profile per backend keeps sessions for different servers apart.
	prod := storage.WithProfile("fantasy.example.com")
	local := storage.WithProfile("localhost:5000")
	_ = store.Set(ctx, "tc2000_token", []byte("prod-token"), prod)
	_ = store.Set(ctx, "tc2000_token", []byte("local-token"), local)

	item, _ := store.Get(ctx, "tc2000_token", prod)
	fmt.Println(string(item.Data))

	// Keys may expire.
	_ = store.Set(ctx, "nonce", []byte("x"), local, storage.WithTTL(time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	item, _ = store.Get(ctx, "nonce", local)
	fmt.Println(item == nil)

	// Deleting without WithKey drops the whole profile.
	_ = store.Delete(ctx, local)
	item, _ = store.Get(ctx, "tc2000_token", local)
	fmt.Println(item == nil)

	item, _ = store.Get(ctx, "tc2000_token", prod)
	fmt.Println(string(item.Data))

	// Output:
	// prod-token
	// true
	// true
	// prod-token
}
