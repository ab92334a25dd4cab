//go:build integration

package durable

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url, "storefront-test:")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	if err := r.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "k"); err != ErrMissing {
		t.Errorf("after delete err = %v, want ErrMissing", err)
	}
}
