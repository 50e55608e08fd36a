package voicecache

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/nexusvoice/nexusvoice/internal/tts"
)

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	if _, ok := c.Get(ctx, "key"); ok {
		t.Error("nil cache reported a hit")
	}
	c.Set(ctx, "key", []tts.Voice{{ID: "v1"}})
	c.Invalidate(ctx, "key")
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil cache returned %v", err)
	}
}

func TestNewWithEmptyURLDisablesCache(t *testing.T) {
	c, err := New("", 0, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New(\"\") returned error: %v", err)
	}
	if c != nil {
		t.Error("New(\"\") should return a nil cache")
	}
}

func TestCacheKeyHidesAPIKey(t *testing.T) {
	key := cacheKey("sk-secret-value")
	if key == "voices:sk-secret-value" {
		t.Error("cache key contains the raw API key")
	}
	if key != cacheKey("sk-secret-value") {
		t.Error("cache key is not deterministic")
	}
	if cacheKey("a") == cacheKey("b") {
		t.Error("different keys collide")
	}
}

// getTestCache skips unless REDIS_URL is set.
func getTestCache(t *testing.T) *Cache {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	c, err := New(url, time.Minute, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to connect to Redis: %v", err)
	}
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := getTestCache(t)
	defer c.Close()

	ctx := context.Background()
	voices := []tts.Voice{
		{ID: "v-rachel", Name: "Rachel", Category: "standard"},
		{ID: "v-clone", Name: "My Clone", Category: "cloned"},
	}

	c.Set(ctx, "test-api-key", voices)
	got, ok := c.Get(ctx, "test-api-key")
	if !ok {
		t.Fatal("expected cache hit after Set")
	}
	if len(got) != 2 || got[0].ID != "v-rachel" {
		t.Errorf("got %+v", got)
	}

	c.Invalidate(ctx, "test-api-key")
	if _, ok := c.Get(ctx, "test-api-key"); ok {
		t.Error("expected miss after Invalidate")
	}
}
