package database

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*CachedDatabaseService, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cached := NewCachedDatabaseService(newTestDB(t), client, time.Minute, "test:")
	return cached, server
}

func TestCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cached, server := newTestCache(t)

	id, err := cached.CreateImage(ctx, "image/png", strPtr("a.png"), []byte("first"), nil)
	if err != nil {
		t.Fatalf("CreateImage error: %v", err)
	}
	key := cached.cacheKey(id)
	if server.Exists(key) {
		t.Fatalf("expected no cache entry before the first read")
	}

	img, err := cached.GetImageByID(ctx, id)
	if err != nil || img == nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if !server.Exists(key) {
		t.Fatalf("expected cache entry %s after read", key)
	}
	if ttl := server.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within one minute, got %v", ttl)
	}

	again, err := cached.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("cached GetImageByID error: %v", err)
	}
	if again.ID != id || !bytes.Equal(again.Data, []byte("first")) || *again.OriginalName != "a.png" {
		t.Errorf("unexpected cached image %+v", again)
	}
}

func TestCache_UpdateInvalidates(t *testing.T) {
	ctx := context.Background()
	cached, server := newTestCache(t)

	id, _ := cached.CreateImage(ctx, "image/png", nil, []byte("old"), nil)
	if _, err := cached.GetImageByID(ctx, id); err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}

	if err := cached.UpdateImage(ctx, id, "image/png", []byte("new"), nil); err != nil {
		t.Fatalf("UpdateImage error: %v", err)
	}
	if server.Exists(cached.cacheKey(id)) {
		t.Fatal("expected cache entry to be dropped after update")
	}

	img, err := cached.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if !bytes.Equal(img.Data, []byte("new")) {
		t.Fatalf("expected fresh data after update, got %q", img.Data)
	}
}

func TestCache_MissingImageNotCached(t *testing.T) {
	cached, server := newTestCache(t)

	img, err := cached.GetImageByID(context.Background(), 123)
	if err != nil || img != nil {
		t.Fatalf("expected nil, nil, got %v, %v", img, err)
	}
	if server.Exists(cached.cacheKey(123)) {
		t.Fatal("expected no cache entry for a missing image")
	}
}

func TestCache_RedisDownFallsBackToDatabase(t *testing.T) {
	ctx := context.Background()
	cached, server := newTestCache(t)

	id, _ := cached.CreateImage(ctx, "image/png", nil, []byte("data"), nil)
	server.Close()

	img, err := cached.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("expected database fallback, got error %v", err)
	}
	if img == nil || !bytes.Equal(img.Data, []byte("data")) {
		t.Fatalf("unexpected image %+v", img)
	}
	if err := cached.UpdateImage(ctx, id, "image/png", []byte("x"), nil); err != nil {
		t.Fatalf("expected update to succeed without redis, got %v", err)
	}
}

func TestCache_CorruptEntryIgnored(t *testing.T) {
	ctx := context.Background()
	cached, server := newTestCache(t)

	id, _ := cached.CreateImage(ctx, "image/png", nil, []byte("data"), nil)
	if err := server.Set(cached.cacheKey(id), "{not json"); err != nil {
		t.Fatalf("miniredis Set error: %v", err)
	}

	img, err := cached.GetImageByID(ctx, id)
	if err != nil || img == nil || !bytes.Equal(img.Data, []byte("data")) {
		t.Fatalf("expected database copy, got %+v, %v", img, err)
	}
}

// racingDatabase runs onRead once, right after the first database read returns.
type racingDatabase struct {
	DatabaseService
	once   sync.Once
	onRead func()
}

func (r *racingDatabase) GetImageByID(ctx context.Context, id int64) (*Image, error) {
	image, err := r.DatabaseService.GetImageByID(ctx, id)
	r.once.Do(r.onRead)
	return image, err
}

func TestCache_UpdateDuringFillIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	inner := &racingDatabase{DatabaseService: newTestDB(t)}
	cached := NewCachedDatabaseService(inner, client, time.Minute, "test:")

	id, err := cached.CreateImage(ctx, "image/png", nil, []byte("old"), nil)
	if err != nil {
		t.Fatalf("CreateImage error: %v", err)
	}
	inner.onRead = func() {
		if err := cached.UpdateImage(ctx, id, "image/png", []byte("new"), nil); err != nil {
			t.Errorf("UpdateImage error: %v", err)
		}
	}

	if _, err := cached.GetImageByID(ctx, id); err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if server.Exists(cached.cacheKey(id)) {
		t.Fatal("expected the fill that raced an update to be dropped")
	}

	img, err := cached.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if !bytes.Equal(img.Data, []byte("new")) {
		t.Fatalf("expected updated data, got %q", img.Data)
	}
	again, _ := cached.GetImageByID(ctx, id)
	if !bytes.Equal(again.Data, []byte("new")) {
		t.Fatalf("expected updated data from the cache, got %q", again.Data)
	}
}

func TestCache_UpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	cached, server := newTestCache(t)

	id, _ := cached.CreateImage(ctx, "image/png", nil, []byte("a"), nil)
	for i := 0; i < 2; i++ {
		if err := cached.UpdateImage(ctx, id, "image/png", []byte("b"), nil); err != nil {
			t.Fatalf("UpdateImage error: %v", err)
		}
	}
	version, err := server.Get(cached.versionKey(id))
	if err != nil || version != "2" {
		t.Fatalf("expected version 2, got %q (%v)", version, err)
	}
	if ttl := server.TTL(cached.versionKey(id)); ttl != 2*time.Minute {
		t.Errorf("expected version ttl of twice the cache ttl, got %v", ttl)
	}
}
