package retrieval

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-leaf-W/QUT-Assistant/core"
)

type countingRetriever struct {
	docs  []core.Document
	err   error
	calls int
}

func (c *countingRetriever) Retrieve(context.Context, string) ([]core.Document, error) {
	c.calls++
	return c.docs, c.err
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestCacheServesRepeatedQuery(t *testing.T) {
	srv, client := newTestRedis(t)
	next := &countingRetriever{docs: []core.Document{{Content: "八点开门", Metadata: map[string]any{"source": "library.txt"}}}}
	cache := NewCache(client, next, "v1", time.Minute, testLogger())

	first, err := cache.Retrieve(context.Background(), "图书馆")
	require.NoError(t, err)
	second, err := cache.Retrieve(context.Background(), " 图书馆 ")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.True(t, srv.Exists(cacheKey("v1", "图书馆")))
	assert.Equal(t, time.Minute, srv.TTL(cacheKey("v1", "图书馆")))

	srv.FastForward(2 * time.Minute)
	_, err = cache.Retrieve(context.Background(), "图书馆")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCacheFallsThroughWhenRedisDown(t *testing.T) {
	srv, client := newTestRedis(t)
	srv.Close()
	next := &countingRetriever{docs: []core.Document{{Content: "x"}}}
	cache := NewCache(client, next, "v1", 0, testLogger())

	docs, err := cache.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, next.docs, docs)
	assert.Equal(t, 1, next.calls)
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	srv, client := newTestRedis(t)
	next := &countingRetriever{err: errors.New("index offline")}
	cache := NewCache(client, next, "v1", time.Minute, testLogger())

	_, err := cache.Retrieve(context.Background(), "q")
	assert.EqualError(t, err, "index offline")
	assert.False(t, srv.Exists(cacheKey("v1", "q")))
}

func TestCacheLogsCorruptEntry(t *testing.T) {
	srv, client := newTestRedis(t)
	require.NoError(t, srv.Set(cacheKey("v1", "q"), "not json"))

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	next := &countingRetriever{docs: []core.Document{{Content: "fresh"}}}
	cache := NewCache(client, next, "v1", time.Minute, log)

	docs, err := cache.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, next.docs, docs)
	assert.Equal(t, 1, next.calls)
	assert.Contains(t, logs.String(), "decoding cached documents")
	assert.Contains(t, logs.String(), "invalid character")
	assert.NotContains(t, logs.String(), `error=""`)
}

func TestCacheKeyedByCorpusVersion(t *testing.T) {
	_, client := newTestRedis(t)
	next := &countingRetriever{docs: []core.Document{{Content: "old"}}}

	_, err := NewCache(client, next, "v1", time.Minute, testLogger()).Retrieve(context.Background(), "q")
	require.NoError(t, err)
	_, err = NewCache(client, next, "v2", time.Minute, testLogger()).Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
	assert.NotEqual(t, cacheKey("v1", "q"), cacheKey("v2", "q"))
}
