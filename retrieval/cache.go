package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/north-leaf-W/QUT-Assistant/agent"
	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const (
	cachePrefix     = "qut:retrieve:"
	defaultCacheTTL = 10 * time.Minute
)

// Cache keeps retrieval results in Redis. Keys include the corpus version,
// so entries written for another set of documents are never served. Any
// Redis failure is logged and the wrapped retriever answers instead.
type Cache struct {
	client  *redis.Client
	next    agent.Retriever
	version string
	ttl     time.Duration
	log     *slog.Logger
}

func NewCache(client *redis.Client, next agent.Retriever, version string, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		client:  client,
		next:    next,
		version: version,
		ttl:     ttl,
		log:     log.With(sl.Module("retrieval-cache"), slog.String("corpus", version)),
	}
}

func (c *Cache) Retrieve(ctx context.Context, query string) ([]core.Document, error) {
	key := cacheKey(c.version, query)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []core.Document
		decodeErr := json.Unmarshal(data, &cached)
		if decodeErr == nil {
			return cached, nil
		}
		c.log.Warn("decoding cached documents", sl.Err(decodeErr))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("reading cache", sl.Err(err))
	}

	docs, err := c.next.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(docs)
	if err != nil {
		c.log.Warn("encoding documents", sl.Err(err))
		return docs, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("writing cache", sl.Err(err))
	}
	return docs, nil
}

func cacheKey(version, query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return cachePrefix + version + ":" + hex.EncodeToString(sum[:])
}

// NewRedisClient connects and pings within two seconds.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
