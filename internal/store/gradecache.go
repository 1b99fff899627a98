package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/carebrief/config"
	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

// GradeCache memoises binary relevance verdicts in redis so repeated
// runs over the same corpus skip redundant grading calls. Cache
// failures degrade to a miss, never to a run failure.
type GradeCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewGradeCache connects to redis per config. The connection is
// verified eagerly so a misconfigured cache fails at startup instead
// of silently missing forever.
func NewGradeCache(cfg config.RedisConfig) (*GradeCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &GradeCache{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[GRADE-CACHE] ", log.LstdFlags),
	}, nil
}

func (c *GradeCache) Close() error { return c.client.Close() }

func (c *GradeCache) GetGrade(ctx context.Context, query string, p core.Passage) (string, bool) {
	val, err := c.client.Get(ctx, gradeKey(query, p)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("get failed: %v", err)
		}
		return "", false
	}
	return val, true
}

func (c *GradeCache) SetGrade(ctx context.Context, query string, p core.Passage, grade string) {
	if err := c.client.Set(ctx, gradeKey(query, p), grade, c.ttl).Err(); err != nil {
		c.logger.Printf("set failed: %v", err)
	}
}

// gradeKey hashes (query, source, normalised content) so the key stays
// bounded regardless of passage length.
func gradeKey(query string, p core.Passage) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(p.Content)), " ")
	sum := sha256.Sum256([]byte(query + "\x00" + p.Source + "\x00" + normalized))
	return "carebrief:grade:" + hex.EncodeToString(sum[:])
}
