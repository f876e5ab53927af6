package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

const (
	ruleKeyPrefix = "docextract:sla_rule:"
	missingMarker = "-"
)

// KV is the subset of go-redis the cache needs.
type KV interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// SlaRuleCache is a read-through cache in front of an SLA rule store. Absent
// rules are cached too, since most (user, docType) pairs use the default.
// A Redis failure never fails a read; the store answers instead.
type SlaRuleCache struct {
	kv    KV
	inner ports.SlaRuleStore
	ttl   time.Duration
}

func NewSlaRuleCache(kv KV, inner ports.SlaRuleStore, ttl time.Duration) *SlaRuleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SlaRuleCache{kv: kv, inner: inner, ttl: ttl}
}

func ruleKey(userID, docType string) string {
	return ruleKeyPrefix + userID + ":" + docType
}

func (c *SlaRuleCache) Get(ctx context.Context, userID, docType string) (*domain.SlaRule, error) {
	key := ruleKey(userID, docType)
	raw, err := c.kv.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == missingMarker {
			return nil, domain.WrapError(domain.ErrNotFound, "get sla rule", fmt.Errorf("sla rule %s/%s", userID, docType))
		}
		var rule domain.SlaRule
		if jsonErr := json.Unmarshal([]byte(raw), &rule); jsonErr == nil {
			return &rule, nil
		}
		slog.Warn("sla_rule_cache_corrupt", "key", key)
	case !errors.Is(err, goredis.Nil):
		slog.Warn("sla_rule_cache_read_failed", "key", key, "error", err)
	}

	rule, err := c.inner.Get(ctx, userID, docType)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			c.store(ctx, key, missingMarker)
		}
		return nil, err
	}
	if encoded, jsonErr := json.Marshal(rule); jsonErr == nil {
		c.store(ctx, key, string(encoded))
	}
	return rule, nil
}

func (c *SlaRuleCache) Upsert(ctx context.Context, rule domain.SlaRule) error {
	if err := c.inner.Upsert(ctx, rule); err != nil {
		return err
	}
	if err := c.kv.Del(ctx, ruleKey(rule.UserID, rule.DocType)).Err(); err != nil {
		slog.Warn("sla_rule_cache_invalidate_failed", "user_id", rule.UserID, "doc_type", rule.DocType, "error", err)
	}
	return nil
}

func (c *SlaRuleCache) List(ctx context.Context, userID string) ([]domain.SlaRule, error) {
	return c.inner.List(ctx, userID)
}

func (c *SlaRuleCache) store(ctx context.Context, key, value string) {
	if err := c.kv.Set(ctx, key, value, c.ttl).Err(); err != nil {
		slog.Warn("sla_rule_cache_write_failed", "key", key, "error", err)
	}
}

// Open parses url and pings the server. An empty url disables the cache.
func Open(ctx context.Context, url string) (*goredis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
