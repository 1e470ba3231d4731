// Package cache holds short-lived derived data (chat lists, unread counts)
// keyed per user. Entries are advisory: coordinators invalidate on mutation
// and callers fall back to the store on a miss.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/teamloop/teamloop/config"
)

const DefaultTTL = 5 * time.Minute

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

func ChatListKey(userId string) string {
	return fmt.Sprintf("chats:%s", userId)
}

func UnreadCountKey(userId string) string {
	return fmt.Sprintf("unread:%s", userId)
}

// InvalidateUsers drops every cached projection for the given users.
func InvalidateUsers(ctx context.Context, c Cache, userIds ...string) error {
	keys := make([]string, 0, len(userIds)*2)
	for _, id := range userIds {
		keys = append(keys, ChatListKey(id), UnreadCountKey(id))
	}
	return c.Delete(ctx, keys...)
}

// NewCache selects the backend from the configuration, "buntdb" (embedded)
// or "redis".
func NewCache(cfg *config.Config) (Cache, error) {
	switch cfg.CacheConfig.Type {
	case "redis":
		return NewRedisCache(cfg)

	case "buntdb", "":
		return NewBuntCache(cfg)
	}
	return nil, fmt.Errorf("invalid cache configuration: %s", cfg.CacheConfig.Type)
}
