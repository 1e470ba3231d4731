package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/teamloop/teamloop/config"
	"github.com/tidwall/buntdb"
)

// BuntCache is the embedded cache backend, file backed or ":memory:".
type BuntCache struct {
	db *buntdb.DB
}

var _ Cache = (*BuntCache)(nil)

func NewBuntCache(cfg *config.Config) (*BuntCache, error) {
	path := cfg.CacheConfig.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open buntdb cache")
	}
	return &BuntCache{db: db}, nil
}

func (c *BuntCache) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	err := c.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "cache get failed")
	}
	return value, true, nil
}

func (c *BuntCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if ttl > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: ttl}
		}
		_, _, err := tx.Set(key, value, opts)
		return err
	})
}

func (c *BuntCache) Delete(_ context.Context, keys ...string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

func (c *BuntCache) Close() error {
	return c.db.Close()
}
