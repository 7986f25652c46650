package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// dedup:{scope}:{id}
	KeyDedup = "dedup:%s:%s"
)

var TTLDedup = 48 * time.Hour

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Dedup is a best-effort "seen before" filter in front of the database's
// unique key. A nil *Dedup always reports unseen.
type Dedup struct {
	rdb   *redis.Client
	scope string
	ttl   time.Duration
}

func NewDedup(rdb *redis.Client, scope string) *Dedup {
	if rdb == nil {
		return nil
	}
	return &Dedup{rdb: rdb, scope: scope, ttl: TTLDedup}
}

// FirstSeen claims id and reports whether this caller was first. Redis errors
// report true so the database check still runs.
func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	if d == nil {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.scope, id), "1", d.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// Forget drops the claim, e.g. when processing failed and a retry must go through.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	if d == nil {
		return nil
	}
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.scope, id)).Err()
}
