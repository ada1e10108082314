package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// inFlight marks a reserved key whose request has not finished yet.
const inFlight = "-"

const defaultTTL = 24 * time.Hour

// Store keeps Idempotency-Key reservations for create-message in Redis.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func New(addr, password string, db int) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: defaultTTL, prefix: "idem:create-message:"}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(k string) string { return s.prefix + k }

// Reserve claims key. ok is true when this caller now owns it. Otherwise prior
// is the value recorded by Complete, or "" while the first request is still
// running.
func (s *Store) Reserve(ctx context.Context, key string) (prior string, ok bool, err error) {
	for i := 0; i < 2; i++ {
		set, err := s.rdb.SetNX(ctx, s.key(key), inFlight, s.ttl).Result()
		if err != nil {
			return "", false, err
		}
		if set {
			return "", true, nil
		}

		v, err := s.rdb.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			// expired or released between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, err
		}
		if v == inFlight {
			return "", false, nil
		}
		return v, false, nil
	}
	return "", false, fmt.Errorf("idempotency key %q: reservation raced", key)
}

// Complete records the outcome for a reserved key.
func (s *Store) Complete(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, s.key(key), value, s.ttl).Err()
}

// Release drops a reservation so the request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}
