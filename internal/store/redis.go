// redis.go
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"whisp.share/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps records in redis, gob-encoded under "secret:<id>". The key
// TTL mirrors the record's expiry so redis itself enforces the expiry half of
// the consume predicate; GETDEL makes lookup-and-delete a single server-side
// step, which keeps burn-on-read correct across multiple worker processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Save(ctx context.Context, secret *models.Secret) error {
	data, err := encode(secret)
	if err != nil {
		return err
	}

	ttl := time.Until(secret.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("secret %s already expired at save time", secret.ID)
	}

	ok, err := r.client.SetNX(ctx, secretKey(secret.ID), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateID
	}
	return nil
}

func (r *RedisStore) TryConsume(ctx context.Context, id string, now time.Time) (*models.Secret, error) {
	data, err := r.client.GetDel(ctx, secretKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	secret, err := decode(data)
	if err != nil {
		return nil, err
	}

	// Key TTL normally removes expired records, but the TTL clock is the
	// redis server's; check against the caller's clock as well. The record
	// is already gone either way.
	if secret.Expired(now) {
		return nil, ErrNotFound
	}
	return secret, nil
}

func (r *RedisStore) DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	data, err := r.client.Get(ctx, secretKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	secret, err := decode(data)
	if err != nil {
		return false, err
	}
	if !secret.Expired(now) {
		return false, nil
	}

	// Ids are never reused, so deleting after the check can only remove the
	// same expired record; losing the race to a concurrent consume is benign.
	n, err := r.client.Del(ctx, secretKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) ScanExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string

	iter := r.client.Scan(ctx, 0, secretKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		secret, err := decode(data)
		if err != nil {
			return nil, err
		}
		if secret.Expired(now) {
			ids = append(ids, secret.ID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, secretKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func secretKey(id string) string {
	return "secret:" + id
}

func encode(secret *models.Secret) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(secret); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&secret); err != nil {
		return nil, err
	}
	return &secret, nil
}
