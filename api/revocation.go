package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevoker keeps a set of signed-out tokens until they would have
// expired anyway, at which point the entries fall out on their own.
type RedisRevoker struct {
	client *redis.Client
}

// NewRedisRevoker creates a revocation tracker using the provided Redis client.
func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client}
}

func revocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "revoked:" + hex.EncodeToString(sum[:])
}

// Revoke marks the token as invalid until its expiry.
func (r *RedisRevoker) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revocationKey(token), 1, ttl).Err()
}

// IsRevoked reports whether the token was signed out.
func (r *RedisRevoker) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
