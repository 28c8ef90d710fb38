package api

import (
	"context"
	"testing"
	"time"
)

func TestRedisRevokerRoundTrip(t *testing.T) {
	client, m := newTestRedis(t)
	revoker := NewRedisRevoker(client)
	ctx := context.Background()

	revoked, err := revoker.IsRevoked(ctx, "tok")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatalf("unknown token must not be revoked")
	}

	if err := revoker.Revoke(ctx, "tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err = revoker.IsRevoked(ctx, "tok")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("token should be revoked")
	}

	// The entry lapses together with the token's own expiry.
	m.FastForward(2 * time.Hour)
	revoked, err = revoker.IsRevoked(ctx, "tok")
	if err != nil {
		t.Fatalf("is revoked after expiry: %v", err)
	}
	if revoked {
		t.Fatalf("revocation entry should have expired")
	}
}

func TestRedisRevokerIgnoresAlreadyExpired(t *testing.T) {
	client, m := newTestRedis(t)
	revoker := NewRedisRevoker(client)

	if err := revoker.Revoke(context.Background(), "tok", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(m.Keys()) != 0 {
		t.Fatalf("expired tokens need no revocation entry, got %v", m.Keys())
	}
}
