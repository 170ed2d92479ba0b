package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anatech/leadscout/shared"
	"github.com/redis/go-redis/v9"
)

func newMiniredisStore(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisSessionStore(rdb, ttl), mr
}

// sessionStoreContract checks issue, validate and revocation on any SessionStore.
func sessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	first, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, err := store.Issue(ctx, "user-2")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first == second {
		t.Fatal("tokens are not unique")
	}

	if userID, err := store.Validate(ctx, first); err != nil || userID != "user-1" {
		t.Errorf("validate = %q, %v", userID, err)
	}
	if _, err := store.Validate(ctx, "forged-token"); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Errorf("forged token: %v", err)
	}

	if err := store.Revoke(ctx, first); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.Validate(ctx, first); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Errorf("revoked token still valid: %v", err)
	}
	if err := store.Revoke(ctx, first); err != nil {
		t.Errorf("revoking twice: %v", err)
	}

	if err := store.RevokeAll(ctx, "user-1"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, err := store.Validate(ctx, second); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Errorf("token survived revoke all: %v", err)
	}
	if userID, err := store.Validate(ctx, other); err != nil || userID != "user-2" {
		t.Errorf("other user's session was revoked: %q, %v", userID, err)
	}

	if err := store.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestMemorySessionStoreContract(t *testing.T) {
	sessionStoreContract(t, NewMemorySessionStore(time.Hour))
}

func TestRedisSessionStoreContract(t *testing.T) {
	store, _ := newMiniredisStore(t, time.Hour)
	sessionStoreContract(t, store)
}

func TestRedisSessionStoreExpiry(t *testing.T) {
	store, mr := newMiniredisStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ttl := mr.TTL(sessionKey(token)); ttl != time.Hour {
		t.Errorf("session ttl = %v", ttl)
	}

	mr.FastForward(time.Hour + time.Second)
	if _, err := store.Validate(ctx, token); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Errorf("expired session: %v", err)
	}
}

func TestRedisSessionStoreUnavailable(t *testing.T) {
	store, mr := newMiniredisStore(t, time.Hour)
	mr.Close()

	if _, err := store.Validate(context.Background(), "token"); shared.CategoryOf(err) != shared.ErrorCategoryDatabase {
		t.Errorf("validate with redis down: %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Error("ping succeeded with redis down")
	}
}
