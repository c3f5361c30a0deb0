package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryNonceStoreSingleUse(t *testing.T) {
	t.Parallel()
	store := NewMemoryNonceStore(2*time.Minute, &fixedClock{timestamp: time.Unix(1000, 0)})

	token, err := store.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	if err := store.Consume(context.Background(), token); err != nil {
		t.Fatalf("consume nonce: %v", err)
	}
	if err := store.Consume(context.Background(), token); !errors.Is(err, ErrNonceNotFound) {
		t.Fatalf("expected ErrNonceNotFound, got %v", err)
	}
	if store.Pending() != 0 {
		t.Fatalf("expected no pending nonces, got %d", store.Pending())
	}
}

func TestMemoryNonceStoreExpiry(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{timestamp: time.Unix(1000, 0)}
	store := NewMemoryNonceStore(time.Minute, clock)

	token, err := store.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	clock.timestamp = clock.timestamp.Add(2 * time.Minute)

	if err := store.Consume(context.Background(), token); !errors.Is(err, ErrNonceExpired) {
		t.Fatalf("expected ErrNonceExpired, got %v", err)
	}
}

func TestMemoryNonceStorePurgesExpiredOnIssue(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{timestamp: time.Unix(1000, 0)}
	store := NewMemoryNonceStore(time.Minute, clock)

	if _, err := store.Issue(context.Background()); err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	clock.timestamp = clock.timestamp.Add(5 * time.Minute)
	if _, err := store.Issue(context.Background()); err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	if store.Pending() != 1 {
		t.Fatalf("expected expired nonce purged, got %d pending", store.Pending())
	}
}
