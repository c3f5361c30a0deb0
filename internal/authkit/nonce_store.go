package authkit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

const loginNonceByteLength = 32

var (
	// ErrNonceNotFound indicates the login state was never issued or was already used.
	ErrNonceNotFound = errors.New("login_nonce.not_found")
	// ErrNonceExpired indicates the login state outlived its TTL.
	ErrNonceExpired = errors.New("login_nonce.expired")
)

// NonceStore issues the one-time state values carried through the identity login redirect.
type NonceStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, token string) error
}

// MemoryNonceStore keeps login nonces in process memory.
type MemoryNonceStore struct {
	mutex   sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	clock   Clock
}

// NewMemoryNonceStore constructs a nonce store; a nil clock uses wall time.
func NewMemoryNonceStore(ttl time.Duration, clock Clock) *MemoryNonceStore {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &MemoryNonceStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		clock:   clock,
	}
}

// Issue mints a nonce valid for the store TTL.
func (store *MemoryNonceStore) Issue(ctx context.Context) (string, error) {
	buffer := make([]byte, loginNonceByteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("login_nonce.random: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buffer)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.clock.Now()
	store.purgeExpiredLocked(now)
	store.entries[token] = now.Add(store.ttl)
	return token, nil
}

// Consume invalidates token; it succeeds at most once per issued value.
func (store *MemoryNonceStore) Consume(ctx context.Context, token string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.clock.Now()
	expiry, ok := store.entries[token]
	delete(store.entries, token)
	store.purgeExpiredLocked(now)
	if !ok {
		return ErrNonceNotFound
	}
	if now.After(expiry) {
		return ErrNonceExpired
	}
	return nil
}

// Pending reports how many nonces are outstanding.
func (store *MemoryNonceStore) Pending() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}

func (store *MemoryNonceStore) purgeExpiredLocked(now time.Time) {
	for token, expiry := range store.entries {
		if now.After(expiry) {
			delete(store.entries, token)
		}
	}
}
