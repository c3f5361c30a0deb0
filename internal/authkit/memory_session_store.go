package authkit

import (
	"context"
	"sync"
	"time"
)

const memorySweepInterval = time.Minute

// MemorySessionStore is an in-memory SessionStore intended for single-process runs and tests.
// Expired entries are dropped when looked up; the rest are swept at most once per minute.
type MemorySessionStore struct {
	mutex     sync.Mutex
	entries   map[string]*memorySession
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

type memorySession struct {
	DriveState    string
	HasDriveState bool
	Credentials   *CredentialRecord
	UserID        string
	ExpiresAt     time.Time
}

// NewMemorySessionStore constructs a store whose sessions idle out after ttl. A non-positive ttl never expires.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]*memorySession),
		ttl:     ttl,
		now:     time.Now,
	}
}

// DriveState returns the pending anti-forgery state, if any.
func (store *MemorySessionStore) DriveState(ctx context.Context, sessionID string) (string, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry := store.lookupLocked(sessionID)
	if entry == nil || !entry.HasDriveState {
		return "", false, nil
	}
	return entry.DriveState, true, nil
}

// SetDriveState records a new pending state, replacing any previous one.
func (store *MemorySessionStore) SetDriveState(ctx context.Context, sessionID string, state string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry := store.touchLocked(sessionID)
	entry.DriveState = state
	entry.HasDriveState = true
	return nil
}

// ClearDriveState drops the pending state.
func (store *MemorySessionStore) ClearDriveState(ctx context.Context, sessionID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if entry := store.lookupLocked(sessionID); entry != nil {
		entry.DriveState = ""
		entry.HasDriveState = false
	}
	return nil
}

// DriveCredentials returns a copy of the stored grant or nil.
func (store *MemorySessionStore) DriveCredentials(ctx context.Context, sessionID string) (*CredentialRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry := store.lookupLocked(sessionID)
	if entry == nil || entry.Credentials == nil {
		return nil, nil
	}
	return cloneCredentialRecord(*entry.Credentials), nil
}

// SetDriveCredentials replaces the stored grant.
func (store *MemorySessionStore) SetDriveCredentials(ctx context.Context, sessionID string, record CredentialRecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry := store.touchLocked(sessionID)
	entry.Credentials = cloneCredentialRecord(record)
	return nil
}

// ClearDriveCredentials drops the stored grant.
func (store *MemorySessionStore) ClearDriveCredentials(ctx context.Context, sessionID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if entry := store.lookupLocked(sessionID); entry != nil {
		entry.Credentials = nil
	}
	return nil
}

// UserID returns the logged-in user bound to the session.
func (store *MemorySessionStore) UserID(ctx context.Context, sessionID string) (string, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry := store.lookupLocked(sessionID)
	if entry == nil || entry.UserID == "" {
		return "", false, nil
	}
	return entry.UserID, true, nil
}

// SetUserID binds a logged-in user to the session.
func (store *MemorySessionStore) SetUserID(ctx context.Context, sessionID string, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.touchLocked(sessionID).UserID = userID
	return nil
}

// Clear removes the session entirely.
func (store *MemorySessionStore) Clear(ctx context.Context, sessionID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, sessionID)
	return nil
}

func (store *MemorySessionStore) lookupLocked(sessionID string) *memorySession {
	entry, found := store.entries[sessionID]
	if !found {
		return nil
	}
	if store.expiredLocked(entry, store.now()) {
		delete(store.entries, sessionID)
		return nil
	}
	return entry
}

func (store *MemorySessionStore) touchLocked(sessionID string) *memorySession {
	store.sweepLocked()
	entry := store.lookupLocked(sessionID)
	if entry == nil {
		entry = &memorySession{}
		store.entries[sessionID] = entry
	}
	if store.ttl > 0 {
		entry.ExpiresAt = store.now().Add(store.ttl)
	}
	return entry
}

func (store *MemorySessionStore) expiredLocked(entry *memorySession, now time.Time) bool {
	return store.ttl > 0 && now.After(entry.ExpiresAt)
}

func (store *MemorySessionStore) sweepLocked() {
	if store.ttl <= 0 {
		return
	}
	now := store.now()
	if now.Before(store.nextSweep) {
		return
	}
	store.nextSweep = now.Add(memorySweepInterval)
	for sessionID, entry := range store.entries {
		if store.expiredLocked(entry, now) {
			delete(store.entries, sessionID)
		}
	}
}

func cloneCredentialRecord(record CredentialRecord) *CredentialRecord {
	clone := record
	clone.Scopes = append([]string(nil), record.Scopes...)
	return &clone
}
