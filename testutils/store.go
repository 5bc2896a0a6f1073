// testutils/store.go
package testutils

import (
	"context"
	"sync"

	"oraguard/store"
)

// MockStore is an in-memory Store that signals block and audit calls via
// channels, so tests can assert asynchronous side effects without sleeping.
type MockStore struct {
	mu          sync.RWMutex
	blocked     map[int64]store.BlockRecord
	audits      []store.AuditEntry
	errToReturn error

	BlockSignal chan int64
	AuditSignal chan store.AuditEntry
}

func NewMockStore(bufferSize int) *MockStore {
	return &MockStore{
		blocked:     make(map[int64]store.BlockRecord),
		BlockSignal: make(chan int64, bufferSize),
		AuditSignal: make(chan store.AuditEntry, bufferSize),
	}
}

func (s *MockStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errToReturn = err
}

func (s *MockStore) IsUserBlocked(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.errToReturn != nil {
		return false, s.errToReturn
	}
	_, ok := s.blocked[userID]
	return ok, nil
}

func (s *MockStore) BlockUser(ctx context.Context, userID int64, reason store.BlockReason, note string) error {
	s.mu.Lock()
	if s.errToReturn != nil {
		err := s.errToReturn
		s.mu.Unlock()
		return err
	}
	s.blocked[userID] = store.BlockRecord{UserID: userID, Reason: reason, Note: note}
	s.mu.Unlock()

	// notify test
	s.BlockSignal <- userID
	return nil
}

func (s *MockStore) UnblockUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	delete(s.blocked, userID)
	return nil
}

func (s *MockStore) AppendAuditLog(ctx context.Context, entry store.AuditEntry) error {
	s.mu.Lock()
	if s.errToReturn != nil {
		err := s.errToReturn
		s.mu.Unlock()
		return err
	}
	s.audits = append(s.audits, entry)
	s.mu.Unlock()

	s.AuditSignal <- entry
	return nil
}

func (s *MockStore) Close() error { return nil }

// BlockCount returns how many users are currently blocked.
func (s *MockStore) BlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocked)
}

// BlockedReason returns the recorded reason for a blocked user.
func (s *MockStore) BlockedReason(userID int64) (store.BlockReason, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.blocked[userID]
	return rec.Reason, ok
}

// Audits returns a copy of the recorded audit entries.
func (s *MockStore) Audits() []store.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}
