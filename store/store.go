package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	blockPrefix = "block:"
	auditPrefix = "audit:"
)

// BlockReason classifies why a user account was blocked.
type BlockReason string

const (
	ReasonBotDetected    BlockReason = "bot_detected"
	ReasonRateLimitAbuse BlockReason = "rate_limit_abuse"
	ReasonManualBlock    BlockReason = "manual_block"
	ReasonTermsViolation BlockReason = "terms_violation"
	ReasonOther          BlockReason = "other"
)

// ActivityType classifies a suspicious-activity audit entry.
type ActivityType string

const (
	ActivityBotDetected        ActivityType = "bot_detected"
	ActivityRateLimitAbuse     ActivityType = "rate_limit_abuse"
	ActivityRepetitiveMessages ActivityType = "repetitive_messages"
	ActivityAutomatedPattern   ActivityType = "automated_pattern"
	ActivityHighFrequency      ActivityType = "high_frequency"
)

// BlockRecord is the persisted block flag for a user.
type BlockRecord struct {
	UserID    int64       `json:"user_id"`
	Reason    BlockReason `json:"reason"`
	Note      string      `json:"note,omitempty"`
	BlockedAt time.Time   `json:"blocked_at"`
}

// AuditEntry is one row of the suspicious-activity log.
type AuditEntry struct {
	UserID          int64        `json:"user_id"`
	ActivityType    ActivityType `json:"activity_type"`
	SuspicionScore  float64      `json:"suspicion_score"`
	TriggerMessage  string       `json:"trigger_message,omitempty"`
	ResultedInBlock bool         `json:"resulted_in_block"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Store is the generic interface for the persistence collaborator.
// It allows for easy swapping of the real database with a mock in tests.
type Store interface {
	IsUserBlocked(ctx context.Context, userID int64) (bool, error)
	BlockUser(ctx context.Context, userID int64, reason BlockReason, note string) error
	UnblockUser(ctx context.Context, userID int64) error
	AppendAuditLog(ctx context.Context, entry AuditEntry) error
	Close() error
}

// --- BADGERDB IMPLEMENTATION (PRODUCTION) ---

// BadgerStore is the production-ready implementation of the Store interface using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to be used as a logger for BadgerDB.
type badgerLogger struct {
	*slog.Logger
}

func (l *badgerLogger) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    {}
func (l *badgerLogger) Debugf(f string, v ...any)   {}

// NewBadgerStore initializes and returns a new, optimized BadgerStore.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)

	// Block records and audit rows are small JSON blobs; keep them in the
	// LSM-tree rather than the value log.
	opts.ValueThreshold = 1024

	// Redirect BadgerDB's internal logs to the application's main slog logger.
	opts.Logger = &badgerLogger{slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Close gracefully closes the database connection.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func blockKey(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%d", blockPrefix, userID))
}

// IsUserBlocked checks whether a block record exists for the given user.
func (s *BadgerStore) IsUserBlocked(ctx context.Context, userID int64) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(userID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BlockUser persists a block flag for the user. Blocks have no TTL;
// lifting one is an explicit admin action via UnblockUser.
func (s *BadgerStore) BlockUser(ctx context.Context, userID int64, reason BlockReason, note string) error {
	slog.Info("Blocking user", "user_id", userID, "reason", string(reason))
	record := BlockRecord{
		UserID:    userID,
		Reason:    reason,
		Note:      note,
		BlockedAt: time.Now(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode block record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(userID), value)
	})
}

// UnblockUser removes the block flag for the user.
func (s *BadgerStore) UnblockUser(ctx context.Context, userID int64) error {
	slog.Info("Unblocking user", "user_id", userID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blockKey(userID))
	})
}

// AppendAuditLog stores one suspicious-activity entry. Keys embed the
// creation time in nanoseconds so entries sort chronologically per user.
func (s *BadgerStore) AppendAuditLog(ctx context.Context, entry AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%d:%020d", auditPrefix, entry.UserID, entry.CreatedAt.UnixNano()))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}
