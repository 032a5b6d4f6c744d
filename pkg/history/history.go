// Package history keeps a bounded, ordered record of recent conversation
// turns per user. The window is small by design; long-term recall belongs to
// semantic memory.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/recalld/recalld/pkg/kvstore"
)

const keyPrefix = "history:"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrInvalidUser = errors.New("history: user id required")
	ErrInvalidRole = errors.New("history: unknown role")
)

// Turn is a single message in a conversation.
type Turn struct {
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}

// Log is the bounded history over a key-value store. Each user's turns live
// under one key as a newest-first JSON list, capped at maxTurns.
type Log struct {
	kv       kvstore.Store
	maxTurns int

	// userLocks serializes append/trim per user so concurrent appends
	// cannot interleave the read-modify-write. Values are *sync.Mutex.
	userLocks sync.Map
}

// NewLog creates a history log bounded to maxTurns entries per user.
func NewLog(kv kvstore.Store, maxTurns int) *Log {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Log{kv: kv, maxTurns: maxTurns}
}

func (l *Log) lockFor(userID string) *sync.Mutex {
	mu, _ := l.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func historyKey(userID string) string {
	return keyPrefix + userID
}

// Append records a turn, evicting the oldest entries beyond the window.
// Sequence numbers are monotonic per user even across evictions.
func (l *Log) Append(ctx context.Context, userID string, role Role, content string) (Turn, error) {
	if userID == "" {
		return Turn{}, ErrInvalidUser
	}
	if role != RoleUser && role != RoleAssistant {
		return Turn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	turns, err := l.load(ctx, userID)
	if err != nil {
		return Turn{}, err
	}

	var seq uint64 = 1
	if len(turns) > 0 {
		seq = turns[0].Sequence + 1
	}

	turn := Turn{
		UserID:    userID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Sequence:  seq,
	}

	// Newest first, then trim the tail.
	turns = append([]Turn{turn}, turns...)
	if len(turns) > l.maxTurns {
		turns = turns[:l.maxTurns]
	}

	if err := l.store(ctx, userID, turns); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// Recent returns up to limit turns, newest first. limit<=0 returns the full
// window.
func (l *Log) Recent(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	turns, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

// Count reports how many turns are currently retained for the user.
func (l *Log) Count(ctx context.Context, userID string) (int, error) {
	turns, err := l.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(turns), nil
}

// Clear drops the user's history window.
func (l *Log) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}

	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	return l.kv.Delete(ctx, historyKey(userID))
}

func (l *Log) load(ctx context.Context, userID string) ([]Turn, error) {
	raw, found, err := l.kv.Get(ctx, historyKey(userID))
	if err != nil {
		return nil, fmt.Errorf("history: load failed: %w", err)
	}
	if !found {
		return nil, nil
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("history: corrupt window for user %s: %w", userID, err)
	}
	return turns, nil
}

func (l *Log) store(ctx context.Context, userID string, turns []Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("history: marshal failed: %w", err)
	}
	if err := l.kv.Set(ctx, historyKey(userID), string(data), 0); err != nil {
		return fmt.Errorf("history: store failed: %w", err)
	}
	return nil
}
