package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
)

// Epoch is the process-wide cache validity marker: the configured cache
// version plus the fingerprint of the current system prompt. Entries are
// tagged with a snapshot at write time and tombstoned at read time when
// either part no longer matches. Readers always observe a consistent
// (version, prompt hash) pair.
type Epoch struct {
	state atomic.Pointer[epochState]
}

type epochState struct {
	version    string
	promptHash string
	counter    uint64
}

// EpochSnapshot is an immutable view of the epoch.
type EpochSnapshot struct {
	Version    string
	PromptHash string
	Counter    uint64
}

// NewEpoch creates an epoch with the given cache version and no prompt
// fingerprint yet.
func NewEpoch(version string) *Epoch {
	e := &Epoch{}
	e.state.Store(&epochState{version: version})
	return e
}

// Snapshot returns the current epoch values.
func (e *Epoch) Snapshot() EpochSnapshot {
	s := e.state.Load()
	return EpochSnapshot{Version: s.version, PromptHash: s.promptHash, Counter: s.counter}
}

// SetPromptHash installs a new prompt fingerprint. It returns false when the
// hash equals the current one, making repeated notifications a no-op.
func (e *Epoch) SetPromptHash(hash string) bool {
	for {
		cur := e.state.Load()
		if cur.promptHash == hash {
			return false
		}
		next := &epochState{
			version:    cur.version,
			promptHash: hash,
			counter:    cur.counter + 1,
		}
		if e.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// FingerprintPrompt hashes system prompt text into its stored fingerprint.
func FingerprintPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
