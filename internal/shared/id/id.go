// Package id provides centralized ID generation for the bridge.
//
// Four ID families coexist, each with one job:
//   - SessionID: short, human-typeable codes observers paste into a chat
//     front-end. 6 chars from [A-Z0-9], crypto/rand sourced, uniqueness
//     enforced by the caller re-rolling against its live key set.
//   - BatchID: ULIDs stamped on every emitted chunk batch so consumers can
//     reorder deliveries lexicographically.
//   - EventID: UUIDs tagging bus notifications for log correlation.
//   - request IDs: UUIDs correlating one inbound request across trace spans.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed Identifiers
// ============================================================================

// SessionID identifies a bridged process session.
type SessionID string

// BatchID identifies one ordered chunk batch.
type BatchID string

// EventID identifies a bus notification.
type EventID string

func (id SessionID) String() string { return string(id) }
func (id BatchID) String() string   { return string(id) }
func (id EventID) String() string   { return string(id) }

// SessionIDLength is the fixed length of session identifiers.
const SessionIDLength = 6

// sessionAlphabet matches what observers can type without ambiguity tooling.
const sessionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ============================================================================
// Session IDs
// ============================================================================

// NewSessionID generates a random fixed-length session identifier.
func NewSessionID() SessionID {
	buf := make([]byte, SessionIDLength)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		// If crypto/rand fails the host is unusable; predictable session
		// codes would let strangers drive someone else's process.
		panic(fmt.Sprintf("crypto/rand failed: %v - cannot generate session ID", err))
	}
	for i, b := range buf {
		buf[i] = sessionAlphabet[int(b)%len(sessionAlphabet)]
	}
	return SessionID(buf)
}

// UniqueSessionID re-rolls until taken reports the candidate as free.
// The caller holds whatever lock guards its key set.
func UniqueSessionID(taken func(SessionID) bool) SessionID {
	id := NewSessionID()
	for taken(id) {
		id = NewSessionID()
	}
	return id
}

// IsValidSessionID checks shape only, not registration.
func IsValidSessionID(s string) bool {
	if len(s) != SessionIDLength {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ============================================================================
// Batch IDs (ULID)
// ============================================================================

// Generator generates ULIDs for chunk batches.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with secure entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// NewBatchID generates a sortable batch identifier.
func NewBatchID() BatchID {
	return BatchID(Default().Generate().String())
}

// BatchTimestamp extracts the creation time from a batch ID.
func BatchTimestamp(id BatchID) (time.Time, error) {
	parsed, err := ulid.Parse(string(id))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// ============================================================================
// Event IDs (UUID)
// ============================================================================

// NewEventID generates a notification identifier.
func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// ============================================================================
// Request IDs
// ============================================================================

// NewRequestID generates an identifier correlating one inbound request.
func NewRequestID() string {
	return uuid.New().String()
}
