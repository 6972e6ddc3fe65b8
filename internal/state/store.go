// Package state issues and tracks the state and nonce values sent with
// authorization requests.
//
// Values are single use: consuming a value removes it. Entries that are never
// consumed expire and are removed by Sweep.
package state

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknown is returned when a value was never issued or was already consumed.
	ErrUnknown = errors.New("unknown value")

	// ErrExpired is returned when a value is consumed after its expiration.
	ErrExpired = errors.New("value expired")
)

// Store keeps issued states and nonces in memory.
type Store struct {
	stateTTL time.Duration
	nonceTTL time.Duration
	now      func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
	nonces map[string]time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store with the given expiration windows.
func NewStore(stateTTL, nonceTTL time.Duration, opts ...Option) *Store {
	s := &Store{
		stateTTL: stateTTL,
		nonceTTL: nonceTTL,
		now:      time.Now,
		states:   make(map[string]time.Time),
		nonces:   make(map[string]time.Time),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateState issues a new state value.
func (s *Store) GenerateState() string {
	return s.issue(s.states, s.stateTTL)
}

// GenerateNonce issues a new nonce value.
func (s *Store) GenerateNonce() string {
	return s.issue(s.nonces, s.nonceTTL)
}

// ConsumeState removes a previously issued state.
func (s *Store) ConsumeState(value string) error {
	return s.consume(s.states, value)
}

// ConsumeNonce removes a previously issued nonce.
func (s *Store) ConsumeNonce(value string) error {
	return s.consume(s.nonces, value)
}

func (s *Store) issue(m map[string]time.Time, ttl time.Duration) string {
	value := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	m[value] = s.now().Add(ttl)
	return value
}

func (s *Store) consume(m map[string]time.Time, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := m[value]
	if !ok {
		return ErrUnknown
	}
	delete(m, value)
	if s.now().After(expiresAt) {
		return ErrExpired
	}
	return nil
}

// SweepStates removes expired states and returns how many were removed.
func (s *Store) SweepStates(now time.Time) int {
	return s.sweep(s.states, now)
}

// SweepNonces removes expired nonces and returns how many were removed.
func (s *Store) SweepNonces(now time.Time) int {
	return s.sweep(s.nonces, now)
}

// Sweep removes all expired entries.
func (s *Store) Sweep(now time.Time) int {
	return s.SweepStates(now) + s.SweepNonces(now)
}

func (s *Store) sweep(m map[string]time.Time, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, expiresAt := range m {
		if now.After(expiresAt) {
			delete(m, value)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding states and nonces.
func (s *Store) Len() (states, nonces int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states), len(s.nonces)
}
