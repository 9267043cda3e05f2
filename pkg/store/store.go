package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Message represents a single conversation turn.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Record is the conversation state for one session. Records are owned by
// the Store; every accessor returns a clone so callers can never mutate
// store state through a returned record.
type Record struct {
	ID            string    `json:"session_id"`
	OwnerIdentity string    `json:"owner_identity"`
	CreatedAt     time.Time `json:"created_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
	Messages      []Message `json:"messages"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Messages = make([]Message, len(r.Messages))
	copy(c.Messages, r.Messages)
	return &c
}

// Summary is the listing view of a session. It carries counts and
// timestamps only, never message contents.
type Summary struct {
	ID           string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Config holds the store limits, supplied once at construction.
type Config struct {
	MaxSessionsTotal       int
	MaxSessionsPerIdentity int
	MaxMessagesPerSession  int
	TTL                    time.Duration
}

func (c Config) validate() error {
	if c.MaxSessionsTotal <= 0 {
		return fmt.Errorf("%w: max sessions total must be positive", ErrInvalidConfig)
	}
	if c.MaxSessionsPerIdentity <= 0 {
		return fmt.Errorf("%w: max sessions per identity must be positive", ErrInvalidConfig)
	}
	if c.MaxMessagesPerSession <= 0 {
		return fmt.Errorf("%w: max messages per session must be positive", ErrInvalidConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	return nil
}

// EventRecorder receives store lifecycle events. Attributes are counts,
// identifiers and error kinds only.
type EventRecorder interface {
	RecordEvent(name string, attrs map[string]interface{})
}

type noopRecorder struct{}

func (noopRecorder) RecordEvent(string, map[string]interface{}) {}

// Store is a bounded mapping of session id to conversation record with a
// per-identity quota index. All mutation happens inside a single critical
// section so check-then-act sequences cannot race.
type Store struct {
	mu         sync.RWMutex
	cfg        Config
	sessions   map[string]*Record
	byIdentity map[string]map[string]struct{}
	events     EventRecorder
}

// New creates a session store. A non-positive limit or TTL is a
// construction failure; the store never accepts traffic with an invalid
// configuration.
func New(cfg Config, events EventRecorder) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = noopRecorder{}
	}

	s := &Store{
		cfg:        cfg,
		sessions:   make(map[string]*Record),
		byIdentity: make(map[string]map[string]struct{}),
		events:     events,
	}

	log.Info().
		Int("max_total", cfg.MaxSessionsTotal).
		Int("max_per_identity", cfg.MaxSessionsPerIdentity).
		Int("max_messages", cfg.MaxMessagesPerSession).
		Dur("ttl", cfg.TTL).
		Msg("Session store initialized")

	return s, nil
}

// NewSessionID mints an opaque session id.
func NewSessionID() string {
	return uuid.NewString()
}

// validateSessionKey rejects ids that could not have been minted here.
func validateSessionKey(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) expired(r *Record, now time.Time) bool {
	return now.Sub(r.CreatedAt) >= s.cfg.TTL
}

// GetOrCreate returns the existing record for id or admits a new one owned
// by identity. Repeated calls with the same id are idempotent and never
// double-count quota; an existing record is honored even if current limits
// would reject a fresh create. A new record is admitted only when both the
// global cap and the identity quota have room, checked atomically with the
// insertion. Rejection leaves the store untouched.
func (s *Store) GetOrCreate(id, identity string) (*Record, error) {
	if err := validateSessionKey(id); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sessions[id]; ok {
		if !s.expired(rec, now) {
			return rec.Clone(), nil
		}
		// Stale record: behaves as absent, drop it before the create path.
		s.removeLocked(id)
	}

	if len(s.sessions) >= s.cfg.MaxSessionsTotal {
		s.events.RecordEvent("admission.rejected", map[string]interface{}{
			"reason": string(OverGlobalCapacity),
		})
		return nil, &AdmissionError{
			Reason:   OverGlobalCapacity,
			Identity: identity,
			Limit:    s.cfg.MaxSessionsTotal,
		}
	}
	if len(s.byIdentity[identity]) >= s.cfg.MaxSessionsPerIdentity {
		s.events.RecordEvent("admission.rejected", map[string]interface{}{
			"reason": string(OverIdentityQuota),
		})
		return nil, &AdmissionError{
			Reason:   OverIdentityQuota,
			Identity: identity,
			Limit:    s.cfg.MaxSessionsPerIdentity,
		}
	}

	rec := &Record{
		ID:            id,
		OwnerIdentity: identity,
		CreatedAt:     now,
		LastActiveAt:  now,
		Messages:      make([]Message, 0, 8),
	}
	s.sessions[id] = rec

	owned, ok := s.byIdentity[identity]
	if !ok {
		owned = make(map[string]struct{})
		s.byIdentity[identity] = owned
	}
	owned[id] = struct{}{}

	s.events.RecordEvent("session.created", map[string]interface{}{
		"session_id": id,
		"active":     len(s.sessions),
	})
	log.Debug().Str("session_id", id).Msg("Session created")

	return rec.Clone(), nil
}

// Append adds a message to a session. It rejects, rather than truncates,
// once the per-session cap is reached; the record is unchanged on
// rejection so the caller can compact and retry.
func (s *Store) Append(id string, msg Message) error {
	if err := validateSessionKey(id); err != nil {
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if msg.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}

	now := time.Now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok || s.expired(rec, now) {
		return ErrSessionNotFound
	}

	if len(rec.Messages) >= s.cfg.MaxMessagesPerSession {
		s.events.RecordEvent("admission.rejected", map[string]interface{}{
			"reason": string(MessageLimitExceeded),
		})
		return &AdmissionError{
			Reason:   MessageLimitExceeded,
			Identity: rec.OwnerIdentity,
			Limit:    s.cfg.MaxMessagesPerSession,
		}
	}

	rec.Messages = append(rec.Messages, msg)
	rec.LastActiveAt = now

	return nil
}

// Get returns a clone of the record for id. An expired record behaves as
// absent even if the reclaimer has not yet swept it.
func (s *Store) Get(id string) (*Record, error) {
	if err := validateSessionKey(id); err != nil {
		return nil, err
	}

	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok || s.expired(rec, now) {
		return nil, ErrSessionNotFound
	}

	return rec.Clone(), nil
}

// Remove deletes a session and its identity-index entry. It reports
// whether a record was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	s.removeLocked(id)
	return true
}

func (s *Store) removeLocked(id string) {
	rec := s.sessions[id]
	delete(s.sessions, id)

	if owned, ok := s.byIdentity[rec.OwnerIdentity]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(s.byIdentity, rec.OwnerIdentity)
		}
	}
}

// List returns summaries of all live sessions.
func (s *Store) List() []Summary {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if s.expired(rec, now) {
			continue
		}
		out = append(out, Summary{
			ID:           rec.ID,
			MessageCount: len(rec.Messages),
			LastActiveAt: rec.LastActiveAt,
		})
	}
	return out
}

// Len returns the current session count, swept or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IdentityCount returns how many sessions identity currently owns.
func (s *Store) IdentityCount(identity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdentity[identity])
}

// ExpiredIDs snapshots the ids of records expired as of now. The scan runs
// under a read lock so sweeps keep write-lock hold time proportional to
// the number of removals only.
func (s *Store) ExpiredIDs(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, rec := range s.sessions {
		if s.expired(rec, now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// RemoveExpired deletes the given ids, re-checking expiry under the write
// lock since a snapshot id may have been removed and recreated since the
// scan. It returns the number of records removed.
func (s *Store) RemoveExpired(ids []string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range ids {
		rec, ok := s.sessions[id]
		if !ok || !s.expired(rec, now) {
			continue
		}
		s.removeLocked(id)
		removed++
	}
	return removed
}
