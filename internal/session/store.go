package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
)

// ErrEmptyQuery is returned by Create for a blank query.
var ErrEmptyQuery = errors.New("query is required")

// Archiver receives a snapshot after every successful write.
type Archiver interface {
	ArchiveSession(ctx context.Context, s *Session) error
}

// Store is the process-wide registry of active sessions. Every read returns
// a deep copy; the live records never leave the store.
type Store struct {
	auditLog audit.Logger
	logger   *zap.Logger
	archiver Archiver

	mu       sync.RWMutex
	sessions map[string]*Session
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithArchiver mirrors every write into a.
func WithArchiver(a Archiver) StoreOption {
	return func(s *Store) { s.archiver = a }
}

// WithLogger sets the application logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store. A nil audit logger discards events.
func NewStore(auditLog audit.Logger, opts ...StoreOption) *Store {
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	s := &Store{
		auditLog: auditLog,
		logger:   zap.NewNop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new PENDING session for query.
func (s *Store) Create(ctx context.Context, query string) (*Session, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	sess := New(uuid.New().String(), query)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	snap := sess.Clone()
	s.mu.Unlock()

	_ = s.auditLog.LogSessionCreated(ctx, sess.ID, query)
	s.archive(ctx, snap)

	return snap, nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return sess.Clone(), nil
}

// Transition moves the session to status to, enforcing the state machine.
// Unlike Save, staying in the same status is only legal where the table
// allows it, so a second claim of IN_PROGRESS fails.
func (s *Store) Transition(ctx context.Context, id string, to Status) (*Session, error) {
	return s.Mutate(ctx, id, func(sess *Session) error {
		if !allowed(sess.Status, to) {
			return &InvalidStateError{ID: id, From: sess.Status, To: to}
		}
		sess.Status = to
		return nil
	})
}

// Save replaces the stored record with a copy of sess. ID, query and
// creation time are immutable and the evidence pool may not shrink; any
// status change must be a legal transition.
func (s *Store) Save(ctx context.Context, sess *Session) (*Session, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is nil")
	}

	s.mu.Lock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		s.mu.Unlock()
		return nil, &NotFoundError{ID: sess.ID}
	}
	if err := checkTransition(cur.ID, cur.Status, sess.Status); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(sess.Evidence) < len(cur.Evidence) {
		s.mu.Unlock()
		return nil, fmt.Errorf("evidence pool of %s cannot shrink (%d → %d)", sess.ID, len(cur.Evidence), len(sess.Evidence))
	}

	next := sess.Clone()
	next.Query = cur.Query
	next.CreatedAt = cur.CreatedAt
	if next.Confidence < cur.Confidence {
		next.Confidence = cur.Confidence
	}
	next.UpdatedAt = time.Now()
	s.sessions[next.ID] = next
	from := cur.Status
	snap := next.Clone()
	s.mu.Unlock()

	s.afterWrite(ctx, snap, from)
	return snap, nil
}

// Mutate applies fn to the live record under the store lock. fn must not
// block. Status changes made by fn are validated before they are kept.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	cur, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, &NotFoundError{ID: id}
	}

	work := cur.Clone()
	if err := fn(work); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := checkTransition(id, cur.Status, work.Status); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	work.ID = cur.ID
	work.Query = cur.Query
	work.CreatedAt = cur.CreatedAt
	work.UpdatedAt = time.Now()
	s.sessions[id] = work
	from := cur.Status
	snap := work.Clone()
	s.mu.Unlock()

	s.afterWrite(ctx, snap, from)
	return snap, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return &NotFoundError{ID: id}
	}

	_ = s.auditLog.Log(ctx, audit.NewEvent(audit.EventSessionDeleted).
		WithSession(id).
		WithAction("delete").
		WithResult(audit.ResultSuccess).
		WithDescription(fmt.Sprintf("Investigation %s deleted", id)))
	return nil
}

// List returns snapshots of every session, oldest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// PruneIdle deletes sessions not updated within maxAge. Sessions that are
// mid-cycle are left alone. It returns the removed ids.
func (s *Store) PruneIdle(ctx context.Context, maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-maxAge)

	var pruned []string
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Status == StatusInProgress {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			pruned = append(pruned, id)
		}
	}
	s.mu.Unlock()

	for _, id := range pruned {
		_ = s.auditLog.Log(ctx, audit.NewEvent(audit.EventSessionPruned).
			WithSession(id).
			WithAction("prune").
			WithResult(audit.ResultSuccess).
			WithMetadata("max_idle", maxAge.String()))
	}
	if len(pruned) > 0 {
		s.logger.Info("pruned idle sessions", zap.Int("count", len(pruned)), zap.Duration("max_idle", maxAge))
	}
	return pruned
}

// afterWrite audits status changes into WAITING_FOR_INPUT. Terminal
// statuses are audited by the caller, which knows the duration or cause.
func (s *Store) afterWrite(ctx context.Context, snap *Session, from Status) {
	if from != snap.Status && snap.Status == StatusWaitingForInput {
		_ = s.auditLog.Log(ctx, audit.NewEvent(audit.EventSessionWaiting).
			WithSession(snap.ID).
			WithAction("transition").
			WithResult(audit.ResultSuccess).
			WithDescription(fmt.Sprintf("Investigation %s state: %s → %s", snap.ID, from, snap.Status)))
	}
	s.archive(ctx, snap)
}

func (s *Store) archive(ctx context.Context, snap *Session) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveSession(ctx, snap); err != nil {
		s.logger.Warn("failed to archive session", zap.String("session_id", snap.ID), zap.Error(err))
	}
}

var validTransitions = map[Status][]Status{
	StatusPending:         {StatusInProgress, StatusFailed},
	StatusInProgress:      {StatusWaitingForInput, StatusCompleted, StatusFailed},
	StatusWaitingForInput: {StatusInProgress, StatusCompleted},
	StatusCompleted:       {StatusCompleted},
	StatusFailed:          {}, // terminal
}

// CanTransition reports whether from → to is allowed. Unchanged status is
// always allowed.
func CanTransition(from, to Status) bool {
	return from == to || allowed(from, to)
}

func allowed(from, to Status) bool {
	for _, st := range validTransitions[from] {
		if st == to {
			return true
		}
	}
	return false
}

func checkTransition(id string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidStateError{ID: id, From: from, To: to}
}
