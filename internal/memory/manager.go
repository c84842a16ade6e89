// Package memory bounds the evidence context a session carries into report
// generation.
//
// Every evidence item is tracked per session with a token estimate. Once a
// session exceeds the token budget and holds more than CompressMinItems
// items, everything but the newest CompressKeepRecent items is folded into a
// text summary that keeps only items of at least SummaryMinConfidence.
// The session's own evidence pool is never touched; compression only affects
// what ContextSummary returns.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/metrics"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

const (
	DefaultMaxTokens     = 100000
	CompressMinItems     = 10
	CompressKeepRecent   = 5
	SummaryMinConfidence = 0.5
	summaryItemChars     = 200
)

// Stats describes one session's tracked memory.
type Stats struct {
	SessionID    string    `json:"session_id"`
	Items        int       `json:"items"`
	Ingested     int       `json:"ingested"`
	Tokens       int       `json:"tokens"`
	Compressions int       `json:"compressions"`
	HasSummary   bool      `json:"has_summary"`
	LastAccess   time.Time `json:"last_access"`
}

type sessionMemory struct {
	items        []session.Evidence
	ingested     int
	summary      string
	compressions int
	lastAccess   time.Time
}

// Manager tracks evidence per session. Safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*sessionMemory
	maxTokens int
	tokenizer Tokenizer
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Manager)

func WithMaxTokens(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxTokens = n
		}
	}
}

func WithTokenizer(t Tokenizer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tokenizer = t
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager with the default budget and word tokenizer.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:  make(map[string]*sessionMemory),
		maxTokens: DefaultMaxTokens,
		tokenizer: WordTokenizer{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe ingests the evidence of s that has not been seen yet. The pool
// only grows, so the number already ingested marks where to resume.
func (m *Manager) Observe(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem := m.sessions[s.ID]
	if mem == nil {
		mem = &sessionMemory{}
		m.sessions[s.ID] = mem
	}
	mem.lastAccess = m.now()
	if mem.ingested >= len(s.Evidence) {
		return
	}
	mem.items = append(mem.items, s.Evidence[mem.ingested:]...)
	mem.ingested = len(s.Evidence)

	if m.tokensLocked(mem) > m.maxTokens {
		m.compressLocked(s.ID, mem)
	}
	metrics.MemoryTokens.Set(float64(m.totalTokensLocked()))
}

// Store adds a single evidence item for sessionID.
func (m *Manager) Store(sessionID string, e session.Evidence) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem := m.sessions[sessionID]
	if mem == nil {
		mem = &sessionMemory{}
		m.sessions[sessionID] = mem
	}
	mem.items = append(mem.items, e)
	mem.ingested++
	mem.lastAccess = m.now()
	if m.tokensLocked(mem) > m.maxTokens {
		m.compressLocked(sessionID, mem)
	}
}

// Recent returns the newest tracked items, at most limit (0 means all).
func (m *Manager) Recent(sessionID string, limit int) []session.Evidence {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem := m.sessions[sessionID]
	if mem == nil {
		return nil
	}
	items := mem.items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return append([]session.Evidence(nil), items...)
}

// ContextSummary returns the compressed summary followed by the items kept
// verbatim. ok is false until the session has been compressed at least once.
func (m *Manager) ContextSummary(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem := m.sessions[sessionID]
	if mem == nil || mem.compressions == 0 {
		return "", false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of earlier evidence:\n%s", mem.summary)
	if len(mem.items) > 0 {
		b.WriteString("\n\nRecent evidence:")
		for _, e := range mem.items {
			fmt.Fprintf(&b, "\n- %s (confidence: %.2f)", e.Content, e.Confidence)
		}
	}
	return b.String(), true
}

// Stats reports the tracked state of a session.
func (m *Manager) Stats(sessionID string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem := m.sessions[sessionID]
	if mem == nil {
		return Stats{}, false
	}
	return Stats{
		SessionID:    sessionID,
		Items:        len(mem.items),
		Ingested:     mem.ingested,
		Tokens:       m.tokensLocked(mem),
		Compressions: mem.compressions,
		HasSummary:   mem.summary != "",
		LastAccess:   mem.lastAccess,
	}, true
}

// Forget drops everything tracked for sessionID.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions drops sessions not accessed within maxAge and returns
// their ids.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	var removed []string
	for id, mem := range m.sessions {
		if mem.lastAccess.Before(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		m.logger.Info("cleaned up old session memory", zap.Int("sessions", len(removed)))
	}
	return removed
}

// RunJanitor calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

// Ready reports whether the manager can accept work; used by health checks.
func (m *Manager) Ready() bool { return m != nil && m.tokenizer != nil }

func (m *Manager) tokensLocked(mem *sessionMemory) int {
	total := m.tokenizer.Count(mem.summary)
	for _, e := range mem.items {
		total += m.tokenizer.Count(e.Content)
	}
	return total
}

func (m *Manager) totalTokensLocked() int {
	total := 0
	for _, mem := range m.sessions {
		total += m.tokensLocked(mem)
	}
	return total
}

func (m *Manager) compressLocked(sessionID string, mem *sessionMemory) {
	if len(mem.items) <= CompressMinItems {
		return
	}
	cut := len(mem.items) - CompressKeepRecent
	older := mem.items[:cut]

	var points []string
	if mem.summary != "" {
		points = append(points, mem.summary)
	}
	for _, e := range older {
		if e.Confidence >= SummaryMinConfidence {
			points = append(points, "- "+prefix(e.Content, summaryItemChars)+"...")
		}
	}
	mem.summary = strings.Join(points, "\n")
	mem.items = append([]session.Evidence(nil), mem.items[cut:]...)
	mem.compressions++

	metrics.MemoryCompressions.Inc()
	m.logger.Info("context summarized",
		zap.String("session_id", sessionID),
		zap.Int("summarized", len(older)),
		zap.Int("kept", len(mem.items)))
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
