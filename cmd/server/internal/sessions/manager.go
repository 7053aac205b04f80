// Package sessions owns the lifecycle of consultation sessions. Every session has
// its own orchestrator and speaker registry; nothing is shared between sessions
// except the remote call limiter.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/consultscribe/cmd/server/internal/registry"
	"github.com/houzhh15/consultscribe/cmd/server/internal/roles"
	"github.com/houzhh15/consultscribe/cmd/server/internal/sink"
	"github.com/houzhh15/consultscribe/pkg/logger"
	"github.com/houzhh15/consultscribe/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("sessions: session not found")

// Dependencies 所有会话共享的协作者
type Dependencies struct {
	Config    orchestrator.Config
	Diarizers orchestrator.DiarizerProvider
	// Classifier 为空时不做角色识别
	Classifier roles.Classifier
	Sink       sink.Sink
	Limiter    *Limiter
	Logger     *slog.Logger
	NewID      func() string
	Now        func() time.Time
}

// StartOptions 会话级上下文提示
type StartOptions struct {
	LanguageHint    string `json:"language_hint,omitempty"`
	DoctorSpecialty string `json:"doctor_specialty,omitempty"`
	PatientContext  string `json:"patient_context,omitempty"`
}

// Session is one consultation.
type Session struct {
	ID        string
	CreatedAt time.Time
	Options   StartOptions

	orch      *orchestrator.Orchestrator
	endedOnce sync.Once
}

// Orchestrator returns the session pipeline.
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Registry returns the session registry.
func (s *Session) Registry() *registry.Registry { return s.orch.Registry() }

// Summary is a read-only view for listings.
type Summary struct {
	ID        string             `json:"session_id"`
	CreatedAt time.Time          `json:"created_at"`
	State     orchestrator.State `json:"state"`
	Chunks    int                `json:"chunks"`
	Speakers  int                `json:"speakers"`
	Error     string             `json:"error,omitempty"`
}

// Summary returns the current view of s.
func (s *Session) Summary() Summary {
	sum := Summary{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		State:     s.orch.GetState(),
		Chunks:    s.orch.Registry().LastIndex() + 1,
		Speakers:  len(s.orch.Registry().Speakers()),
	}
	if err := s.orch.Err(); err != nil {
		sum.Error = err.Error()
	}
	return sum
}

// Manager keeps the live and finished sessions of the process.
type Manager struct {
	deps   Dependencies
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(deps Dependencies) *Manager {
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		deps:     deps,
		logger:   logger.OrDefault(deps.Logger).With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// Start creates a session with a fresh orchestrator and registry.
func (m *Manager) Start(_ context.Context, opts StartOptions) (*Session, error) {
	id := m.deps.NewID()

	var resolver *roles.Resolver
	if m.deps.Classifier != nil {
		resolver = roles.NewResolver(m.deps.Classifier, roles.ResolverConfig{
			ConfidenceThreshold: m.deps.Config.RoleConfidenceThreshold,
			Timeout:             m.deps.Config.RoleTimeout,
		}, m.deps.Logger)
	}

	orchOpts := orchestrator.Options{
		SessionID: id,
		Config:    m.deps.Config,
		Diarizers: m.deps.Diarizers,
		Resolver:  resolver,
		Hints: roles.Hints{
			DoctorSpecialty: opts.DoctorSpecialty,
			PatientContext:  opts.PatientContext,
			LanguageHint:    opts.LanguageHint,
		},
		LanguageHint: opts.LanguageHint,
		Sink:         m.deps.Sink,
		Logger:       m.deps.Logger,
		Now:          m.deps.Now,
	}
	if m.deps.Limiter != nil {
		orchOpts.Limiter = m.deps.Limiter
	}
	orch, err := orchestrator.New(orchOpts)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	s := &Session{ID: id, CreatedAt: m.deps.Now(), Options: opts, orch: orch}

	m.mu.Lock()
	if _, dup := m.sessions[id]; dup {
		m.mu.Unlock()
		orch.Cancel()
		return nil, fmt.Errorf("start session: duplicate id %s", id)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	metrics.SessionStarted()
	go func() {
		<-orch.Done()
		s.endedOnce.Do(metrics.SessionEnded)
	}()

	m.logger.Info("session started", "session_id", id, "language_hint", opts.LanguageHint)
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close drains the session and freezes its transcript. The session stays readable.
func (m *Manager) Close(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.orch.Close(ctx); err != nil {
		return s, fmt.Errorf("close session %s: %w", id, err)
	}
	m.logger.Info("session closed", "session_id", id)
	return s, nil
}

// Cancel stops the session immediately, discarding the chunk in flight.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.orch.Cancel()
	m.logger.Info("session cancelled", "session_id", id)
	return nil
}

// Remove cancels the session if needed and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.orch.Cancel()
	if fg, ok := m.deps.Sink.(sink.Forgetter); ok {
		fg.Forget(id)
	}
	return nil
}

// List returns summaries ordered by creation time.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Shutdown closes every session, cancelling those still running when ctx expires.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.orch.Close(ctx); err != nil {
				m.logger.Warn("session did not drain before shutdown", "session_id", s.ID, "error", err)
			}
		}(s)
	}
	wg.Wait()
}
