package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/language"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/metrics"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/store"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/vad"
)

const (
	cleanupInterval = 30 * time.Second
	storeTimeout    = 5 * time.Second
)

// Config sizes the per-call audio pipeline and the manager's
// housekeeping windows
type Config struct {
	VAD             vad.Config
	Chunking        audio.ChunkerConfig
	DefaultLanguage string
	IdleTimeout     time.Duration // end sessions with no media for this long
	EndedRetention  time.Duration // keep ended sessions visible to the API
}

// Manager tracks all sessions and their channel bindings. It persists
// call lifecycle events to the store and evicts stale sessions in the
// background.
type Manager struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *store.Store

	sessions  map[string]*Session
	byChannel map[string]string
	mu        sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine.
// The store may be nil, in which case transcripts live in memory only.
func NewManager(logger *slog.Logger, m *metrics.Metrics, st *store.Store, config Config) (*Manager, error) {
	if err := config.VAD.Validate(); err != nil {
		return nil, fmt.Errorf("vad config: %w", err)
	}
	if err := config.Chunking.Validate(); err != nil {
		return nil, fmt.Errorf("chunking config: %w", err)
	}

	if config.DefaultLanguage == "" {
		config.DefaultLanguage = language.Default
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.EndedRetention <= 0 {
		config.EndedRetention = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		config:    config,
		logger:    logger,
		metrics:   m,
		store:     st,
		sessions:  make(map[string]*Session),
		byChannel: make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	logger.Info("Session manager started",
		slog.String("default_language", config.DefaultLanguage),
		slog.Duration("idle_timeout", config.IdleTimeout))

	return mgr, nil
}

// Create registers a session for a newly connected channel. A second
// create for the same channel returns the existing session.
func (m *Manager) Create(call CallInfo) (*Session, error) {
	if call.ChannelID == "" {
		return nil, fmt.Errorf("channel ID cannot be empty")
	}
	if call.Direction == "" {
		call.Direction = DirectionInbound
	}
	if call.StartTime.IsZero() {
		call.StartTime = time.Now()
	}

	detector, err := vad.NewDetector(m.config.VAD)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	framer, err := audio.NewFramer(call.ChannelID, detector.FrameBytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create framer: %w", err)
	}
	chunker, err := audio.NewChunker(call.ChannelID, m.config.Chunking)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	session := &Session{
		ID:         uuid.NewString(),
		Call:       call,
		logger:     m.logger,
		metrics:    m.metrics,
		framer:     framer,
		detector:   detector,
		chunker:    chunker,
		utterances: make(chan *audio.Utterance, utteranceQueueSize),
		interrupts: make(chan struct{}, 1),
		state:      StateInitializing,
		language:   m.config.DefaultLanguage,
		updatedAt:  call.StartTime,
	}

	m.mu.Lock()
	if existingID, ok := m.byChannel[call.ChannelID]; ok {
		existing := m.sessions[existingID]
		m.mu.Unlock()
		m.logger.Warn("Session already exists for channel",
			slog.String("channel_id", call.ChannelID),
			slog.String("session_id", existingID))
		return existing, nil
	}
	m.sessions[session.ID] = session
	m.byChannel[call.ChannelID] = session.ID
	m.mu.Unlock()

	m.metrics.RecordCallStarted()
	m.metrics.SetActiveCalls(m.ActiveCount())
	m.persistCallStart(session)

	m.logger.Info("Created session",
		slog.String("session_id", session.ID),
		slog.String("channel_id", call.ChannelID),
		slog.String("caller_number", call.CallerNumber),
		slog.String("direction", string(call.Direction)))

	return session, nil
}

// Bind aliases an additional channel to an existing session. The
// ExternalMedia leg carries a different channel ID than the caller's
// leg, and both must resolve to the same session.
func (m *Manager) Bind(channelID, sessionID string) error {
	if channelID == "" {
		return fmt.Errorf("channel ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if existing, ok := m.byChannel[channelID]; ok && existing != sessionID {
		return fmt.Errorf("channel %s is already bound to session %s", channelID, existing)
	}
	m.byChannel[channelID] = sessionID

	m.logger.Debug("Bound channel to session",
		slog.String("channel_id", channelID),
		slog.String("session_id", sessionID))

	return nil
}

// Get returns a session by its ID
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

// GetByChannel returns the session bound to an Asterisk channel
func (m *Manager) GetByChannel(channelID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byChannel[channelID]
	if !ok {
		return nil, false
	}
	session, ok := m.sessions[id]
	return session, ok
}

// Sessions returns all tracked sessions, ended ones included
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	return out
}

// Infos returns monitoring snapshots of all sessions, oldest first
func (m *Manager) Infos() []Info {
	sessions := m.Sessions()
	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.Before(infos[j].StartTime)
	})
	return infos
}

// Count returns the total number of tracked sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SampleRate returns the PCM rate the per-session pipeline expects.
// Media arriving at other rates is resampled before ProcessAudio.
func (m *Manager) SampleRate() int {
	return m.config.VAD.SampleRate
}

// ActiveCount returns the number of sessions that have not ended
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, session := range m.sessions {
		if !session.State().Terminal() {
			count++
		}
	}
	return count
}

// End finishes a session normally. The channel binding is released, the
// pipeline is flushed and the call record is marked completed. Ending
// an already ended session is a no-op.
func (m *Manager) End(sessionID, cause string) error {
	return m.teardown(sessionID, cause, StateEnded, store.CallStateCompleted)
}

// Fail finishes a session after an unrecoverable error
func (m *Manager) Fail(sessionID, cause string) error {
	return m.teardown(sessionID, cause, StateError, store.CallStateFailed)
}

func (m *Manager) teardown(sessionID, cause string, finalState State, storeState string) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}
	for channelID, id := range m.byChannel {
		if id == sessionID {
			delete(m.byChannel, channelID)
		}
	}
	m.mu.Unlock()

	if !session.markEnding() {
		return nil
	}

	session.finish()
	_ = session.SetState(finalState)

	duration := time.Since(session.Call.StartTime)
	m.metrics.RecordCallCompleted(duration.Seconds())
	m.metrics.SetActiveCalls(m.ActiveCount())

	m.persistCallEnd(session, storeState, cause)

	m.logger.Info("Session ended",
		slog.String("session_id", session.ID),
		slog.String("channel_id", session.Call.ChannelID),
		slog.String("state", string(finalState)),
		slog.String("cause", cause),
		slog.Float64("duration_seconds", duration.Seconds()),
		slog.Uint64("utterances", session.UtterancesEmitted()))

	return nil
}

// RecordTurn appends a turn to the session transcript and persists it
// to the call store
func (m *Manager) RecordTurn(s *Session, speaker, contentType, content string, duration time.Duration, confidence float64, toolCalls json.RawMessage) Turn {
	turn := s.AddTurn(speaker, contentType, content, duration, confidence)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
		defer cancel()

		err := m.store.AppendTurn(ctx, store.Turn{
			CallID:    s.ID,
			Role:      speaker,
			Content:   content,
			Language:  s.Language(),
			ToolCalls: toolCalls,
			CreatedAt: turn.Timestamp,
		})
		if err != nil {
			m.metrics.RecordStoreFailure()
			m.logger.Error("Failed to persist turn",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
		}
	}

	return turn
}

// SetLanguage switches the session's conversation language and records
// the detection. Setting the language the session already speaks is a
// no-op.
func (m *Manager) SetLanguage(s *Session, code string) {
	if s.Language() == code {
		return
	}

	s.SetLanguage(code)
	m.metrics.RecordLanguageDetected(code)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
		defer cancel()

		if err := m.store.SetCallLanguage(ctx, s.ID, code); err != nil {
			m.metrics.RecordStoreFailure()
			m.logger.Error("Failed to persist language",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
		}
	}

	m.logger.Info("Session language changed",
		slog.String("session_id", s.ID),
		slog.String("language", code))
}

// ManagerStats aggregates session counters for the monitoring API
type ManagerStats struct {
	TotalSessions  int            `json:"total_sessions"`
	ActiveSessions int            `json:"active_sessions"`
	TotalTurns     uint64         `json:"total_turns"`
	Interruptions  uint64         `json:"interruptions"`
	Errors         uint64         `json:"errors"`
	ByState        map[string]int `json:"sessions_by_state"`
}

// Stats summarizes all tracked sessions
func (m *Manager) Stats() ManagerStats {
	sessions := m.Sessions()

	stats := ManagerStats{
		TotalSessions: len(sessions),
		ByState:       make(map[string]int),
	}
	for _, session := range sessions {
		state := session.State()
		stats.ByState[string(state)]++
		if state.IsActive() {
			stats.ActiveSessions++
		}

		sm := session.Metrics()
		stats.TotalTurns += sm.TotalTurns
		stats.Interruptions += sm.Interruptions
		stats.Errors += sm.Errors
	}
	return stats
}

// Stop ends every session and shuts down the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.End(id, "shutdown"); err != nil {
			m.logger.Error("Failed to end session",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("sessions", m.Count()))
}

func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.evictStale(time.Now())
		}
	}
}

// evictStale ends sessions whose media went quiet and drops ended
// sessions past the retention window
func (m *Manager) evictStale(now time.Time) {
	var idle, expired []string

	m.mu.RLock()
	for id, session := range m.sessions {
		last := session.LastActivity()
		if session.State().Terminal() {
			if now.Sub(last) > m.config.EndedRetention {
				expired = append(expired, id)
			}
		} else if now.Sub(last) > m.config.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Warn("Ending idle session", slog.String("session_id", id))
		if err := m.End(id, "idle_timeout"); err != nil {
			m.logger.Error("Failed to end idle session",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}

	if len(expired) > 0 {
		m.mu.Lock()
		for _, id := range expired {
			session, ok := m.sessions[id]
			if !ok {
				continue
			}
			if m.byChannel[session.Call.ChannelID] == id {
				delete(m.byChannel, session.Call.ChannelID)
			}
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		m.logger.Debug("Dropped ended sessions", slog.Int("count", len(expired)))
	}
}

func (m *Manager) persistCallStart(s *Session) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
	defer cancel()

	record := store.CallRecord{
		ID:           s.ID,
		ChannelID:    s.Call.ChannelID,
		CallerNumber: s.Call.CallerNumber,
		CallerName:   s.Call.CallerName,
		Language:     s.Language(),
		State:        store.CallStateActive,
		StartedAt:    s.Call.StartTime,
	}
	if err := m.store.CreateCall(ctx, record); err != nil {
		m.metrics.RecordStoreFailure()
		m.logger.Error("Failed to persist call start",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) persistCallEnd(s *Session, state, cause string) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
	defer cancel()

	err := m.store.FinishCall(ctx, s.ID, state, cause, int(s.UtterancesEmitted()), time.Now())
	if err != nil {
		m.metrics.RecordStoreFailure()
		m.logger.Error("Failed to persist call end",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
	}
}
