package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/metrics"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/vad"
)

// State is the lifecycle phase of a session
type State string

const (
	StateInitializing       State = "initializing"
	StateActive             State = "active"
	StateWaitingForInput    State = "waiting_for_input"
	StateProcessingAudio    State = "processing_audio"
	StateGeneratingResponse State = "generating_response"
	StatePlayingResponse    State = "playing_response"
	StatePaused             State = "paused"
	StateEnding             State = "ending"
	StateEnded              State = "ended"
	StateError              State = "error"
)

// IsActive reports whether the session belongs to a live conversation
func (s State) IsActive() bool {
	switch s {
	case StateActive, StateWaitingForInput, StateProcessingAudio,
		StateGeneratingResponse, StatePlayingResponse:
		return true
	}
	return false
}

// Terminal reports whether the session is finished for good
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

// Direction distinguishes who initiated the call
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Speaker values for conversation turns
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Content types for conversation turns
const (
	ContentAudio = "audio"
	ContentText  = "text"
)

// utteranceQueueSize bounds how many finalized utterances can wait for
// recognition before new ones are dropped. Utterances arrive seconds
// apart, so a small buffer only fills when the consumer has stalled.
const utteranceQueueSize = 8

// CallInfo identifies the telephony side of a session
type CallInfo struct {
	ChannelID    string    `json:"channel_id"`
	CallerNumber string    `json:"caller_number"`
	CallerName   string    `json:"caller_name,omitempty"`
	CalledNumber string    `json:"called_number,omitempty"`
	Direction    Direction `json:"direction"`
	StartTime    time.Time `json:"start_time"`
}

// Turn is a single exchange in the conversation transcript
type Turn struct {
	ID          string    `json:"turn_id"`
	Timestamp   time.Time `json:"timestamp"`
	Speaker     string    `json:"speaker"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	Duration    float64   `json:"duration_seconds,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
}

// Metrics accumulates per-session conversation counters
type Metrics struct {
	TotalTurns         uint64  `json:"total_turns"`
	UserTurns          uint64  `json:"user_turns"`
	AssistantTurns     uint64  `json:"assistant_turns"`
	TotalAudioSeconds  float64 `json:"total_audio_seconds"`
	ProcessingSeconds  float64 `json:"processing_seconds"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
	Interruptions      uint64  `json:"interruptions"`
	Errors             uint64  `json:"errors"`
}

// Info is a point-in-time snapshot of a session for the monitoring API
type Info struct {
	ID                string    `json:"session_id"`
	ChannelID         string    `json:"channel_id"`
	CallerNumber      string    `json:"caller_number"`
	CallerName        string    `json:"caller_name,omitempty"`
	Direction         Direction `json:"direction"`
	State             State     `json:"state"`
	Language          string    `json:"language"`
	StartTime         time.Time `json:"start_time"`
	LastActivity      time.Time `json:"last_activity"`
	Duration          float64   `json:"duration_seconds"`
	UserSpeaking      bool      `json:"user_speaking"`
	AssistantSpeaking bool      `json:"assistant_speaking"`
	NoiseFloorDB      float64   `json:"noise_floor_db"`
	SpeechPercentage  float64   `json:"speech_percentage"`
	UtterancesEmitted uint64    `json:"utterances_emitted"`
	UtterancesDropped uint64    `json:"utterances_dropped"`
	Metrics           Metrics   `json:"metrics"`
}

// Session tracks one caller's conversation with the assistant. It owns
// the per-call audio pipeline (framer, detector, chunker) and publishes
// finalized utterances on a channel the conversation loop consumes.
//
// The media transport feeds ProcessAudio from its read loop; everything
// else touches the session from the conversation loop or the HTTP API.
type Session struct {
	ID   string
	Call CallInfo

	logger  *slog.Logger
	metrics *metrics.Metrics

	// pipeMu serializes the audio pipeline. The detector and chunker
	// are single-owner; media frames and the final flush both pass
	// through here.
	pipeMu   sync.Mutex
	framer   *audio.Framer
	detector *vad.Detector
	chunker  *audio.Chunker
	closed   bool

	utterances chan *audio.Utterance
	interrupts chan struct{}

	mu                sync.RWMutex
	state             State
	language          string
	updatedAt         time.Time
	turns             []Turn
	stats             Metrics
	responses         uint64
	userSpeaking      bool
	assistantSpeaking bool
	utterancesEmitted uint64
	utterancesDropped uint64
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the session to a new state. Transitions out of a
// terminal state are rejected.
func (s *Session) SetState(newState State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == newState {
		return nil
	}
	if s.state.Terminal() {
		return fmt.Errorf("session %s is %s, cannot transition to %s", s.ID, s.state, newState)
	}

	oldState := s.state
	s.state = newState
	s.updatedAt = time.Now()

	s.logger.Debug("Session state changed",
		slog.String("session_id", s.ID),
		slog.String("from", string(oldState)),
		slog.String("to", string(newState)))

	return nil
}

// markEnding moves the session into the ending state exactly once, so
// concurrent teardown paths settle on a single winner.
func (s *Session) markEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnding || s.state.Terminal() {
		return false
	}
	s.state = StateEnding
	s.updatedAt = time.Now()
	return true
}

// Language returns the session's current conversation language
func (s *Session) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// SetLanguage updates the conversation language
func (s *Session) SetLanguage(code string) {
	s.mu.Lock()
	s.language = code
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// LastActivity returns when the session last saw media or a state change
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// UserSpeaking reports the detector's confirmed state for the caller
func (s *Session) UserSpeaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userSpeaking
}

// AssistantSpeaking reports whether assistant playback is in progress
func (s *Session) AssistantSpeaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assistantSpeaking
}

// SetAssistantSpeaking marks the start or end of assistant playback.
// While set, a caller speech onset is reported on the interrupt channel.
func (s *Session) SetAssistantSpeaking(speaking bool) {
	s.mu.Lock()
	s.assistantSpeaking = speaking
	s.mu.Unlock()
}

// Utterances returns the channel of finalized utterances. It is closed
// when the session ends; a pending utterance may be flushed first.
func (s *Session) Utterances() <-chan *audio.Utterance {
	return s.utterances
}

// Interrupts reports caller speech onsets during assistant playback.
// The channel has capacity one; an unconsumed interrupt absorbs later
// onsets until the conversation loop picks it up.
func (s *Session) Interrupts() <-chan struct{} {
	return s.interrupts
}

// ProcessAudio runs raw PCM from the media transport through the
// framer, detector and chunker. Finalized utterances are queued for the
// conversation loop. Audio arriving after the session ended is dropped.
func (s *Session) ProcessAudio(payload []byte) {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()

	if s.closed {
		return
	}

	now := time.Now()
	for _, frame := range s.framer.Push(payload) {
		speaking, err := s.detector.ProcessFrame(frame)
		if err != nil {
			s.logger.Warn("Frame classification failed",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
			continue
		}

		s.metrics.RecordFrame(speaking)
		s.trackSpeechEdge(speaking, now)

		if utterance := s.chunker.Push(frame, speaking, now); utterance != nil {
			s.queueUtterance(utterance)
		}
	}
}

// trackSpeechEdge follows the caller's speech state frame by frame. An
// onset while the assistant is playing back is a barge-in the
// conversation loop must hear about.
func (s *Session) trackSpeechEdge(speaking bool, now time.Time) {
	s.mu.Lock()
	wasSpeaking := s.userSpeaking
	s.userSpeaking = speaking
	s.updatedAt = now
	bargeIn := speaking && !wasSpeaking && s.assistantSpeaking
	s.mu.Unlock()

	if bargeIn {
		select {
		case s.interrupts <- struct{}{}:
		default:
		}
	}
}

// queueUtterance hands a finalized utterance to the conversation loop
// without blocking the media read path.
func (s *Session) queueUtterance(utterance *audio.Utterance) {
	select {
	case s.utterances <- utterance:
		s.mu.Lock()
		s.utterancesEmitted++
		s.mu.Unlock()
		s.metrics.RecordUtterance(utterance.Duration.Seconds())
		s.logger.Info("Utterance finalized",
			slog.String("session_id", s.ID),
			slog.String("utterance_id", utterance.ID),
			slog.Float64("duration_seconds", utterance.Duration.Seconds()),
			slog.Int("frames", utterance.Frames))
	default:
		s.mu.Lock()
		s.utterancesDropped++
		s.mu.Unlock()
		s.metrics.RecordUtteranceDropped()
		s.logger.Warn("Utterance queue full, dropping",
			slog.String("session_id", s.ID),
			slog.String("utterance_id", utterance.ID))
	}
}

// finish flushes any in-progress utterance and closes the utterance
// channel. Safe to call more than once; later media is ignored.
func (s *Session) finish() {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	if utterance := s.chunker.ForceFinalize(time.Now()); utterance != nil {
		s.queueUtterance(utterance)
	}
	close(s.utterances)
}

// AddTurn appends a conversation turn to the in-memory transcript
func (s *Session) AddTurn(speaker, contentType, content string, duration time.Duration, confidence float64) Turn {
	turn := Turn{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Speaker:     speaker,
		ContentType: contentType,
		Content:     content,
		Duration:    duration.Seconds(),
		Confidence:  confidence,
	}

	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.stats.TotalTurns++
	switch speaker {
	case SpeakerUser:
		s.stats.UserTurns++
	case SpeakerAssistant:
		s.stats.AssistantTurns++
	}
	s.stats.TotalAudioSeconds += duration.Seconds()
	s.updatedAt = turn.Timestamp
	s.mu.Unlock()

	s.logger.Debug("Turn added",
		slog.String("session_id", s.ID),
		slog.String("turn_id", turn.ID),
		slog.String("speaker", speaker))

	return turn
}

// History returns the most recent turns, newest last. A limit of zero
// returns the full transcript.
func (s *Session) History(limit int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// RecordInterruption counts a caller barge-in during playback
func (s *Session) RecordInterruption() {
	s.mu.Lock()
	s.stats.Interruptions++
	s.mu.Unlock()
	s.metrics.RecordInterruption()
}

// RecordError counts a processing failure attributed to this session
func (s *Session) RecordError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// RecordResponseTime tracks how long an assistant response took from
// end of caller speech to start of playback
func (s *Session) RecordResponseTime(responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses++
	s.stats.ProcessingSeconds += responseTime.Seconds()
	s.stats.AvgResponseSeconds = s.stats.ProcessingSeconds / float64(s.responses)
}

// Metrics returns a snapshot of the session's conversation counters
func (s *Session) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// UtterancesEmitted returns how many utterances reached the
// conversation loop
func (s *Session) UtterancesEmitted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utterancesEmitted
}

// Info builds a monitoring snapshot of the session
func (s *Session) Info() Info {
	s.pipeMu.Lock()
	detectorStats := s.detector.Stats()
	s.pipeMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:                s.ID,
		ChannelID:         s.Call.ChannelID,
		CallerNumber:      s.Call.CallerNumber,
		CallerName:        s.Call.CallerName,
		Direction:         s.Call.Direction,
		State:             s.state,
		Language:          s.language,
		StartTime:         s.Call.StartTime,
		LastActivity:      s.updatedAt,
		Duration:          time.Since(s.Call.StartTime).Seconds(),
		UserSpeaking:      s.userSpeaking,
		AssistantSpeaking: s.assistantSpeaking,
		NoiseFloorDB:      detectorStats.NoiseFloorDB,
		SpeechPercentage:  detectorStats.SpeechPercentage,
		UtterancesEmitted: s.utterancesEmitted,
		UtterancesDropped: s.utterancesDropped,
		Metrics:           s.stats,
	}
}
