package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/CyCoreSystems/ari/v6"
	"github.com/CyCoreSystems/ari/v6/client/native"
	"github.com/CyCoreSystems/ari/v6/ext/play"
	"github.com/google/uuid"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/config"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/language"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/llm"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/metrics"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/server"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/session"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/stt"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/tts"
)

const (
	// mediaChannelPrefix marks the ExternalMedia legs this engine
	// originates. Their StasisStart events must not be mistaken for
	// new callers.
	mediaChannelPrefix = "npcl-media-"

	// mediaFormat is the codec requested for the ExternalMedia leg
	mediaFormat = "slin16"

	// soundFileRate is the sample rate of cached ulaw sound files
	soundFileRate = 8000
)

// Deps bundles the collaborators the engine drives for each call
type Deps struct {
	Sessions *session.Manager
	Media    *server.MediaServer
	STT      *stt.Client
	TTS      *tts.Client
	LLM      *llm.Client
}

// Engine connects to the Asterisk REST Interface and runs the assistant
// side of every call: answer, attach an ExternalMedia leg to the media
// server, greet the caller and hold the recognize-respond-play loop
// until the call ends.
type Engine struct {
	config    config.ARIConfig
	assistant config.AssistantConfig
	mediaURL  string
	logger    *slog.Logger
	metrics   *metrics.Metrics

	sessions *session.Manager
	media    *server.MediaServer
	stt      *stt.Client
	tts      *tts.Client
	llm      *llm.Client

	client ari.Client

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics (basic counters for now)
	callsAccepted  uint64
	callsFailed    uint64
	playbacks      uint64
	playbackErrors uint64
	mu             sync.RWMutex
}

// call bundles the per-call handles the conversation loop needs
type call struct {
	session      *session.Session
	channel      *ari.ChannelHandle
	mediaChannel string
}

// NewEngine creates a new Engine instance
func NewEngine(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, deps Deps) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		config:    cfg.ARI,
		assistant: cfg.Assistant,
		mediaURL:  cfg.Media.ExternalMediaURL(),
		logger:    logger,
		metrics:   m,
		sessions:  deps.Sessions,
		media:     deps.Media,
		stt:       deps.STT,
		tts:       deps.TTS,
		llm:       deps.LLM,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects to Asterisk and begins accepting calls
func (e *Engine) Start() error {
	client, err := native.Connect(&native.Options{
		Application:  e.config.Application,
		Username:     e.config.Username,
		Password:     e.config.Password,
		URL:          e.config.URL,
		WebsocketURL: e.config.WebsocketURL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ARI: %w", err)
	}
	e.client = client

	e.wg.Add(1)
	go e.eventLoop()

	e.logger.Info("ARI engine started",
		slog.String("application", e.config.Application),
		slog.String("url", e.config.URL),
		slog.String("media_url", e.mediaURL))

	return nil
}

// Stop finishes all in-flight calls and disconnects from Asterisk
func (e *Engine) Stop() error {
	e.logger.Info("Stopping ARI engine...")

	e.cancel()
	e.wg.Wait()

	if e.client != nil {
		e.client.Close()
	}

	stats := e.GetStatistics()
	e.logger.Info("ARI engine stopped",
		slog.Uint64("calls_accepted", stats.CallsAccepted),
		slog.Uint64("calls_failed", stats.CallsFailed),
		slog.Uint64("playbacks", stats.Playbacks))

	return nil
}

// eventLoop accepts StasisStart events and dispatches one goroutine per
// caller. ExternalMedia legs originate from this engine and enter the
// application too; they carry the media channel prefix and are skipped.
func (e *Engine) eventLoop() {
	defer e.wg.Done()

	start := e.client.Bus().Subscribe(nil, ari.Events.StasisStart)
	defer start.Cancel()

	for {
		select {
		case <-e.ctx.Done():
			return

		case ev, ok := <-start.Events():
			if !ok {
				return
			}
			v := ev.(*ari.StasisStart)

			if strings.HasPrefix(v.Channel.ID, mediaChannelPrefix) {
				e.logger.Debug("External media leg entered application",
					slog.String("channel_id", v.Channel.ID))
				continue
			}

			e.logger.Info("Call entered application",
				slog.String("channel_id", v.Channel.ID),
				slog.String("channel_name", v.Channel.Name),
				slog.String("caller_number", v.Channel.Caller.Number),
				slog.String("caller_name", v.Channel.Caller.Name))

			e.wg.Add(1)
			go e.handleCall(e.client.Channel().Get(v.Key(ari.ChannelKey, v.Channel.ID)), v)
		}
	}
}

// handleCall runs one caller from answer to hangup
func (e *Engine) handleCall(h *ari.ChannelHandle, start *ari.StasisStart) {
	defer e.wg.Done()

	callCtx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	end := h.Subscribe(ari.Events.StasisEnd)
	defer end.Cancel()
	hangup := h.Subscribe(ari.Events.ChannelHangupRequest)
	defer hangup.Cancel()

	sess, err := e.sessions.Create(session.CallInfo{
		ChannelID:    h.ID(),
		CallerNumber: start.Channel.Caller.Number,
		CallerName:   start.Channel.Caller.Name,
		CalledNumber: start.Channel.Dialplan.Exten,
		Direction:    session.DirectionInbound,
	})
	if err != nil {
		e.logger.Error("Failed to create session",
			slog.String("channel_id", h.ID()),
			slog.String("error", err.Error()))
		e.recordCallFailed()
		_ = h.Hangup()
		return
	}

	e.mu.Lock()
	e.callsAccepted++
	e.mu.Unlock()

	go func() {
		select {
		case <-end.Events():
			e.logger.Info("Caller left application", slog.String("channel_id", h.ID()))
			cancel()
		case <-hangup.Events():
			e.logger.Info("Hangup requested", slog.String("channel_id", h.ID()))
			cancel()
		case <-callCtx.Done():
		}
	}()

	if err := h.Answer(); err != nil {
		e.logger.Error("Failed to answer call",
			slog.String("channel_id", h.ID()),
			slog.String("error", err.Error()))
		e.recordCallFailed()
		_ = e.sessions.Fail(sess.ID, "answer_failed")
		return
	}

	// The media leg's channel ID is chosen here so the session binding
	// exists before Asterisk connects and sends MEDIA_START.
	mediaChannelID := mediaChannelPrefix + uuid.NewString()
	if err := e.sessions.Bind(mediaChannelID, sess.ID); err != nil {
		e.logger.Error("Failed to bind media channel",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		e.recordCallFailed()
		_ = e.sessions.Fail(sess.ID, "bind_failed")
		return
	}

	extHandle, err := e.client.Channel().ExternalMedia(ari.NewKey(ari.ChannelKey, mediaChannelID), ari.ExternalMediaOptions{
		ChannelID:     mediaChannelID,
		App:           e.config.Application,
		ExternalHost:  e.mediaURL,
		Transport:     "websocket",
		Encapsulation: "none",
		Format:        mediaFormat,
		Direction:     "both",
	})
	if err != nil {
		e.logger.Error("Failed to start external media",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		e.recordCallFailed()
		_ = e.sessions.Fail(sess.ID, "external_media_failed")
		return
	}
	defer extHandle.Hangup()

	e.logger.Info("External media attached",
		slog.String("session_id", sess.ID),
		slog.String("media_channel_id", mediaChannelID))

	c := &call{session: sess, channel: h, mediaChannel: mediaChannelID}

	cause := e.converse(callCtx, c)
	if e.ctx.Err() != nil {
		cause = "shutdown"
	}

	if err := e.sessions.End(sess.ID, cause); err != nil {
		e.logger.Debug("Session already ended",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
	_ = h.Hangup()
}

// converse greets the caller and serves utterances until the call ends.
// The returned cause describes why the conversation stopped.
func (e *Engine) converse(ctx context.Context, c *call) string {
	sess := c.session

	_ = sess.SetState(session.StateActive)

	if err := e.speak(ctx, c, language.Greeting(sess.Language())); err != nil {
		if ctx.Err() != nil {
			return "caller_hangup"
		}
		e.logger.Error("Greeting playback failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		sess.RecordError()
	}

	noInput := time.NewTimer(e.assistant.GetNoInputTimeout())
	defer noInput.Stop()
	deadline := time.NewTimer(e.assistant.GetMaxCallDuration())
	defer deadline.Stop()

	strikes := 0

	for {
		_ = sess.SetState(session.StateWaitingForInput)

		select {
		case <-ctx.Done():
			return "caller_hangup"

		case <-deadline.C:
			e.logger.Warn("Call reached maximum duration",
				slog.String("session_id", sess.ID))
			e.sayGoodbye(ctx, c)
			return "max_duration"

		case <-noInput.C:
			strikes++
			if strikes >= e.assistant.NoInputStrikes {
				e.logger.Info("Caller silent, ending call",
					slog.String("session_id", sess.ID),
					slog.Int("strikes", strikes))
				e.sayGoodbye(ctx, c)
				return "no_input"
			}
			if err := e.speak(ctx, c, language.NoInputPrompt(sess.Language())); err != nil && ctx.Err() != nil {
				return "caller_hangup"
			}
			noInput.Reset(e.assistant.GetNoInputTimeout())

		case utterance, ok := <-sess.Utterances():
			if !ok {
				// Media connection closed underneath the conversation
				return "caller_hangup"
			}
			strikes = 0
			if !noInput.Stop() {
				select {
				case <-noInput.C:
				default:
				}
			}

			e.respond(ctx, c, utterance)

			noInput.Reset(e.assistant.GetNoInputTimeout())
		}
	}
}

// respond runs one utterance through recognition, the language model
// and synthesis
func (e *Engine) respond(ctx context.Context, c *call, utterance *audio.Utterance) {
	sess := c.session
	received := time.Now()

	_ = sess.SetState(session.StateProcessingAudio)

	text, err := e.transcribe(ctx, sess, utterance)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Recognition failed",
				slog.String("session_id", sess.ID),
				slog.String("utterance_id", utterance.ID),
				slog.String("error", err.Error()))
			sess.RecordError()
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		e.logger.Debug("Empty transcription, skipping",
			slog.String("utterance_id", utterance.ID))
		return
	}

	e.sessions.RecordTurn(sess, session.SpeakerUser, session.ContentAudio, text, utterance.Duration, 0, nil)

	if e.assistant.AutoDetectLanguage {
		if code, ok := language.Detect(text); ok {
			e.sessions.SetLanguage(sess, code)
		}
	}

	reply, err := e.complete(ctx, sess)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Completion failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()))
			sess.RecordError()
		}
		return
	}
	if reply.Content == "" && len(reply.ToolCalls) == 0 {
		return
	}

	var toolJSON json.RawMessage
	if len(reply.ToolCalls) > 0 {
		if b, err := json.Marshal(reply.ToolCalls); err == nil {
			toolJSON = b
		}
	}
	e.sessions.RecordTurn(sess, session.SpeakerAssistant, session.ContentText, reply.Content, 0, 0, toolJSON)

	sess.RecordResponseTime(time.Since(received))

	if reply.Content == "" {
		return
	}

	if err := e.speak(ctx, c, reply.Content); err != nil && ctx.Err() == nil {
		e.logger.Error("Response playback failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		sess.RecordError()
	}
}

// transcribe recognizes one utterance in the session's language
func (e *Engine) transcribe(ctx context.Context, sess *session.Session, utterance *audio.Utterance) (string, error) {
	e.metrics.RecordSTTRequest()
	startTime := time.Now()

	result, err := e.stt.Recognize(ctx, &stt.Request{
		UtteranceID: utterance.ID,
		Audio:       utterance.Audio,
		SampleRate:  utterance.SampleRate,
		Language:    sess.Language(),
	})
	if err != nil {
		e.metrics.RecordSTTFailure(time.Since(startTime).Seconds())
		return "", err
	}
	e.metrics.RecordSTTSuccess(time.Since(startTime).Seconds())

	e.logger.Info("Utterance recognized",
		slog.String("session_id", sess.ID),
		slog.String("utterance_id", utterance.ID),
		slog.String("language", sess.Language()),
		slog.String("text", result.Text))

	return result.Text, nil
}

// complete sends the conversation so far to the language model
func (e *Engine) complete(ctx context.Context, sess *session.Session) (*llm.Reply, error) {
	_ = sess.SetState(session.StateGeneratingResponse)

	history := sess.History(e.assistant.MaxHistoryTurns)

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: language.SystemPrompt(sess.Language()),
	})
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Speaker == session.SpeakerAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}

	e.metrics.RecordLLMRequest()
	startTime := time.Now()

	reply, err := e.llm.Respond(ctx, messages)
	if err != nil {
		e.metrics.RecordLLMFailure(time.Since(startTime).Seconds())
		return nil, err
	}
	e.metrics.RecordLLMSuccess(time.Since(startTime).Seconds())

	for _, tc := range reply.ToolCalls {
		e.metrics.RecordToolCall(tc.Name)
	}

	return reply, nil
}

// speak synthesizes text in the session's language and plays it to the
// caller. A caller speech onset during playback stops it; the barge-in
// is recorded and the method returns as if the playback had finished.
func (e *Engine) speak(ctx context.Context, c *call, text string) error {
	sess := c.session

	e.metrics.RecordTTSRequest()
	startTime := time.Now()

	sound, err := e.tts.Synthesize(ctx, text, sess.Language())
	if err != nil {
		e.metrics.RecordTTSFailure(time.Since(startTime).Seconds())
		return fmt.Errorf("synthesis failed: %w", err)
	}
	if sound.Cached {
		e.metrics.RecordTTSCacheHit()
	}
	e.metrics.RecordTTSSuccess(time.Since(startTime).Seconds())

	_ = sess.SetState(session.StatePlayingResponse)

	// A stale interrupt from an earlier playback must not cut this
	// one short
	select {
	case <-sess.Interrupts():
	default:
	}

	sess.SetAssistantSpeaking(true)
	defer sess.SetAssistantSpeaking(false)

	playCtx, stop := context.WithCancel(ctx)
	defer stop()

	watchDone := make(chan struct{})
	defer close(watchDone)

	if e.assistant.Interruptible {
		go func() {
			select {
			case <-sess.Interrupts():
				e.logger.Info("Caller interrupted playback",
					slog.String("session_id", sess.ID))
				sess.RecordInterruption()
				stop()
			case <-watchDone:
			}
		}()
	}

	err = e.play(playCtx, c, sound)
	if err == nil {
		return nil
	}
	if playCtx.Err() != nil && ctx.Err() == nil {
		// Stopped by a barge-in, not by teardown
		return nil
	}
	return err
}

// play runs one playback on the caller channel. ARI playback of the
// cached sound file is the normal path; when Asterisk cannot resolve
// the sound URI the audio is pushed through the media socket instead.
func (e *Engine) play(ctx context.Context, c *call, sound *tts.Sound) error {
	e.mu.Lock()
	e.playbacks++
	e.mu.Unlock()

	err := play.Play(ctx, c.channel, play.URI(sound.URI)).Err()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	e.mu.Lock()
	e.playbackErrors++
	e.mu.Unlock()

	e.logger.Warn("ARI playback failed, falling back to media socket",
		slog.String("uri", sound.URI),
		slog.String("error", err.Error()))

	return e.playThroughMedia(ctx, c, sound)
}

// playThroughMedia decodes the cached ulaw sound and paces it down the
// call's media connection
func (e *Engine) playThroughMedia(ctx context.Context, c *call, sound *tts.Sound) error {
	data, err := os.ReadFile(sound.Path)
	if err != nil {
		return fmt.Errorf("failed to read sound file: %w", err)
	}

	pcm := audio.DecodeULaw(data)
	pcm, err = audio.Upsample(pcm, soundFileRate, e.sessions.SampleRate())
	if err != nil {
		return fmt.Errorf("failed to resample sound file: %w", err)
	}

	return e.media.Send(ctx, c.mediaChannel, pcm)
}

// sayGoodbye plays the farewell line, best effort
func (e *Engine) sayGoodbye(ctx context.Context, c *call) {
	if ctx.Err() != nil {
		return
	}
	if err := e.speak(ctx, c, language.Goodbye(c.session.Language())); err != nil {
		e.logger.Debug("Farewell playback failed",
			slog.String("session_id", c.session.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) recordCallFailed() {
	e.mu.Lock()
	e.callsFailed++
	e.mu.Unlock()
}

// Statistics represents engine statistics
type Statistics struct {
	Connected      bool   `json:"connected"`
	CallsAccepted  uint64 `json:"calls_accepted"`
	CallsFailed    uint64 `json:"calls_failed"`
	Playbacks      uint64 `json:"playbacks"`
	PlaybackErrors uint64 `json:"playback_errors"`
}

// GetStatistics returns current engine statistics
func (e *Engine) GetStatistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	connected := e.client != nil && e.client.Connected()

	return Statistics{
		Connected:      connected,
		CallsAccepted:  e.callsAccepted,
		CallsFailed:    e.callsFailed,
		Playbacks:      e.playbacks,
		PlaybackErrors: e.playbackErrors,
	}
}
