package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/config"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/metrics"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/protocol"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/session"
)

const (
	// maxMessageBytes bounds a single WebSocket message. Media frames are
	// a few hundred bytes and control lines are shorter still.
	maxMessageBytes = 64 * 1024

	// readIdleTimeout closes connections whose peer went silent. A live
	// call delivers a frame every 20ms.
	readIdleTimeout = 30 * time.Second

	// sendFrameDuration paces outbound playback frames
	sendFrameDuration = 20 * time.Millisecond
)

// MediaServer accepts ExternalMedia WebSocket connections from Asterisk
// and routes caller audio into sessions
type MediaServer struct {
	config   config.MediaConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sessions *session.Manager

	httpServer *http.Server
	upgrader   websocket.Upgrader

	// Connection registry keyed by channel ID
	conns   map[string]*mediaConn
	connsMu sync.RWMutex

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics (basic counters for now)
	connectionsAccepted uint64
	connectionsRejected uint64
	framesReceived      uint64
	framesSent          uint64
	bytesReceived       uint64
	bytesSent           uint64
	controlErrors       uint64
	decodeErrors        uint64
	mu                  sync.RWMutex
}

// mediaConn represents one ExternalMedia connection bound to a session
type mediaConn struct {
	ws        *websocket.Conn
	channelID string
	sessionID string
	format    string
	rate      int

	// Gorilla connections support a single writer at a time
	writeMu sync.Mutex

	// Flow control state driven by MEDIA_XOFF/MEDIA_XON
	paused  bool
	pauseMu sync.RWMutex
}

func (c *mediaConn) writeMessage(messageType int, payload []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

func (c *mediaConn) setPaused(paused bool) {
	c.pauseMu.Lock()
	c.paused = paused
	c.pauseMu.Unlock()
}

func (c *mediaConn) isPaused() bool {
	c.pauseMu.RLock()
	defer c.pauseMu.RUnlock()
	return c.paused
}

// NewMediaServer creates a new media server instance
func NewMediaServer(cfg config.MediaConfig, logger *slog.Logger, m *metrics.Metrics, sessions *session.Manager) *MediaServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &MediaServer{
		config:   cfg,
		logger:   logger,
		metrics:  m,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The Asterisk channel driver sends no Origin header
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(map[string]*mediaConn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins accepting ExternalMedia connections
func (s *MediaServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)

	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Media server failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("Media server started",
		slog.String("address", addr),
		slog.String("path", s.config.Path),
		slog.Int("max_calls", s.config.MaxCalls),
	)

	return nil
}

// Stop gracefully stops the media server
func (s *MediaServer) Stop() error {
	s.logger.Info("Stopping media server...")

	// Cancel context to signal shutdown
	s.cancel()

	// Stop accepting new connections
	if s.httpServer != nil {
		if err := s.httpServer.Close(); err != nil {
			s.logger.Warn("Error closing media listener", slog.String("error", err.Error()))
		}
	}

	// Upgraded connections are not tracked by the HTTP server and must be
	// closed individually to unblock their readers
	s.connsMu.RLock()
	conns := make([]*mediaConn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.RUnlock()

	for _, conn := range conns {
		conn.ws.Close()
	}

	// Wait for all connection goroutines to finish
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("Media server stopped",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_sent", stats.FramesSent),
		slog.Uint64("control_errors", stats.ControlErrors),
	)

	return nil
}

// handleUpgrade admits one ExternalMedia connection and serves it until
// disconnect
func (s *MediaServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.ConnectionCount() >= s.config.MaxCalls {
		s.mu.Lock()
		s.connectionsRejected++
		s.mu.Unlock()

		s.logger.Warn("Rejecting media connection, call limit reached",
			slog.Int("max_calls", s.config.MaxCalls),
			slog.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "call limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.serveConn(ws, r.RemoteAddr)
}

// serveConn drives one connection from MEDIA_START to disconnect
func (s *MediaServer) serveConn(ws *websocket.Conn, remoteAddr string) {
	defer ws.Close()

	ws.SetReadLimit(maxMessageBytes)

	start, err := s.awaitMediaStart(ws)
	if err != nil {
		s.mu.Lock()
		s.controlErrors++
		s.mu.Unlock()

		s.logger.Warn("Media connection rejected",
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	rate, err := audio.SampleRateForFormat(start.Format)
	if err != nil {
		s.mu.Lock()
		s.controlErrors++
		s.mu.Unlock()

		s.logger.Warn("Media connection rejected",
			slog.String("remote_addr", remoteAddr),
			slog.String("channel_id", start.ChannelID),
			slog.String("error", err.Error()),
		)
		return
	}

	// The signaling side usually binds the channel before media arrives.
	// A connection for an unknown channel creates its own session, which
	// lets the media sender tool drive the pipeline without Asterisk.
	sess, ok := s.sessions.GetByChannel(start.ChannelID)
	if !ok {
		var err error
		sess, err = s.sessions.Create(session.CallInfo{ChannelID: start.ChannelID})
		if err != nil {
			s.logger.Error("Failed to create session for media connection",
				slog.String("channel_id", start.ChannelID),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	conn := &mediaConn{
		ws:        ws,
		channelID: start.ChannelID,
		sessionID: sess.ID,
		format:    start.Format,
		rate:      rate,
	}

	if !s.register(conn) {
		s.logger.Warn("Channel already has a media connection",
			slog.String("channel_id", start.ChannelID),
		)
		return
	}

	defer func() {
		s.unregister(conn)
		if err := s.sessions.End(conn.sessionID, "media_closed"); err != nil {
			s.logger.Debug("Session already gone at media close",
				slog.String("session_id", conn.sessionID))
		}
	}()

	s.mu.Lock()
	s.connectionsAccepted++
	s.mu.Unlock()
	s.metrics.RecordControlMessage(protocol.VerbMediaStart)

	if sess.State() == session.StateInitializing {
		if err := sess.SetState(session.StateActive); err != nil {
			s.logger.Warn("Failed to activate session",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := conn.writeMessage(websocket.TextMessage, []byte(protocol.VerbAnswer), s.config.GetWriteTimeout()); err != nil {
		s.logger.Warn("Failed to answer media connection",
			slog.String("channel_id", start.ChannelID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Media connection established",
		slog.String("channel_id", start.ChannelID),
		slog.String("session_id", sess.ID),
		slog.String("format", start.Format),
		slog.Int("sample_rate", rate),
		slog.String("remote_addr", remoteAddr),
	)

	s.readLoop(conn, sess)
}

// awaitMediaStart reads the opening control message. Asterisk sends
// MEDIA_START as the first frame on the socket.
func (s *MediaServer) awaitMediaStart(ws *websocket.Conn) (*protocol.MediaStart, error) {
	if err := ws.SetReadDeadline(time.Now().Add(s.config.GetStartTimeout())); err != nil {
		return nil, err
	}

	messageType, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("no %s received: %w", protocol.VerbMediaStart, err)
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("expected %s before media, got a binary frame", protocol.VerbMediaStart)
	}

	ctrl, err := protocol.ParseControl(string(data))
	if err != nil {
		return nil, err
	}

	return protocol.ParseMediaStart(ctrl)
}

// readLoop consumes media and control frames until the peer disconnects
// or requests hangup
func (s *MediaServer) readLoop(conn *mediaConn, sess *session.Session) {
	for {
		if err := conn.ws.SetReadDeadline(time.Now().Add(readIdleTimeout)); err != nil {
			return
		}

		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Media connection lost",
					slog.String("channel_id", conn.channelID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleAudio(conn, sess, data)
		case websocket.TextMessage:
			if s.handleControl(conn, string(data)) {
				return
			}
		}
	}
}

// handleAudio normalizes one caller media frame and feeds the session
// pipeline
func (s *MediaServer) handleAudio(conn *mediaConn, sess *session.Session, payload []byte) {
	s.mu.Lock()
	s.framesReceived++
	s.bytesReceived += uint64(len(payload))
	s.mu.Unlock()
	s.metrics.RecordMediaReceived(len(payload))

	pcm, err := audio.DecodeToPCM16(conn.format, payload)
	if err != nil {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()

		s.logger.Warn("Failed to decode media frame",
			slog.String("channel_id", conn.channelID),
			slog.String("format", conn.format),
			slog.String("error", err.Error()),
		)
		return
	}

	if conn.rate != s.sessions.SampleRate() {
		pcm, err = audio.Upsample(pcm, conn.rate, s.sessions.SampleRate())
		if err != nil {
			s.mu.Lock()
			s.decodeErrors++
			s.mu.Unlock()

			s.logger.Warn("Failed to resample media frame",
				slog.String("channel_id", conn.channelID),
				slog.Int("rate", conn.rate),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	sess.ProcessAudio(pcm)
}

// handleControl processes one mid-call control message. The return value
// reports whether the connection should close.
func (s *MediaServer) handleControl(conn *mediaConn, text string) bool {
	ctrl, err := protocol.ParseControl(text)
	if err != nil {
		s.mu.Lock()
		s.controlErrors++
		s.mu.Unlock()

		s.logger.Warn("Ignoring malformed control message",
			slog.String("channel_id", conn.channelID),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.metrics.RecordControlMessage(ctrl.Verb)

	switch ctrl.Verb {
	case protocol.VerbMediaXOff:
		conn.setPaused(true)
		s.metrics.RecordFlowPause()
		s.logger.Debug("Outbound media paused", slog.String("channel_id", conn.channelID))
	case protocol.VerbMediaXOn:
		conn.setPaused(false)
		s.logger.Debug("Outbound media resumed", slog.String("channel_id", conn.channelID))
	case protocol.VerbHangup:
		s.logger.Info("Hangup requested over media connection",
			slog.String("channel_id", conn.channelID))
		return true
	case protocol.VerbMediaStart:
		s.logger.Warn("Duplicate MEDIA_START ignored",
			slog.String("channel_id", conn.channelID))
	default:
		s.mu.Lock()
		s.controlErrors++
		s.mu.Unlock()

		s.logger.Warn("Unknown control verb",
			slog.String("channel_id", conn.channelID),
			slog.String("verb", ctrl.Verb),
		)
	}

	return false
}

// Send streams PCM16 playback audio to a channel's media connection as
// paced 20ms frames, honoring flow control. It blocks until the whole
// buffer is written, the context is canceled or the connection fails.
func (s *MediaServer) Send(ctx context.Context, channelID string, pcm []byte) error {
	conn, ok := s.lookup(channelID)
	if !ok {
		return fmt.Errorf("no media connection for channel %s", channelID)
	}

	out := pcm
	var err error
	if pipelineRate := s.sessions.SampleRate(); conn.rate != pipelineRate {
		out, err = audio.Downsample(pcm, pipelineRate, conn.rate)
		if err != nil {
			return fmt.Errorf("failed to resample playback audio: %w", err)
		}
	}
	out, err = audio.EncodeFromPCM16(conn.format, out)
	if err != nil {
		return fmt.Errorf("failed to encode playback audio: %w", err)
	}

	frameBytes := wireFrameBytes(conn.format, conn.rate)

	ticker := time.NewTicker(sendFrameDuration)
	defer ticker.Stop()

	for offset := 0; offset < len(out); {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return fmt.Errorf("media server stopped")
		case <-ticker.C:
		}

		// XOFF holds the current frame until the peer drains
		if conn.isPaused() {
			continue
		}

		end := offset + frameBytes
		if end > len(out) {
			end = len(out)
		}

		if err := conn.writeMessage(websocket.BinaryMessage, out[offset:end], s.config.GetWriteTimeout()); err != nil {
			return fmt.Errorf("failed to write media frame: %w", err)
		}

		s.mu.Lock()
		s.framesSent++
		s.bytesSent += uint64(end - offset)
		s.mu.Unlock()
		s.metrics.RecordMediaSent(end - offset)

		offset = end
	}

	return nil
}

// Hangup asks the peer to tear the call down and closes its connection
func (s *MediaServer) Hangup(channelID string) error {
	conn, ok := s.lookup(channelID)
	if !ok {
		return fmt.Errorf("no media connection for channel %s", channelID)
	}

	if err := conn.writeMessage(websocket.TextMessage, []byte(protocol.VerbHangup), s.config.GetWriteTimeout()); err != nil {
		return fmt.Errorf("failed to send hangup: %w", err)
	}

	return conn.ws.Close()
}

// wireFrameBytes returns the on-wire size of one 20ms frame
func wireFrameBytes(format string, rate int) int {
	samples := rate * int(sendFrameDuration.Milliseconds()) / 1000
	if format == audio.FormatULaw || format == audio.FormatALaw {
		return samples
	}
	return samples * 2
}

func (s *MediaServer) register(conn *mediaConn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	if _, exists := s.conns[conn.channelID]; exists {
		return false
	}
	s.conns[conn.channelID] = conn
	return true
}

func (s *MediaServer) unregister(conn *mediaConn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	if s.conns[conn.channelID] == conn {
		delete(s.conns, conn.channelID)
	}
}

func (s *MediaServer) lookup(channelID string) (*mediaConn, bool) {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	conn, ok := s.conns[channelID]
	return conn, ok
}

// ConnectionCount returns the number of live media connections
func (s *MediaServer) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connected reports whether a channel has a live media connection
func (s *MediaServer) Connected(channelID string) bool {
	_, ok := s.lookup(channelID)
	return ok
}

// GetStatistics returns current media server statistics
func (s *MediaServer) GetStatistics() MediaStatistics {
	active := s.ConnectionCount()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return MediaStatistics{
		ActiveConnections:   uint64(active),
		ConnectionsAccepted: s.connectionsAccepted,
		ConnectionsRejected: s.connectionsRejected,
		FramesReceived:      s.framesReceived,
		FramesSent:          s.framesSent,
		BytesReceived:       s.bytesReceived,
		BytesSent:           s.bytesSent,
		ControlErrors:       s.controlErrors,
		DecodeErrors:        s.decodeErrors,
	}
}

// MediaStatistics represents media server performance metrics
type MediaStatistics struct {
	ActiveConnections   uint64 `json:"active_connections"`
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	FramesReceived      uint64 `json:"frames_received"`
	FramesSent          uint64 `json:"frames_sent"`
	BytesReceived       uint64 `json:"bytes_received"`
	BytesSent           uint64 `json:"bytes_sent"`
	ControlErrors       uint64 `json:"control_errors"`
	DecodeErrors        uint64 `json:"decode_errors"`
}
