package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/config"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/metrics"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/protocol"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/session"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/vad"
)

// Prometheus collectors register globally, so one instance serves every
// test in this package.
var testMetrics = metrics.NewMetrics()

func testMediaConfig() config.MediaConfig {
	return config.MediaConfig{
		BindAddress:  "127.0.0.1",
		Port:         8090,
		Path:         "/media",
		MaxCalls:     4,
		StartTimeout: 2,
		WriteTimeout: 2,
	}
}

// newMediaTestServer wires a media server to a fresh session manager and
// exposes its upgrade handler over httptest
func newMediaTestServer(t *testing.T, cfg config.MediaConfig) (*MediaServer, *session.Manager, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	mgr, err := session.NewManager(logger, testMetrics, nil, session.Config{
		VAD:      vad.DefaultConfig(),
		Chunking: audio.DefaultChunkerConfig(),
	})
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}

	server := NewMediaServer(cfg, logger, testMetrics, mgr)
	ts := httptest.NewServer(http.HandlerFunc(server.handleUpgrade))

	t.Cleanup(func() {
		server.Stop()
		ts.Close()
		mgr.Stop()
	})

	return server, mgr, ts
}

func dialMedia(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial media server: %v", err)
	}
	return ws
}

// sendMediaStart opens the media dialogue and waits for the ANSWER reply
func sendMediaStart(t *testing.T, ws *websocket.Conn, channelID, format string) {
	t.Helper()

	start := protocol.FormatMediaStart(&protocol.MediaStart{
		ConnectionID: "test-conn",
		ChannelID:    channelID,
		Format:       format,
	})
	if err := ws.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("Failed to send MEDIA_START: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read answer: %v", err)
	}
	if messageType != websocket.TextMessage || string(data) != protocol.VerbAnswer {
		t.Fatalf("Expected %s, got %q", protocol.VerbAnswer, string(data))
	}
	ws.SetReadDeadline(time.Time{})
}

// pcmFrame builds one frame of alternating-sign samples at the given
// amplitude
func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		value := amplitude
		if i%2 == 1 {
			value = -amplitude
		}
		frame[i*2] = byte(uint16(value) & 0xFF)
		frame[i*2+1] = byte(uint16(value) >> 8)
	}
	return frame
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestMediaStartBindsSession(t *testing.T) {
	server, mgr, ts := newMediaTestServer(t, testMediaConfig())

	ws := dialMedia(t, ts)
	defer ws.Close()
	sendMediaStart(t, ws, "extmedia-chan-1", audio.FormatSlin16)

	// No signaling announced this channel, so the connection created the
	// session itself
	sess, ok := mgr.GetByChannel("extmedia-chan-1")
	if !ok {
		t.Fatal("Expected a session for the media channel")
	}
	if sess.State() != session.StateActive {
		t.Errorf("Expected state active, got %s", sess.State())
	}

	// A burst of speech between silence becomes one utterance
	for i := 0; i < 20; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, pcmFrame(10, 320)); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}
	for i := 0; i < 50; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, pcmFrame(3000, 320)); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}
	for i := 0; i < 30; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, pcmFrame(10, 320)); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}

	select {
	case utterance := <-sess.Utterances():
		if utterance.Frames != 75 {
			t.Errorf("Expected 75 frames, got %d", utterance.Frames)
		}
		if utterance.SampleRate != 16000 {
			t.Errorf("Expected 16000 Hz, got %d", utterance.SampleRate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected an utterance from the media stream")
	}

	waitFor(t, time.Second, func() bool {
		return server.GetStatistics().FramesReceived == 100
	}, "media frames were not counted")

	if server.GetStatistics().ActiveConnections != 1 {
		t.Errorf("Expected 1 active connection, got %d", server.GetStatistics().ActiveConnections)
	}

	// Dropping the socket ends the session
	ws.Close()
	waitFor(t, 2*time.Second, func() bool {
		return sess.State() == session.StateEnded
	}, "session did not end when the media connection closed")
}

func TestMediaStartForBoundChannel(t *testing.T) {
	_, mgr, ts := newMediaTestServer(t, testMediaConfig())

	created, err := mgr.Create(session.CallInfo{ChannelID: "PJSIP/1001-00000030", CallerNumber: "9876543210"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := mgr.Bind("extmedia-chan-2", created.ID); err != nil {
		t.Fatalf("Failed to bind channel: %v", err)
	}

	ws := dialMedia(t, ts)
	defer ws.Close()
	sendMediaStart(t, ws, "extmedia-chan-2", audio.FormatSlin16)

	sess, ok := mgr.GetByChannel("extmedia-chan-2")
	if !ok {
		t.Fatal("Expected the bound session to resolve")
	}
	if sess != created {
		t.Error("Expected media to attach to the signaling session")
	}
	if mgr.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", mgr.Count())
	}
}

func TestMediaRejectsUnknownFormat(t *testing.T) {
	server, _, ts := newMediaTestServer(t, testMediaConfig())

	ws := dialMedia(t, ts)
	defer ws.Close()

	msg := "MEDIA_START channel:extmedia-chan-3 format:g722"
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("Failed to send MEDIA_START: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("Expected the connection to be closed")
	}

	if server.GetStatistics().ControlErrors == 0 {
		t.Error("Expected a control error to be counted")
	}
}

func TestMediaRejectsAudioBeforeStart(t *testing.T) {
	_, mgr, ts := newMediaTestServer(t, testMediaConfig())

	ws := dialMedia(t, ts)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.BinaryMessage, pcmFrame(10, 320)); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("Expected the connection to be closed")
	}

	if mgr.Count() != 0 {
		t.Errorf("Expected no session for an unopened connection, got %d", mgr.Count())
	}
}

func TestMediaDuplicateChannelRejected(t *testing.T) {
	server, mgr, ts := newMediaTestServer(t, testMediaConfig())

	ws1 := dialMedia(t, ts)
	defer ws1.Close()
	sendMediaStart(t, ws1, "extmedia-chan-4", audio.FormatSlin16)

	ws2 := dialMedia(t, ts)
	defer ws2.Close()
	start := protocol.FormatMediaStart(&protocol.MediaStart{ChannelID: "extmedia-chan-4", Format: audio.FormatSlin16})
	if err := ws2.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("Failed to send MEDIA_START: %v", err)
	}

	ws2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws2.ReadMessage(); err == nil {
		t.Fatal("Expected the duplicate connection to be closed")
	}

	// The original connection and its session must be untouched
	if !server.Connected("extmedia-chan-4") {
		t.Error("Expected the first connection to stay registered")
	}
	sess, ok := mgr.GetByChannel("extmedia-chan-4")
	if !ok {
		t.Fatal("Expected the session to survive the duplicate")
	}
	if sess.State() != session.StateActive {
		t.Errorf("Expected state active, got %s", sess.State())
	}
}

func TestMediaControlMessages(t *testing.T) {
	server, _, _ := newMediaTestServer(t, testMediaConfig())

	conn := &mediaConn{channelID: "extmedia-chan-5"}

	if server.handleControl(conn, protocol.VerbMediaXOff) {
		t.Error("Expected XOFF to keep the connection open")
	}
	if !conn.isPaused() {
		t.Error("Expected XOFF to pause outbound media")
	}

	if server.handleControl(conn, protocol.VerbMediaXOn) {
		t.Error("Expected XON to keep the connection open")
	}
	if conn.isPaused() {
		t.Error("Expected XON to resume outbound media")
	}

	if !server.handleControl(conn, protocol.VerbHangup) {
		t.Error("Expected HANGUP to close the connection")
	}

	if server.handleControl(conn, "WIBBLE") {
		t.Error("Expected an unknown verb to be ignored")
	}
	if server.handleControl(conn, "") {
		t.Error("Expected a malformed message to be ignored")
	}

	if errors := server.GetStatistics().ControlErrors; errors != 2 {
		t.Errorf("Expected 2 control errors, got %d", errors)
	}
}

func TestMediaSendPacesFrames(t *testing.T) {
	server, _, ts := newMediaTestServer(t, testMediaConfig())

	ws := dialMedia(t, ts)
	defer ws.Close()
	sendMediaStart(t, ws, "extmedia-chan-6", audio.FormatSlin16)

	// 100ms of playback splits into five 20ms frames
	pcm := make([]byte, 5*640)

	done := make(chan error, 1)
	sendStart := time.Now()
	go func() {
		done <- server.Send(context.Background(), "extmedia-chan-6", pcm)
	}()

	for i := 0; i < 5; i++ {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read frame %d: %v", i, err)
		}
		if messageType != websocket.BinaryMessage {
			t.Fatalf("Expected a binary frame, got type %d", messageType)
		}
		if len(data) != 640 {
			t.Errorf("Expected 640 byte frames, got %d", len(data))
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if elapsed := time.Since(sendStart); elapsed < 80*time.Millisecond {
		t.Errorf("Expected paced delivery, finished in %v", elapsed)
	}

	stats := server.GetStatistics()
	if stats.FramesSent != 5 {
		t.Errorf("Expected 5 frames sent, got %d", stats.FramesSent)
	}
	if stats.BytesSent != 3200 {
		t.Errorf("Expected 3200 bytes sent, got %d", stats.BytesSent)
	}

	if err := server.Send(context.Background(), "no-such-channel", pcm); err == nil {
		t.Error("Expected error sending to an unknown channel")
	}
}

func TestMediaSendHonorsFlowControl(t *testing.T) {
	server, _, ts := newMediaTestServer(t, testMediaConfig())

	ws := dialMedia(t, ts)
	defer ws.Close()
	sendMediaStart(t, ws, "extmedia-chan-7", audio.FormatSlin16)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(protocol.VerbMediaXOff)); err != nil {
		t.Fatalf("Failed to send XOFF: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		conn, ok := server.lookup("extmedia-chan-7")
		return ok && conn.isPaused()
	}, "connection never paused")

	done := make(chan error, 1)
	go func() {
		done <- server.Send(context.Background(), "extmedia-chan-7", pcmFrame(0, 320))
	}()

	time.Sleep(100 * time.Millisecond)
	if sent := server.GetStatistics().FramesSent; sent != 0 {
		t.Errorf("Expected no frames while paused, got %d", sent)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(protocol.VerbMediaXOn)); err != nil {
		t.Fatalf("Failed to send XON: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Send failed after resume: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read resumed frame: %v", err)
	}
	if messageType != websocket.BinaryMessage || len(data) != 640 {
		t.Errorf("Expected one 640 byte frame, got type %d with %d bytes", messageType, len(data))
	}
}

func TestMediaULawConversation(t *testing.T) {
	server, mgr, ts := newMediaTestServer(t, testMediaConfig())

	ws := dialMedia(t, ts)
	defer ws.Close()
	sendMediaStart(t, ws, "extmedia-chan-8", audio.FormatULaw)

	sess, ok := mgr.GetByChannel("extmedia-chan-8")
	if !ok {
		t.Fatal("Expected a session for the media channel")
	}

	// Telephony frames carry 160 mu-law bytes per 20ms at 8 kHz
	sendULaw := func(amplitude int16, count int) {
		t.Helper()
		encoded, err := audio.EncodeULaw(pcmFrame(amplitude, 160))
		if err != nil {
			t.Fatalf("Failed to encode frame: %v", err)
		}
		for i := 0; i < count; i++ {
			if err := ws.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
				t.Fatalf("Failed to send frame: %v", err)
			}
		}
	}

	sendULaw(10, 20)
	sendULaw(3000, 50)
	sendULaw(10, 30)

	// The utterance comes out at the pipeline rate regardless of the
	// wire format
	select {
	case utterance := <-sess.Utterances():
		if utterance.Frames != 75 {
			t.Errorf("Expected 75 frames, got %d", utterance.Frames)
		}
		if utterance.SampleRate != 16000 {
			t.Errorf("Expected 16000 Hz, got %d", utterance.SampleRate)
		}
		if len(utterance.Audio) != 75*640 {
			t.Errorf("Expected %d audio bytes, got %d", 75*640, len(utterance.Audio))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected an utterance from the media stream")
	}

	// Playback goes back out as 160 byte mu-law frames
	done := make(chan error, 1)
	go func() {
		done <- server.Send(context.Background(), "extmedia-chan-8", make([]byte, 2*640))
	}()

	for i := 0; i < 2; i++ {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read frame %d: %v", i, err)
		}
		if messageType != websocket.BinaryMessage {
			t.Fatalf("Expected a binary frame, got type %d", messageType)
		}
		if len(data) != 160 {
			t.Errorf("Expected 160 byte mu-law frames, got %d", len(data))
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestMediaRejectsAtCapacity(t *testing.T) {
	cfg := testMediaConfig()
	cfg.MaxCalls = 1
	server, _, ts := newMediaTestServer(t, cfg)

	ws1 := dialMedia(t, ts)
	defer ws1.Close()
	sendMediaStart(t, ws1, "extmedia-chan-9", audio.FormatSlin16)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws2, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		ws2.Close()
		t.Fatal("Expected the second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %+v", resp)
	}

	if server.GetStatistics().ConnectionsRejected != 1 {
		t.Errorf("Expected 1 rejected connection, got %d", server.GetStatistics().ConnectionsRejected)
	}
}

func TestMediaHangup(t *testing.T) {
	server, mgr, ts := newMediaTestServer(t, testMediaConfig())

	ws := dialMedia(t, ts)
	defer ws.Close()
	sendMediaStart(t, ws, "extmedia-chan-10", audio.FormatSlin16)

	sess, ok := mgr.GetByChannel("extmedia-chan-10")
	if !ok {
		t.Fatal("Expected a session for the media channel")
	}

	if err := server.Hangup("extmedia-chan-10"); err != nil {
		t.Fatalf("Failed to hang up: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read hangup: %v", err)
	}
	if messageType != websocket.TextMessage || string(data) != protocol.VerbHangup {
		t.Fatalf("Expected %s, got %q", protocol.VerbHangup, string(data))
	}

	waitFor(t, 2*time.Second, func() bool {
		return sess.State() == session.StateEnded
	}, "session did not end after hangup")

	if err := server.Hangup("no-such-channel"); err == nil {
		t.Error("Expected error hanging up an unknown channel")
	}
}
