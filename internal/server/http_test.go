package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/config"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/session"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/store"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/vad"
)

// newHTTPTestServer wires the monitoring API to a fresh session manager
// and media server. The store may be nil.
func newHTTPTestServer(t *testing.T, cfg *config.Config, st *store.Store) (*session.Manager, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	mgr, err := session.NewManager(logger, testMetrics, st, session.Config{
		VAD:      vad.DefaultConfig(),
		Chunking: audio.DefaultChunkerConfig(),
	})
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}

	media := NewMediaServer(cfg.Media, logger, testMetrics, mgr)

	h := NewHTTPServer(cfg.HTTP, logger, cfg, HTTPDeps{
		Sessions: mgr,
		Media:    media,
		Store:    st,
	}, testMetrics)

	ts := httptest.NewServer(h.server.Handler)

	t.Cleanup(func() {
		ts.Close()
		media.Stop()
		mgr.Stop()
	})

	return mgr, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newHTTPTestServer(t, config.Default(), nil)

	var health map[string]any
	resp := getJSON(t, ts.URL+"/health", &health)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health["status"])
	}

	service, ok := health["service"].(map[string]any)
	if !ok || service["name"] != "npcl-ari-assistant" {
		t.Errorf("Expected service name npcl-ari-assistant, got %v", health["service"])
	}

	components, ok := health["components"].(map[string]any)
	if !ok {
		t.Fatalf("Expected components map, got %v", health["components"])
	}
	if _, ok := components["media_server"]; !ok {
		t.Error("Expected media_server component")
	}
	if _, ok := components["session_manager"]; !ok {
		t.Error("Expected session_manager component")
	}

	// Only GET is served
	resp, err := http.Post(ts.URL+"/health", "application/json", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}

func TestSessionsEndpoints(t *testing.T) {
	mgr, ts := newHTTPTestServer(t, config.Default(), nil)

	first, err := mgr.Create(session.CallInfo{ChannelID: "PJSIP/1001-00000040", CallerNumber: "9876543210"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if _, err := mgr.Create(session.CallInfo{ChannelID: "PJSIP/1001-00000041", CallerNumber: "9876543211"}); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	first.AddTurn(session.SpeakerUser, session.ContentAudio, "No power in Sector 62", 2*time.Second, 0.9)

	var listing map[string]any
	resp := getJSON(t, ts.URL+"/sessions", &listing)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if listing["total_sessions"].(float64) != 2 {
		t.Errorf("Expected 2 sessions, got %v", listing["total_sessions"])
	}

	var detail map[string]any
	resp = getJSON(t, ts.URL+"/sessions/"+first.ID, &detail)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	info, ok := detail["session"].(map[string]any)
	if !ok || info["session_id"] != first.ID {
		t.Errorf("Expected session %s, got %v", first.ID, detail["session"])
	}
	turns, ok := detail["turns"].([]any)
	if !ok || len(turns) != 1 {
		t.Errorf("Expected 1 turn, got %v", detail["turns"])
	}

	resp = getJSON(t, ts.URL+"/sessions/no-such-session", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}

	resp = getJSON(t, ts.URL+"/sessions/", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestCallsEndpoints(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	mgr, ts := newHTTPTestServer(t, config.Default(), st)

	sess, err := mgr.Create(session.CallInfo{ChannelID: "PJSIP/1001-00000042", CallerNumber: "9876543210"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	mgr.RecordTurn(sess, session.SpeakerUser, session.ContentAudio, "Complaint status please", 2*time.Second, 0.9, nil)
	if err := mgr.End(sess.ID, "caller_hangup"); err != nil {
		t.Fatalf("Failed to end session: %v", err)
	}

	var listing map[string]any
	resp := getJSON(t, ts.URL+"/calls", &listing)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if listing["total_calls"].(float64) != 1 {
		t.Errorf("Expected 1 call, got %v", listing["total_calls"])
	}

	var detail map[string]any
	resp = getJSON(t, ts.URL+"/calls/"+sess.ID, &detail)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	call, ok := detail["call"].(map[string]any)
	if !ok || call["id"] != sess.ID {
		t.Errorf("Expected call %s, got %v", sess.ID, detail["call"])
	}
	turns, ok := detail["turns"].([]any)
	if !ok || len(turns) != 1 {
		t.Errorf("Expected 1 turn, got %v", detail["turns"])
	}

	resp = getJSON(t, ts.URL+"/calls/no-such-call", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}

	resp = getJSON(t, ts.URL+"/calls?limit=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestCallsEndpointWithoutStore(t *testing.T) {
	_, ts := newHTTPTestServer(t, config.Default(), nil)

	resp := getJSON(t, ts.URL+"/calls", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestLanguagesEndpoint(t *testing.T) {
	_, ts := newHTTPTestServer(t, config.Default(), nil)

	var payload map[string]any
	resp := getJSON(t, ts.URL+"/languages", &payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	if payload["default"] != "en-IN" {
		t.Errorf("Expected default en-IN, got %v", payload["default"])
	}
	languages, ok := payload["languages"].([]any)
	if !ok || len(languages) == 0 {
		t.Errorf("Expected a non-empty language list, got %v", payload["languages"])
	}
}

func TestConfigEndpointOmitsCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.ARI.Password = "super-secret-pass"
	cfg.STT.APIKey = "sk-test-credential"
	cfg.TTS.APIKey = "sk-test-credential"
	cfg.LLM.APIKey = "sk-test-credential"

	_, ts := newHTTPTestServer(t, cfg, nil)

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}

	if strings.Contains(string(body), "super-secret-pass") {
		t.Error("Expected the ARI password to be omitted")
	}
	if strings.Contains(string(body), "sk-test-credential") {
		t.Error("Expected API keys to be omitted")
	}
	if !strings.Contains(string(body), "whisper-1") {
		t.Error("Expected model names to be included")
	}
}

func TestStatsEndpoints(t *testing.T) {
	mgr, ts := newHTTPTestServer(t, config.Default(), nil)

	if _, err := mgr.Create(session.CallInfo{ChannelID: "PJSIP/1001-00000043", CallerNumber: "9876543210"}); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	var stats map[string]any
	resp := getJSON(t, ts.URL+"/stats", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	if _, ok := stats["media"]; !ok {
		t.Error("Expected media statistics")
	}
	sessions, ok := stats["sessions"].(map[string]any)
	if !ok || sessions["total_sessions"].(float64) != 1 {
		t.Errorf("Expected 1 total session, got %v", stats["sessions"])
	}

	// The LLM client is not wired in this test
	resp = getJSON(t, ts.URL+"/stats/llm", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestRootEndpoint(t *testing.T) {
	_, ts := newHTTPTestServer(t, config.Default(), nil)

	var doc map[string]any
	resp := getJSON(t, ts.URL+"/", &doc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if doc["service"] != "NPCL Asterisk ARI Assistant" {
		t.Errorf("Expected service name, got %v", doc["service"])
	}

	resp = getJSON(t, ts.URL+"/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}
