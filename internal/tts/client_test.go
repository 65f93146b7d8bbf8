package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
)

// speechServer fakes the speech API, returning a short 24kHz WAV and
// counting requests.
func speechServer(t *testing.T, requests *int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests++

		if r.URL.Path != "/audio/speech" {
			t.Errorf("Expected path /audio/speech, got %s", r.URL.Path)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode request body: %v", err)
		}
		if body["response_format"] != "wav" {
			t.Errorf("Expected wav response format, got %v", body["response_format"])
		}
		if body["voice"] != "alloy" {
			t.Errorf("Expected voice alloy, got %v", body["voice"])
		}

		wav, err := audio.EncodeWAV(make([]byte, 240*2), 24000) // 10ms of silence
		if err != nil {
			t.Fatalf("Failed to build response WAV: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Model:     "gpt-4o-mini-tts",
		Voice:     "alloy",
		APIKey:    "test-key",
		BaseURL:   baseURL,
		SoundsDir: filepath.Join(t.TempDir(), "npcl"),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:     "missing model",
			config:   Config{Voice: "alloy", APIKey: "k", SoundsDir: "/tmp/sounds"},
			errorMsg: "model cannot be empty",
		},
		{
			name:     "missing voice",
			config:   Config{Model: "tts-1", APIKey: "k", SoundsDir: "/tmp/sounds"},
			errorMsg: "voice cannot be empty",
		},
		{
			name:     "missing api key",
			config:   Config{Model: "tts-1", Voice: "alloy", SoundsDir: "/tmp/sounds"},
			errorMsg: "API key cannot be empty",
		},
		{
			name:     "missing sounds dir",
			config:   Config{Model: "tts-1", Voice: "alloy", APIKey: "k"},
			errorMsg: "sounds directory cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config)
			if err == nil {
				t.Fatalf("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestSynthesizeWritesULawSound(t *testing.T) {
	requests := 0
	server := speechServer(t, &requests)
	defer server.Close()

	client := newTestClient(t, server.URL)

	sound, err := client.Synthesize(context.Background(), "Welcome to NPCL!", "en-IN")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if sound.Cached {
		t.Errorf("Expected first synthesis to miss the cache")
	}
	if !strings.HasPrefix(sound.URI, "sound:npcl/tts-") {
		t.Errorf("Expected playback URI under npcl/, got %s", sound.URI)
	}
	if filepath.Ext(sound.Path) != ".ulaw" {
		t.Errorf("Expected ulaw sound file, got %s", sound.Path)
	}

	data, err := os.ReadFile(sound.Path)
	if err != nil {
		t.Fatalf("Failed to read sound file: %v", err)
	}

	// 240 samples at 24kHz downsample to 80 samples, one ulaw byte each.
	if len(data) != 80 {
		t.Errorf("Expected 80 ulaw bytes, got %d", len(data))
	}
	if requests != 1 {
		t.Errorf("Expected 1 API request, got %d", requests)
	}
}

func TestSynthesizeCacheHit(t *testing.T) {
	requests := 0
	server := speechServer(t, &requests)
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	first, err := client.Synthesize(ctx, "नमस्ते", "hi-IN")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	second, err := client.Synthesize(ctx, "नमस्ते", "hi-IN")
	if err != nil {
		t.Fatalf("Second synthesize failed: %v", err)
	}

	if !second.Cached {
		t.Errorf("Expected second synthesis to hit the cache")
	}
	if first.Path != second.Path {
		t.Errorf("Expected identical cache paths, got %s and %s", first.Path, second.Path)
	}
	if requests != 1 {
		t.Errorf("Expected 1 API request, got %d", requests)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 2 || stats.CacheHits != 1 {
		t.Errorf("Expected 2 requests with 1 cache hit, got %+v", stats)
	}
}

func TestSynthesizeSharesCacheAcrossVoiceConfig(t *testing.T) {
	requests := 0
	server := speechServer(t, &requests)
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	// Bhojpuri and Hindi share the same synthesis voice configuration.
	if _, err := client.Synthesize(ctx, "बिजली", "bho-IN"); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	sound, err := client.Synthesize(ctx, "बिजली", "hi-IN")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if !sound.Cached {
		t.Errorf("Expected Hindi request to reuse the Bhojpuri entry")
	}
	if requests != 1 {
		t.Errorf("Expected 1 API request, got %d", requests)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")

	_, err := client.Synthesize(context.Background(), "", "en-IN")
	if err == nil {
		t.Fatalf("Expected error for empty text but got none")
	}
	if !strings.Contains(err.Error(), "text cannot be empty") {
		t.Errorf("Expected empty text error, got: %v", err)
	}
}
