package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/sync/singleflight"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/language"
)

// playbackRate is the sample rate Asterisk expects for raw ulaw sound files.
const playbackRate = 8000

// Client synthesizes assistant speech through the OpenAI speech API and
// caches the results as ulaw sound files Asterisk can play directly.
type Client struct {
	config Config
	api    openai.Client
	group  singleflight.Group

	// Statistics
	totalRequests  uint64
	cacheHits      uint64
	failedRequests uint64
	avgSynthesis   time.Duration

	mu sync.RWMutex
}

// Config contains synthesis client configuration
type Config struct {
	Model     string
	Voice     string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	SoundsDir string
	Speed     float64
}

// Sound is a synthesized utterance on disk. URI is the Asterisk playback
// reference, assuming SoundsDir lives under the Asterisk sounds root.
type Sound struct {
	Key    string `json:"key"`
	Path   string `json:"path"`
	URI    string `json:"uri"`
	Cached bool   `json:"cached"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests  uint64        `json:"total_requests"`
	CacheHits      uint64        `json:"cache_hits"`
	FailedRequests uint64        `json:"failed_requests"`
	AvgSynthesis   time.Duration `json:"avg_synthesis"`
}

// NewClient creates a new synthesis client and ensures the sounds
// directory exists
func NewClient(config Config) (*Client, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.Voice == "" {
		return nil, fmt.Errorf("voice cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.SoundsDir == "" {
		return nil, fmt.Errorf("sounds directory cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.Speed <= 0 {
		config.Speed = 1.0
	}

	if err := os.MkdirAll(config.SoundsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sounds directory: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.Timeout),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		config: config,
		api:    openai.NewClient(opts...),
	}, nil
}

// Synthesize turns text into a playable sound file for the given language.
// Identical requests share one cache entry; languages that share a voice
// configuration, such as Bhojpuri and Hindi, share entries too. Concurrent
// calls for the same key are collapsed into a single API request.
func (c *Client) Synthesize(ctx context.Context, text, languageCode string) (*Sound, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	c.incrementTotalRequests()

	lang, tld := language.TTSParams(languageCode)
	key := c.cacheKey(text, lang, tld)
	path := filepath.Join(c.config.SoundsDir, key+".ulaw")

	if _, err := os.Stat(path); err == nil {
		c.incrementCacheHits()
		return c.sound(key, path, true), nil
	}

	_, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have written the file while this one
		// waited on the group.
		if _, err := os.Stat(path); err == nil {
			return nil, nil
		}
		return nil, c.synthesizeToFile(ctx, text, lang, path)
	})
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	return c.sound(key, path, false), nil
}

// synthesizeToFile performs one speech API call and writes the converted
// result atomically
func (c *Client) synthesizeToFile(ctx context.Context, text, lang, path string) error {
	startTime := time.Now()

	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.config.Model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(c.config.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if c.config.Speed != 1.0 {
		params.Speed = openai.Float(c.config.Speed)
	}
	if instructions := speechInstructions(lang); instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	resp, err := c.api.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read speech response: %w", err)
	}

	ulaw, err := convertToPlayback(wav)
	if err != nil {
		return fmt.Errorf("failed to convert speech audio: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ulaw, 0644); err != nil {
		return fmt.Errorf("failed to write sound file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize sound file: %w", err)
	}

	c.updateAvgSynthesis(time.Since(startTime))
	return nil
}

// convertToPlayback turns a synthesized WAV into raw 8 kHz ulaw
func convertToPlayback(wav []byte) ([]byte, error) {
	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, err
	}

	pcm, err = audio.Downsample(pcm, rate, playbackRate)
	if err != nil {
		return nil, err
	}

	return audio.EncodeULaw(pcm)
}

// speechInstructions steers newer speech models toward the target
// language. English needs no steering.
func speechInstructions(lang string) string {
	info, ok := language.Lookup(lang)
	if !ok || info.Code == language.English {
		return ""
	}
	return fmt.Sprintf("Speak in %s.", info.Name)
}

// cacheKey derives the cache file name for one synthesis request
func (c *Client) cacheKey(text, lang, tld string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%.2f|%s",
		c.config.Model, c.config.Voice, lang, tld, c.config.Speed, text)))
	return "tts-" + hex.EncodeToString(h[:8])
}

func (c *Client) sound(key, path string, cached bool) *Sound {
	return &Sound{
		Key:    key,
		Path:   path,
		URI:    "sound:" + filepath.Base(c.config.SoundsDir) + "/" + key,
		Cached: cached,
	}
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementCacheHits() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgSynthesis(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgSynthesis == 0 {
		c.avgSynthesis = elapsed
	} else {
		c.avgSynthesis = (c.avgSynthesis + elapsed) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		TotalRequests:  c.totalRequests,
		CacheHits:      c.cacheHits,
		FailedRequests: c.failedRequests,
		AvgSynthesis:   c.avgSynthesis,
	}
}
