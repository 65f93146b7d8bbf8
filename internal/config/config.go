package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete assistant configuration
type Config struct {
	ARI       ARIConfig       `yaml:"ari"`
	Media     MediaConfig     `yaml:"media"`
	HTTP      HTTPConfig      `yaml:"http"`
	VAD       VADConfig       `yaml:"vad"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	STT       STTConfig       `yaml:"stt"`
	TTS       TTSConfig       `yaml:"tts"`
	LLM       LLMConfig       `yaml:"llm"`
	Assistant AssistantConfig `yaml:"assistant"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ARIConfig contains the Asterisk REST Interface connection settings
type ARIConfig struct {
	URL          string `yaml:"url"`
	WebsocketURL string `yaml:"websocket_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Application  string `yaml:"application"`
}

// MediaConfig contains the ExternalMedia WebSocket server configuration
type MediaConfig struct {
	BindAddress  string `yaml:"bind_address"`
	ExternalHost string `yaml:"external_host"` // host:port Asterisk dials back to, if the bind address is not routable
	Port         int    `yaml:"port"`
	Path         string `yaml:"path"`
	MaxCalls     int    `yaml:"max_calls"`
	StartTimeout int    `yaml:"start_timeout"` // seconds to wait for MEDIA_START
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// HTTPConfig contains the monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// VADConfig contains voice activity detection tuning. The sample rate is
// not configured here; each call negotiates it through MEDIA_START.
type VADConfig struct {
	FrameMs      int     `yaml:"frame_ms"`
	MinSpeechMs  int     `yaml:"min_speech_ms"`
	MinSilenceMs int     `yaml:"min_silence_ms"`
	NoiseLR      float64 `yaml:"noise_lr"`
	OnMarginDB   float64 `yaml:"on_margin_db"`
	OffMarginDB  float64 `yaml:"off_margin_db"`
	HangoverMs   int     `yaml:"hangover_ms"`
	MinFloorDB   float64 `yaml:"min_floor_db"`
}

// ChunkingConfig contains utterance assembly tuning
type ChunkingConfig struct {
	MinUtteranceMs int `yaml:"min_utterance_ms"`
	MaxUtteranceMs int `yaml:"max_utterance_ms"`
	PrerollMs      int `yaml:"preroll_ms"`
}

// STTConfig contains speech recognition client configuration
type STTConfig struct {
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// TTSConfig contains speech synthesis client configuration
type TTSConfig struct {
	Model     string  `yaml:"model"`
	Voice     string  `yaml:"voice"`
	APIKey    string  `yaml:"api_key"`
	BaseURL   string  `yaml:"base_url"`
	Timeout   int     `yaml:"timeout"` // seconds
	SoundsDir string  `yaml:"sounds_dir"`
	Speed     float64 `yaml:"speed"`
}

// LLMConfig contains language model client configuration
type LLMConfig struct {
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"` // seconds
	MaxRetries  int     `yaml:"max_retries"`
}

// AssistantConfig contains conversation behavior settings
type AssistantConfig struct {
	DefaultLanguage    string `yaml:"default_language"`
	AutoDetectLanguage bool   `yaml:"auto_detect_language"`
	Interruptible      bool   `yaml:"interruptible"`
	NoInputTimeout     int    `yaml:"no_input_timeout"`  // seconds
	NoInputStrikes     int    `yaml:"no_input_strikes"`  // reprompts before hanging up
	MaxCallDuration    int    `yaml:"max_call_duration"` // seconds
	MaxHistoryTurns    int    `yaml:"max_history_turns"`
}

// StoreConfig contains call store configuration
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration defaults. Explicit file values and
// environment overrides are layered on top.
func Default() *Config {
	return &Config{
		ARI: ARIConfig{
			URL:          "http://localhost:8088/ari",
			WebsocketURL: "ws://localhost:8088/ari/events",
			Username:     "asterisk",
			Password:     "asterisk",
			Application:  "npcl-assistant",
		},
		Media: MediaConfig{
			BindAddress:  "0.0.0.0",
			Port:         8090,
			Path:         "/media",
			MaxCalls:     50,
			StartTimeout: 10,
			WriteTimeout: 5,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		VAD: VADConfig{
			FrameMs:      20,
			MinSpeechMs:  120,
			MinSilenceMs: 200,
			NoiseLR:      0.05,
			OnMarginDB:   10.0,
			OffMarginDB:  6.0,
			HangoverMs:   120,
			MinFloorDB:   -70.0,
		},
		Chunking: ChunkingConfig{
			MinUtteranceMs: 300,
			MaxUtteranceMs: 30000,
			PrerollMs:      300,
		},
		STT: STTConfig{
			Model:         "whisper-1",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		TTS: TTSConfig{
			Model:     "gpt-4o-mini-tts",
			Voice:     "alloy",
			Timeout:   30,
			SoundsDir: "/var/lib/asterisk/sounds/npcl",
			Speed:     1.0,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   256,
			Temperature: 0.7,
			Timeout:     30,
			MaxRetries:  2,
		},
		Assistant: AssistantConfig{
			DefaultLanguage:    "en-IN",
			AutoDetectLanguage: true,
			Interruptible:      true,
			NoInputTimeout:     15,
			NoInputStrikes:     3,
			MaxCallDuration:    3600,
			MaxHistoryTurns:    20,
		},
		Store: StoreConfig{
			Path: "npcl_assistant.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, layers it over the defaults, applies
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides lets deployment environments inject connection details
// and credentials without touching the config file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ARI_URL"); v != "" {
		c.ARI.URL = v
	}
	if v := os.Getenv("ARI_WEBSOCKET_URL"); v != "" {
		c.ARI.WebsocketURL = v
	}
	if v := os.Getenv("ARI_USERNAME"); v != "" {
		c.ARI.Username = v
	}
	if v := os.Getenv("ARI_PASSWORD"); v != "" {
		c.ARI.Password = v
	}
	if v := os.Getenv("ARI_APPLICATION"); v != "" {
		c.ARI.Application = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.STT.APIKey == "" {
			c.STT.APIKey = v
		}
		if c.TTS.APIKey == "" {
			c.TTS.APIKey = v
		}
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
	}

	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		if c.STT.BaseURL == "" {
			c.STT.BaseURL = v
		}
		if c.TTS.BaseURL == "" {
			c.TTS.BaseURL = v
		}
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = v
		}
	}

	if v := os.Getenv("NPCL_MEDIA_EXTERNAL_HOST"); v != "" {
		c.Media.ExternalHost = v
	}

	if v := os.Getenv("NPCL_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.ARI.Validate(); err != nil {
		return fmt.Errorf("ari config: %w", err)
	}

	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}

	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.Assistant.Validate(); err != nil {
		return fmt.Errorf("assistant config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates ARI configuration
func (a *ARIConfig) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if a.WebsocketURL == "" {
		return fmt.Errorf("websocket_url cannot be empty")
	}

	if a.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if a.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if a.Application == "" {
		return fmt.Errorf("application cannot be empty")
	}

	return nil
}

// Validate validates media server configuration
func (m *MediaConfig) Validate() error {
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", m.Port)
	}

	if m.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if m.Path == "" || m.Path[0] != '/' {
		return fmt.Errorf("path must start with /, got %q", m.Path)
	}

	if m.MaxCalls < 1 {
		return fmt.Errorf("max_calls must be at least 1, got %d", m.MaxCalls)
	}

	if m.StartTimeout < 1 {
		return fmt.Errorf("start_timeout must be at least 1 second, got %d", m.StartTimeout)
	}

	if m.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", m.WriteTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.FrameMs <= 0 {
		return fmt.Errorf("frame_ms must be positive, got %d", v.FrameMs)
	}

	if v.MinSpeechMs < 0 {
		return fmt.Errorf("min_speech_ms must be non-negative, got %d", v.MinSpeechMs)
	}

	if v.MinSilenceMs < 0 {
		return fmt.Errorf("min_silence_ms must be non-negative, got %d", v.MinSilenceMs)
	}

	if v.NoiseLR <= 0 || v.NoiseLR > 1 {
		return fmt.Errorf("noise_lr must be in (0, 1], got %g", v.NoiseLR)
	}

	if v.OffMarginDB > v.OnMarginDB {
		return fmt.Errorf("off_margin_db (%g) must not exceed on_margin_db (%g)", v.OffMarginDB, v.OnMarginDB)
	}

	if v.HangoverMs < 0 {
		return fmt.Errorf("hangover_ms must be non-negative, got %d", v.HangoverMs)
	}

	if v.MinFloorDB >= 0 {
		return fmt.Errorf("min_floor_db must be negative, got %g", v.MinFloorDB)
	}

	return nil
}

// Validate validates chunking configuration
func (c *ChunkingConfig) Validate() error {
	if c.MinUtteranceMs < 0 {
		return fmt.Errorf("min_utterance_ms must be non-negative, got %d", c.MinUtteranceMs)
	}

	if c.MaxUtteranceMs <= c.MinUtteranceMs {
		return fmt.Errorf("max_utterance_ms (%d) must exceed min_utterance_ms (%d)",
			c.MaxUtteranceMs, c.MinUtteranceMs)
	}

	if c.PrerollMs < 0 {
		return fmt.Errorf("preroll_ms must be non-negative, got %d", c.PrerollMs)
	}

	return nil
}

// Validate validates STT configuration
func (s *STTConfig) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	return nil
}

// Validate validates TTS configuration
func (t *TTSConfig) Validate() error {
	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.SoundsDir == "" {
		return fmt.Errorf("sounds_dir cannot be empty")
	}

	if t.Speed < 0.25 || t.Speed > 4.0 {
		return fmt.Errorf("speed must be between 0.25 and 4.0, got %.2f", t.Speed)
	}

	return nil
}

// Validate validates LLM configuration
func (l *LLMConfig) Validate() error {
	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
	}

	if l.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", l.MaxTokens)
	}

	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", l.Temperature)
	}

	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}

	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", l.MaxRetries)
	}

	return nil
}

// Validate validates assistant configuration
func (a *AssistantConfig) Validate() error {
	if a.DefaultLanguage == "" {
		return fmt.Errorf("default_language cannot be empty")
	}

	if a.NoInputTimeout < 1 {
		return fmt.Errorf("no_input_timeout must be at least 1 second, got %d", a.NoInputTimeout)
	}

	if a.NoInputStrikes < 1 {
		return fmt.Errorf("no_input_strikes must be at least 1, got %d", a.NoInputStrikes)
	}

	if a.MaxCallDuration < 1 {
		return fmt.Errorf("max_call_duration must be at least 1 second, got %d", a.MaxCallDuration)
	}

	if a.MaxHistoryTurns < 1 {
		return fmt.Errorf("max_history_turns must be at least 1, got %d", a.MaxHistoryTurns)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetFrameDuration returns the detector frame length as a time.Duration
func (v *VADConfig) GetFrameDuration() time.Duration {
	return time.Duration(v.FrameMs) * time.Millisecond
}

// GetMinUtterance returns the minimum utterance length as a time.Duration
func (c *ChunkingConfig) GetMinUtterance() time.Duration {
	return time.Duration(c.MinUtteranceMs) * time.Millisecond
}

// GetMaxUtterance returns the maximum utterance length as a time.Duration
func (c *ChunkingConfig) GetMaxUtterance() time.Duration {
	return time.Duration(c.MaxUtteranceMs) * time.Millisecond
}

// GetPreroll returns the preroll length as a time.Duration
func (c *ChunkingConfig) GetPreroll() time.Duration {
	return time.Duration(c.PrerollMs) * time.Millisecond
}

// ExternalMediaURL returns the WebSocket URL Asterisk dials to reach
// the media server. A wildcard bind address is not routable and falls
// back to loopback unless external_host is set.
func (m *MediaConfig) ExternalMediaURL() string {
	host := m.ExternalHost
	if host == "" {
		addr := m.BindAddress
		if addr == "" || addr == "0.0.0.0" || addr == "::" {
			addr = "127.0.0.1"
		}
		host = fmt.Sprintf("%s:%d", addr, m.Port)
	}
	return fmt.Sprintf("ws://%s%s", host, m.Path)
}

// GetStartTimeout returns the MEDIA_START wait as a time.Duration
func (m *MediaConfig) GetStartTimeout() time.Duration {
	return time.Duration(m.StartTimeout) * time.Second
}

// GetWriteTimeout returns the socket write timeout as a time.Duration
func (m *MediaConfig) GetWriteTimeout() time.Duration {
	return time.Duration(m.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the recognition timeout as a time.Duration
func (s *STTConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (t *TTSConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the completion timeout as a time.Duration
func (l *LLMConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// GetNoInputTimeout returns the reprompt delay as a time.Duration
func (a *AssistantConfig) GetNoInputTimeout() time.Duration {
	return time.Duration(a.NoInputTimeout) * time.Second
}

// GetMaxCallDuration returns the call duration cap as a time.Duration
func (a *AssistantConfig) GetMaxCallDuration() time.Duration {
	return time.Duration(a.MaxCallDuration) * time.Second
}
