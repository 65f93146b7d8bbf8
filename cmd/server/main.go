package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/ari"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/audio"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/config"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/llm"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/metrics"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/server"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/session"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/store"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/stt"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/tts"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "npcl-ari-assistant"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env if present; API keys usually live there
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger, logLevel := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("ari_url", cfg.ARI.URL),
		slog.String("ari_application", cfg.ARI.Application),
		slog.String("media_address", fmt.Sprintf("%s:%d%s", cfg.Media.BindAddress, cfg.Media.Port, cfg.Media.Path)),
		slog.String("external_media_url", cfg.Media.ExternalMediaURL()),
		slog.String("stt_model", cfg.STT.Model),
		slog.String("tts_model", cfg.TTS.Model),
		slog.String("tts_voice", cfg.TTS.Voice),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("default_language", cfg.Assistant.DefaultLanguage),
		slog.String("store_path", cfg.Store.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open the call store
	callStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("Failed to open call store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer callStore.Close()
	logger.Info("Call store opened", slog.String("path", cfg.Store.Path))

	// The detector's sample rate is fixed by the media format requested
	// from Asterisk; only the tuning comes from configuration.
	vadConfig := vad.DefaultConfig()
	vadConfig.FrameMs = cfg.VAD.FrameMs
	vadConfig.MinSpeechMs = cfg.VAD.MinSpeechMs
	vadConfig.MinSilenceMs = cfg.VAD.MinSilenceMs
	vadConfig.NoiseLR = cfg.VAD.NoiseLR
	vadConfig.OnMarginDB = cfg.VAD.OnMarginDB
	vadConfig.OffMarginDB = cfg.VAD.OffMarginDB
	vadConfig.HangoverMs = cfg.VAD.HangoverMs
	vadConfig.MinFloorDB = cfg.VAD.MinFloorDB

	chunkerConfig := audio.ChunkerConfig{
		MinUtterance:  cfg.Chunking.GetMinUtterance(),
		MaxUtterance:  cfg.Chunking.GetMaxUtterance(),
		Preroll:       cfg.Chunking.GetPreroll(),
		FrameDuration: cfg.VAD.GetFrameDuration(),
		SampleRate:    vadConfig.SampleRate,
	}

	// Initialize session manager
	sessionMgr, err := session.NewManager(logger, appMetrics, callStore, session.Config{
		VAD:             vadConfig,
		Chunking:        chunkerConfig,
		DefaultLanguage: cfg.Assistant.DefaultLanguage,
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize speech and language clients
	sttClient, err := stt.NewClient(stt.Config{
		Model:         cfg.STT.Model,
		APIKey:        cfg.STT.APIKey,
		BaseURL:       cfg.STT.BaseURL,
		Timeout:       cfg.STT.GetTimeoutDuration(),
		MaxRetries:    cfg.STT.MaxRetries,
		MaxConcurrent: cfg.STT.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create STT client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ttsClient, err := tts.NewClient(tts.Config{
		Model:     cfg.TTS.Model,
		Voice:     cfg.TTS.Voice,
		APIKey:    cfg.TTS.APIKey,
		BaseURL:   cfg.TTS.BaseURL,
		Timeout:   cfg.TTS.GetTimeoutDuration(),
		SoundsDir: cfg.TTS.SoundsDir,
		Speed:     cfg.TTS.Speed,
	})
	if err != nil {
		logger.Error("Failed to create TTS client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	llmClient, err := llm.NewClient(llm.Config{
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.GetTimeoutDuration(),
		MaxRetries:  cfg.LLM.MaxRetries,
	}, llm.NewToolset())
	if err != nil {
		logger.Error("Failed to create LLM client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Assistant clients initialized",
		slog.String("stt_model", cfg.STT.Model),
		slog.String("tts_model", cfg.TTS.Model),
		slog.String("llm_model", cfg.LLM.Model),
	)

	// Initialize media server
	mediaServer := server.NewMediaServer(cfg.Media, logger, appMetrics, sessionMgr)
	logger.Info("Media server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.HTTPDeps{
			Sessions: sessionMgr,
			Media:    mediaServer,
			Store:    callStore,
			STT:      sttClient,
			TTS:      ttsClient,
			LLM:      llmClient,
		}, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Initialize ARI engine
	engine := ari.NewEngine(cfg, logger, appMetrics, ari.Deps{
		Sessions: sessionMgr,
		Media:    mediaServer,
		STT:      sttClient,
		TTS:      ttsClient,
		LLM:      llmClient,
	})

	// Start media server before connecting to ARI; Asterisk dials back
	// into it as soon as the first call sets up external media
	if err := mediaServer.Start(); err != nil {
		logger.Error("Failed to start media server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Connect to Asterisk and start accepting calls
	if err := engine.Start(); err != nil {
		logger.Error("Failed to start ARI engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Watch the configuration file; the log level applies immediately,
	// everything else needs a restart
	watcher := config.NewWatcher(*configPath, logger, func(next *config.Config) {
		logLevel.Set(parseLogLevel(next.Logging.Level))
		logger.Info("Configuration reloaded",
			slog.String("log_level", next.Logging.Level),
		)
	})
	go func() {
		if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Config watcher stopped", slog.String("error", err.Error()))
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for calls...",
		slog.String("application", cfg.ARI.Application),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop the ARI engine first (stop accepting calls, finish the ones
	// in flight)
	if err := engine.Stop(); err != nil {
		logger.Error("Error stopping ARI engine", slog.String("error", err.Error()))
	}

	// Stop HTTP server (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop media server (close remaining media connections)
	if err := mediaServer.Stop(); err != nil {
		logger.Error("Error stopping media server", slog.String("error", err.Error()))
	}

	// Stop session manager (end remaining sessions and persist them)
	sessionMgr.Stop()

	// Get final statistics
	stats := mediaServer.GetStatistics()
	logger.Info("Final media statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_sent", stats.FramesSent),
		slog.Uint64("decode_errors", stats.DecodeErrors),
	)

	logger.Info("Service stopped")
}

// parseLogLevel maps a configured level name to a slog level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initLogger creates the structured logger. The returned LevelVar lets
// configuration reloads adjust verbosity at runtime.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Level == "debug",
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), level
}
