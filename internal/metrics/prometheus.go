package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice assistant
type Metrics struct {
	// Call metrics
	ActiveCalls    prometheus.Gauge
	CallsStarted   prometheus.Counter
	CallsCompleted prometheus.Counter
	CallDuration   prometheus.Histogram
	Interruptions  prometheus.Counter

	// Media transport metrics
	MediaBytesReceived   prometheus.Counter
	MediaBytesSent       prometheus.Counter
	MediaControlMessages *prometheus.CounterVec
	MediaFlowPauses      prometheus.Counter

	// Voice activity metrics
	FramesProcessed   prometheus.Counter
	SpeechFrames      prometheus.Counter
	Utterances        prometheus.Counter
	UtterancesDropped prometheus.Counter
	UtteranceDuration prometheus.Histogram

	// Speech recognition metrics
	STTRequests  prometheus.Counter
	STTSuccesses prometheus.Counter
	STTFailures  prometheus.Counter
	STTDuration  prometheus.Histogram
	STTRetries   prometheus.Counter

	// Speech synthesis metrics
	TTSRequests  prometheus.Counter
	TTSSuccesses prometheus.Counter
	TTSFailures  prometheus.Counter
	TTSCacheHits prometheus.Counter
	TTSDuration  prometheus.Histogram

	// Language model metrics
	LLMRequests prometheus.Counter
	LLMFailures prometheus.Counter
	LLMDuration prometheus.Histogram
	ToolCalls   *prometheus.CounterVec

	// Language detection metrics
	LanguagesDetected *prometheus.CounterVec

	// Persistence metrics
	StoreFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Call metrics
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "npcl_active_calls",
			Help: "Current number of active calls",
		}),
		CallsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_calls_started_total",
			Help: "Total number of calls entering the assistant",
		}),
		CallsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_calls_completed_total",
			Help: "Total number of calls completed",
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "npcl_call_duration_seconds",
			Help:    "Duration of completed calls in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_interruptions_total",
			Help: "Total number of times a caller spoke over assistant playback",
		}),

		// Media transport metrics
		MediaBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_media_bytes_received_total",
			Help: "Total audio bytes received over ExternalMedia connections",
		}),
		MediaBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_media_bytes_sent_total",
			Help: "Total audio bytes sent over ExternalMedia connections",
		}),
		MediaControlMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "npcl_media_control_messages_total",
			Help: "Total control messages received, by verb",
		}, []string{"verb"}),
		MediaFlowPauses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_media_flow_pauses_total",
			Help: "Total number of MEDIA_XOFF flow control pauses",
		}),

		// Voice activity metrics
		FramesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_frames_processed_total",
			Help: "Total number of audio frames run through voice activity detection",
		}),
		SpeechFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_speech_frames_total",
			Help: "Total number of frames classified as speech",
		}),
		Utterances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_utterances_total",
			Help: "Total number of utterances finalized for recognition",
		}),
		UtterancesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_utterances_dropped_total",
			Help: "Total number of utterances dropped as too short",
		}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "npcl_utterance_duration_seconds",
			Help:    "Duration of finalized utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		}),

		// Speech recognition metrics
		STTRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_stt_requests_total",
			Help: "Total number of speech recognition requests sent",
		}),
		STTSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_stt_successes_total",
			Help: "Total number of successful speech recognition requests",
		}),
		STTFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_stt_failures_total",
			Help: "Total number of failed speech recognition requests",
		}),
		STTDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "npcl_stt_duration_seconds",
			Help:    "Duration of speech recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		STTRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_stt_retries_total",
			Help: "Total number of speech recognition request retries",
		}),

		// Speech synthesis metrics
		TTSRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_tts_requests_total",
			Help: "Total number of speech synthesis requests",
		}),
		TTSSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_tts_successes_total",
			Help: "Total number of successful speech synthesis requests",
		}),
		TTSFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_tts_failures_total",
			Help: "Total number of failed speech synthesis requests",
		}),
		TTSCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_tts_cache_hits_total",
			Help: "Total number of synthesis requests served from the sound cache",
		}),
		TTSDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "npcl_tts_duration_seconds",
			Help:    "Duration of speech synthesis requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Language model metrics
		LLMRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_llm_requests_total",
			Help: "Total number of chat completion requests",
		}),
		LLMFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_llm_failures_total",
			Help: "Total number of failed chat completion requests",
		}),
		LLMDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "npcl_llm_duration_seconds",
			Help:    "Duration of chat completion requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "npcl_tool_calls_total",
			Help: "Total number of assistant tool invocations, by tool",
		}, []string{"tool"}),

		// Language detection metrics
		LanguagesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "npcl_languages_detected_total",
			Help: "Total number of utterances per detected language",
		}, []string{"language"}),

		// Persistence metrics
		StoreFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "npcl_store_failures_total",
			Help: "Total number of failed call store writes",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "npcl_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "npcl_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "npcl_http_errors_total",
			Help: "Total number of HTTP error responses",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCallStarted increments the call counters for a new call
func (m *Metrics) RecordCallStarted() {
	m.CallsStarted.Inc()
}

// RecordCallCompleted records a finished call and its duration
func (m *Metrics) RecordCallCompleted(durationSeconds float64) {
	m.CallsCompleted.Inc()
	m.CallDuration.Observe(durationSeconds)
}

// SetActiveCalls sets the current number of active calls
func (m *Metrics) SetActiveCalls(count int) {
	m.ActiveCalls.Set(float64(count))
}

// RecordInterruption counts a caller speaking over assistant playback
func (m *Metrics) RecordInterruption() {
	m.Interruptions.Inc()
}

// RecordMediaReceived adds received audio bytes
func (m *Metrics) RecordMediaReceived(bytes int) {
	m.MediaBytesReceived.Add(float64(bytes))
}

// RecordMediaSent adds sent audio bytes
func (m *Metrics) RecordMediaSent(bytes int) {
	m.MediaBytesSent.Add(float64(bytes))
}

// RecordControlMessage counts a received control message by verb
func (m *Metrics) RecordControlMessage(verb string) {
	m.MediaControlMessages.WithLabelValues(verb).Inc()
}

// RecordFlowPause increments the flow control pause counter
func (m *Metrics) RecordFlowPause() {
	m.MediaFlowPauses.Inc()
}

// RecordFrame counts a processed frame and whether it carried speech
func (m *Metrics) RecordFrame(speech bool) {
	m.FramesProcessed.Inc()
	if speech {
		m.SpeechFrames.Inc()
	}
}

// RecordUtterance records a finalized utterance and its duration
func (m *Metrics) RecordUtterance(durationSeconds float64) {
	m.Utterances.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordUtteranceDropped increments the dropped utterance counter
func (m *Metrics) RecordUtteranceDropped() {
	m.UtterancesDropped.Inc()
}

// RecordSTTRequest increments the recognition requests counter
func (m *Metrics) RecordSTTRequest() {
	m.STTRequests.Inc()
}

// RecordSTTSuccess records a successful recognition
func (m *Metrics) RecordSTTSuccess(durationSeconds float64) {
	m.STTSuccesses.Inc()
	m.STTDuration.Observe(durationSeconds)
}

// RecordSTTFailure records a failed recognition
func (m *Metrics) RecordSTTFailure(durationSeconds float64) {
	m.STTFailures.Inc()
	m.STTDuration.Observe(durationSeconds)
}

// RecordSTTRetry increments the recognition retry counter
func (m *Metrics) RecordSTTRetry() {
	m.STTRetries.Inc()
}

// RecordTTSRequest increments the synthesis requests counter
func (m *Metrics) RecordTTSRequest() {
	m.TTSRequests.Inc()
}

// RecordTTSSuccess records a successful synthesis
func (m *Metrics) RecordTTSSuccess(durationSeconds float64) {
	m.TTSSuccesses.Inc()
	m.TTSDuration.Observe(durationSeconds)
}

// RecordTTSFailure records a failed synthesis
func (m *Metrics) RecordTTSFailure(durationSeconds float64) {
	m.TTSFailures.Inc()
	m.TTSDuration.Observe(durationSeconds)
}

// RecordTTSCacheHit increments the sound cache hit counter
func (m *Metrics) RecordTTSCacheHit() {
	m.TTSCacheHits.Inc()
}

// RecordLLMRequest increments the completion requests counter
func (m *Metrics) RecordLLMRequest() {
	m.LLMRequests.Inc()
}

// RecordLLMSuccess records a successful completion
func (m *Metrics) RecordLLMSuccess(durationSeconds float64) {
	m.LLMDuration.Observe(durationSeconds)
}

// RecordLLMFailure records a failed completion
func (m *Metrics) RecordLLMFailure(durationSeconds float64) {
	m.LLMFailures.Inc()
	m.LLMDuration.Observe(durationSeconds)
}

// RecordToolCall counts an assistant tool invocation
func (m *Metrics) RecordToolCall(tool string) {
	m.ToolCalls.WithLabelValues(tool).Inc()
}

// RecordLanguageDetected counts an utterance in the detected language
func (m *Metrics) RecordLanguageDetected(language string) {
	m.LanguagesDetected.WithLabelValues(language).Inc()
}

// RecordStoreFailure counts a failed write to the call store
func (m *Metrics) RecordStoreFailure() {
	m.StoreFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error response
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
