package vad

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// rmsEpsilon keeps the mean-square sum strictly positive before the
	// square root; logEpsilon does the same for the logarithm. Together
	// they map all-zero frames to MinFloorDB instead of -Inf.
	rmsEpsilon = 1e-12
	logEpsilon = 1e-9

	// The noise floor rises at a fixed slow rate independent of NoiseLR,
	// so sustained speech cannot drag the floor up to its own level.
	noiseRiseKeep = 0.995
	noiseRiseRate = 0.005

	// Number of recent chunk energies kept for the rolling average
	// reported by ProcessChunk.
	energyHistorySize = 10
)

// State is the confirmed classification of the detector.
type State int

const (
	StateSilence State = iota
	StateSpeech
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// Config holds detector tuning parameters
type Config struct {
	SampleRate   int     // Audio sample rate in Hz
	FrameMs      int     // Frame duration in milliseconds
	MinSpeechMs  int     // Consecutive speech-like duration to confirm silence->speech
	MinSilenceMs int     // Consecutive silence-like duration to confirm speech->silence
	NoiseLR      float64 // Learning rate for downward noise-floor adaptation
	OnMarginDB   float64 // Speech-on threshold offset above the noise floor
	OffMarginDB  float64 // Speech-off threshold offset above the noise floor
	HangoverMs   int     // Time to keep reporting speech after energy drops
	MinFloorDB   float64 // Lower clamp for frame energy and the noise floor
}

// DefaultConfig returns the tuning used for 16kHz telephony audio
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		FrameMs:      20,
		MinSpeechMs:  120,
		MinSilenceMs: 200,
		NoiseLR:      0.05,
		OnMarginDB:   10.0,
		OffMarginDB:  6.0,
		HangoverMs:   120,
		MinFloorDB:   -70.0,
	}
}

// Validate checks configuration parameters
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.FrameMs <= 0 {
		return fmt.Errorf("frame duration must be positive, got %dms", c.FrameMs)
	}

	if c.SampleRate*c.FrameMs%1000 != 0 {
		return fmt.Errorf("frame duration %dms does not yield a whole number of samples at %dHz", c.FrameMs, c.SampleRate)
	}

	if c.MinSpeechMs < 0 {
		return fmt.Errorf("min speech duration must not be negative, got %dms", c.MinSpeechMs)
	}

	if c.MinSilenceMs < 0 {
		return fmt.Errorf("min silence duration must not be negative, got %dms", c.MinSilenceMs)
	}

	if c.HangoverMs < 0 {
		return fmt.Errorf("hangover duration must not be negative, got %dms", c.HangoverMs)
	}

	if c.NoiseLR <= 0 || c.NoiseLR > 1 {
		return fmt.Errorf("noise learning rate must be between 0 and 1, got %f", c.NoiseLR)
	}

	if c.OffMarginDB > c.OnMarginDB {
		return fmt.Errorf("off margin must not exceed on margin, got %.1f > %.1f", c.OffMarginDB, c.OnMarginDB)
	}

	if c.MinFloorDB >= 0 {
		return fmt.Errorf("minimum floor must be negative dB, got %.1f", c.MinFloorDB)
	}

	return nil
}

// FrameLen returns the number of samples per frame
func (c Config) FrameLen() int {
	return c.SampleRate * c.FrameMs / 1000
}

// FrameBytes returns the number of bytes per frame (2 bytes per PCM16 sample)
func (c Config) FrameBytes() int {
	return c.FrameLen() * 2
}

// ChunkResult is the outcome of processing one audio chunk
type ChunkResult struct {
	IsSpeaking     bool      `json:"is_speaking"`     // Confirmed detector state after the chunk
	SpeechDetected bool      `json:"speech_detected"` // Classification of the last complete frame
	Energy         float64   `json:"energy"`          // Raw RMS amplitude of the chunk (int16 scale)
	AverageEnergy  float64   `json:"average_energy"`  // Rolling mean over recent chunks
	Timestamp      time.Time `json:"timestamp"`       // When processing occurred
}

// DetectorStats is a snapshot of detector state for monitoring
type DetectorStats struct {
	State            string  `json:"state"`
	NoiseFloorDB     float64 `json:"noise_floor_db"`
	NoiseFloorSet    bool    `json:"noise_floor_set"`
	TotalFrames      uint64  `json:"total_frames"`
	SpeechFrames     uint64  `json:"speech_frames"`
	SpeechPercentage float64 `json:"speech_percentage"`
}

// Detector classifies a stream of fixed-size PCM16 frames as speech or
// silence. Each instance is owned by a single audio stream and must not be
// shared across goroutines; state mutations in ProcessFrame are not atomic
// and callers serialize frame delivery themselves.
type Detector struct {
	cfg      Config
	frameLen int

	noiseDB        float64 // Running noise-floor estimate in dB, valid once noiseSet
	noiseSet       bool
	state          State
	stateFrames    int // Consecutive frames supporting a pending transition
	hangFramesLeft int // Frames remaining in the post-speech hangover window

	energyHistory []float64 // Raw RMS of recent chunks, capped at energyHistorySize

	totalFrames  uint64
	speechFrames uint64
}

// NewDetector creates a detector for one audio stream
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid VAD config: %w", err)
	}

	return &Detector{
		cfg:      cfg,
		frameLen: cfg.FrameLen(),
	}, nil
}

// Config returns the detector configuration
func (d *Detector) Config() Config {
	return d.cfg
}

// FrameLen returns the expected number of samples per frame
func (d *Detector) FrameLen() int {
	return d.frameLen
}

// FrameBytes returns the expected frame size in bytes
func (d *Detector) FrameBytes() int {
	return d.frameLen * 2
}

// State returns the confirmed classification after the last frame
func (d *Detector) State() State {
	return d.state
}

// NoiseFloorDB returns the current noise-floor estimate. The second return
// is false until the first frame has initialized the floor.
func (d *Detector) NoiseFloorDB() (float64, bool) {
	return d.noiseDB, d.noiseSet
}

// Stats returns a snapshot of detector state and frame counters
func (d *Detector) Stats() DetectorStats {
	speechPercentage := float64(0)
	if d.totalFrames > 0 {
		speechPercentage = float64(d.speechFrames) / float64(d.totalFrames) * 100
	}

	return DetectorStats{
		State:            d.state.String(),
		NoiseFloorDB:     d.noiseDB,
		NoiseFloorSet:    d.noiseSet,
		TotalFrames:      d.totalFrames,
		SpeechFrames:     d.speechFrames,
		SpeechPercentage: speechPercentage,
	}
}

// Reset returns the detector to the state of a freshly constructed instance
// with the same configuration. Used when a reused detector starts a new
// call or must resynchronize after a codec change.
func (d *Detector) Reset() {
	d.noiseDB = 0
	d.noiseSet = false
	d.state = StateSilence
	d.stateFrames = 0
	d.hangFramesLeft = 0
	d.energyHistory = nil
	d.totalFrames = 0
	d.speechFrames = 0
}

// ProcessFrame classifies a single frame of exactly FrameBytes() bytes of
// mono little-endian PCM16. It returns true iff the confirmed state after
// this frame is speech. Frames of any other length are rejected so that
// upstream framing bugs surface instead of being truncated away.
func (d *Detector) ProcessFrame(frame []byte) (bool, error) {
	if len(frame) != d.frameLen*2 {
		return false, fmt.Errorf("expected %d byte frame (%d samples), got %d bytes", d.frameLen*2, d.frameLen, len(frame))
	}

	db := d.frameDB(frame)

	if !d.noiseSet {
		d.noiseDB = db
		d.noiseSet = true
	}

	// Track decreasing background noise quickly, rise much slower.
	if db < d.noiseDB {
		d.noiseDB = (1-d.cfg.NoiseLR)*d.noiseDB + d.cfg.NoiseLR*db
	} else {
		d.noiseDB = noiseRiseKeep*d.noiseDB + noiseRiseRate*db
	}

	// Hysteresis: a higher bar to enter speech than to stay in it.
	threshold := d.noiseDB + d.cfg.OnMarginDB
	if d.state == StateSpeech {
		threshold = d.noiseDB + d.cfg.OffMarginDB
	}
	speechLike := db > threshold

	switch d.state {
	case StateSilence:
		if speechLike {
			d.stateFrames++
			if d.stateFrames*d.cfg.FrameMs >= d.cfg.MinSpeechMs {
				d.state = StateSpeech
				d.hangFramesLeft = d.cfg.HangoverMs / d.cfg.FrameMs
				d.stateFrames = 0
			}
		} else {
			d.stateFrames = 0
		}

	case StateSpeech:
		if speechLike {
			d.hangFramesLeft = d.cfg.HangoverMs / d.cfg.FrameMs
			d.stateFrames = 0
		} else if d.hangFramesLeft > 0 {
			// Hangover absorbs brief dips before silence counting starts.
			d.hangFramesLeft--
		} else {
			d.stateFrames++
			if d.stateFrames*d.cfg.FrameMs >= d.cfg.MinSilenceMs {
				d.state = StateSilence
				d.stateFrames = 0
			}
		}
	}

	d.totalFrames++
	if d.state == StateSpeech {
		d.speechFrames++
	}

	return d.state == StateSpeech, nil
}

// ProcessChunk splits an arbitrarily sized buffer into complete frames,
// runs ProcessFrame on each, and reports the classification of the last
// complete frame plus a rolling average of raw chunk energy. A trailing
// partial frame is discarded. Degenerate input never propagates an error;
// the result falls back to silence with zero energies.
func (d *Detector) ProcessChunk(data []byte) ChunkResult {
	result := ChunkResult{Timestamp: time.Now()}

	energy := rawRMS(data)
	d.energyHistory = append(d.energyHistory, energy)
	if len(d.energyHistory) > energyHistorySize {
		d.energyHistory = d.energyHistory[1:]
	}

	var sum float64
	for _, e := range d.energyHistory {
		sum += e
	}
	result.Energy = energy
	result.AverageEnergy = sum / float64(len(d.energyHistory))

	frameBytes := d.frameLen * 2
	for offset := 0; offset+frameBytes <= len(data); offset += frameBytes {
		speech, err := d.ProcessFrame(data[offset : offset+frameBytes])
		if err != nil {
			return ChunkResult{Timestamp: result.Timestamp}
		}
		result.SpeechDetected = speech
	}

	result.IsSpeaking = d.state == StateSpeech
	return result
}

// frameDB computes frame energy in dB: samples normalized to [-1,1], DC
// offset removed, RMS converted via 20*log10 and clamped to MinFloorDB.
func (d *Detector) frameDB(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return d.cfg.MinFloorDB
	}

	samples := make([]float64, n)
	var mean float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768.0
		samples[i] = s
		mean += s
	}
	mean /= float64(n)

	var sumSquares float64
	for _, s := range samples {
		centered := s - mean
		sumSquares += centered * centered
	}

	rms := math.Sqrt(sumSquares/float64(n) + rmsEpsilon)
	db := 20.0 * math.Log10(rms+logEpsilon)

	return math.Max(db, d.cfg.MinFloorDB)
}

// rawRMS computes RMS amplitude on the int16 scale for diagnostics. A
// trailing odd byte is ignored; empty or non-finite input yields zero.
func rawRMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		sum += s * s
	}

	rms := math.Sqrt(sum / float64(n))
	if math.IsNaN(rms) || math.IsInf(rms, 0) {
		return 0
	}
	return rms
}
