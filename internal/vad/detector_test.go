package vad

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"
)

// pcmFrame builds a mono PCM16LE buffer of alternating +amplitude/-amplitude
// samples. Alternating keeps the DC mean at zero, so frame energy in dB is
// 20*log10(amplitude/32768).
func pcmFrame(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := amplitude
		if i%2 == 1 {
			s = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func mustDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return d
}

func TestNewDetector(t *testing.T) {
	cfg := DefaultConfig()
	d, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	if d == nil {
		t.Fatal("NewDetector returned nil")
	}

	if d.FrameLen() != 320 {
		t.Errorf("Expected frame length 320, got %d", d.FrameLen())
	}

	if d.FrameBytes() != 640 {
		t.Errorf("Expected frame size 640 bytes, got %d", d.FrameBytes())
	}

	if d.State() != StateSilence {
		t.Errorf("Expected initial state silence, got %s", d.State())
	}

	if _, set := d.NoiseFloorDB(); set {
		t.Error("Expected noise floor to be unset before the first frame")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "defaults",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "zero sample rate",
			mutate:    func(c *Config) { c.SampleRate = 0 },
			expectErr: true,
		},
		{
			name:      "negative frame duration",
			mutate:    func(c *Config) { c.FrameMs = -20 },
			expectErr: true,
		},
		{
			name:      "fractional samples per frame",
			mutate:    func(c *Config) { c.SampleRate = 22050; c.FrameMs = 25 },
			expectErr: true,
		},
		{
			name:      "negative min speech",
			mutate:    func(c *Config) { c.MinSpeechMs = -1 },
			expectErr: true,
		},
		{
			name:      "negative min silence",
			mutate:    func(c *Config) { c.MinSilenceMs = -1 },
			expectErr: true,
		},
		{
			name:      "negative hangover",
			mutate:    func(c *Config) { c.HangoverMs = -1 },
			expectErr: true,
		},
		{
			name:      "zero learning rate",
			mutate:    func(c *Config) { c.NoiseLR = 0 },
			expectErr: true,
		},
		{
			name:      "learning rate above one",
			mutate:    func(c *Config) { c.NoiseLR = 1.5 },
			expectErr: true,
		},
		{
			name:      "off margin above on margin",
			mutate:    func(c *Config) { c.OnMarginDB = 6.0; c.OffMarginDB = 10.0 },
			expectErr: true,
		},
		{
			name:      "positive floor",
			mutate:    func(c *Config) { c.MinFloorDB = 10.0 },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestProcessFrameWrongLength(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	tests := []struct {
		name string
		size int
	}{
		{name: "empty", size: 0},
		{name: "one byte short", size: 639},
		{name: "one byte long", size: 641},
		{name: "half frame", size: 320},
		{name: "double frame", size: 1280},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.ProcessFrame(make([]byte, tt.size))
			if err == nil {
				t.Errorf("Expected error for %d byte frame", tt.size)
			}
		})
	}

	// A rejected frame must not advance detector state.
	if d.totalFrames != 0 {
		t.Errorf("Expected 0 frames counted after rejected input, got %d", d.totalFrames)
	}
	if _, set := d.NoiseFloorDB(); set {
		t.Error("Expected noise floor to stay unset after rejected input")
	}
}

func TestAllZeroFramesStaySilence(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)
	frame := make([]byte, d.FrameBytes())

	for i := 0; i < 100; i++ {
		speech, err := d.ProcessFrame(frame)
		if err != nil {
			t.Fatalf("Failed to process frame %d: %v", i, err)
		}
		if speech {
			t.Fatalf("All-zero frame %d classified as speech", i)
		}
	}

	floor, set := d.NoiseFloorDB()
	if !set {
		t.Fatal("Expected noise floor to be initialized")
	}
	if floor != cfg.MinFloorDB {
		t.Errorf("Expected noise floor clamped to %.1f, got %f", cfg.MinFloorDB, floor)
	}
}

func TestSpeechOnsetDebounce(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)

	quiet := pcmFrame(100, cfg.FrameLen())
	loud := pcmFrame(1000, cfg.FrameLen()) // +20dB relative to quiet

	// Let the noise floor settle near the quiet level.
	for i := 0; i < 10; i++ {
		speech, err := d.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("Failed to process quiet frame %d: %v", i, err)
		}
		if speech {
			t.Fatalf("Quiet frame %d classified as speech", i)
		}
	}

	// The transition requires MinSpeechMs of consecutive speech-like
	// frames: with 20ms frames and 120ms debounce that is frame 6.
	debounceFrames := cfg.MinSpeechMs / cfg.FrameMs
	for i := 1; i <= 10; i++ {
		speech, err := d.ProcessFrame(loud)
		if err != nil {
			t.Fatalf("Failed to process loud frame %d: %v", i, err)
		}
		if i < debounceFrames && speech {
			t.Errorf("Speech reported at loud frame %d, before the %d frame debounce", i, debounceFrames)
		}
		if i >= debounceFrames && !speech {
			t.Errorf("No speech reported at loud frame %d, debounce is %d frames", i, debounceFrames)
		}
	}

	if d.State() != StateSpeech {
		t.Errorf("Expected state speech after sustained tone, got %s", d.State())
	}
}

func TestHangoverAbsorbsBriefDips(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)

	quiet := pcmFrame(100, cfg.FrameLen())
	loud := pcmFrame(1000, cfg.FrameLen())

	for i := 0; i < 10; i++ {
		d.ProcessFrame(quiet)
	}
	for i := 0; i < 10; i++ {
		d.ProcessFrame(loud)
	}
	if d.State() != StateSpeech {
		t.Fatalf("Expected speech state before the dip, got %s", d.State())
	}

	// One quiet frame, then speech resumes. The hangover window must keep
	// the detector in speech across the dip.
	speech, err := d.ProcessFrame(quiet)
	if err != nil {
		t.Fatalf("Failed to process dip frame: %v", err)
	}
	if !speech {
		t.Error("Single low-energy frame dropped the detector out of speech")
	}

	for i := 0; i < 5; i++ {
		speech, err = d.ProcessFrame(loud)
		if err != nil {
			t.Fatalf("Failed to process resumed frame %d: %v", i, err)
		}
		if !speech {
			t.Errorf("Speech lost at resumed frame %d after a single dip", i)
		}
	}
}

func TestSilenceConfirmation(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)

	quiet := pcmFrame(100, cfg.FrameLen())
	loud := pcmFrame(1000, cfg.FrameLen())

	for i := 0; i < 10; i++ {
		d.ProcessFrame(quiet)
	}
	for i := 0; i < 10; i++ {
		d.ProcessFrame(loud)
	}
	if d.State() != StateSpeech {
		t.Fatalf("Expected speech state, got %s", d.State())
	}

	// Hangover (120ms = 6 frames) must be exhausted before silence
	// counting starts, then MinSilenceMs (200ms = 10 frames) must pass.
	hangFrames := cfg.HangoverMs / cfg.FrameMs
	silenceFrames := cfg.MinSilenceMs / cfg.FrameMs
	transitionFrame := hangFrames + silenceFrames

	for i := 1; i <= transitionFrame+2; i++ {
		speech, err := d.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("Failed to process trailing frame %d: %v", i, err)
		}
		if i < transitionFrame && !speech {
			t.Errorf("Silence confirmed at frame %d, before hangover %d + debounce %d", i, hangFrames, silenceFrames)
		}
		if i >= transitionFrame && speech {
			t.Errorf("Still in speech at frame %d, expected silence from frame %d", i, transitionFrame)
		}
	}
}

func TestResetMatchesFreshDetector(t *testing.T) {
	cfg := DefaultConfig()
	used := mustDetector(t, cfg)
	fresh := mustDetector(t, cfg)

	loud := pcmFrame(2000, cfg.FrameLen())
	for i := 0; i < 25; i++ {
		used.ProcessFrame(loud)
	}
	used.ProcessChunk(pcmFrame(500, cfg.FrameLen()*3))

	if reflect.DeepEqual(used, fresh) {
		t.Fatal("Expected detector state to diverge from fresh before reset")
	}

	used.Reset()

	if !reflect.DeepEqual(used, fresh) {
		t.Errorf("Reset state differs from a fresh detector: %+v vs %+v", used, fresh)
	}
}

func TestProcessChunkMatchesFrameSequence(t *testing.T) {
	cfg := DefaultConfig()
	chunked := mustDetector(t, cfg)
	framed := mustDetector(t, cfg)

	// Quiet lead-in, loud burst, quiet tail, all as one buffer of exact
	// frame multiples.
	var buffer []byte
	for i := 0; i < 8; i++ {
		buffer = append(buffer, pcmFrame(100, cfg.FrameLen())...)
	}
	for i := 0; i < 12; i++ {
		buffer = append(buffer, pcmFrame(1500, cfg.FrameLen())...)
	}
	for i := 0; i < 4; i++ {
		buffer = append(buffer, pcmFrame(100, cfg.FrameLen())...)
	}

	result := chunked.ProcessChunk(buffer)

	frameBytes := cfg.FrameBytes()
	var lastSpeech bool
	for offset := 0; offset < len(buffer); offset += frameBytes {
		speech, err := framed.ProcessFrame(buffer[offset : offset+frameBytes])
		if err != nil {
			t.Fatalf("Failed to process frame at offset %d: %v", offset, err)
		}
		lastSpeech = speech
	}

	if result.SpeechDetected != lastSpeech {
		t.Errorf("Chunk speech flag %v differs from last frame classification %v", result.SpeechDetected, lastSpeech)
	}

	// The decision state must be identical; only the chunk-level energy
	// history is expected to differ between the two paths.
	if chunked.state != framed.state {
		t.Errorf("State differs: chunk path %s, frame path %s", chunked.state, framed.state)
	}
	if chunked.noiseDB != framed.noiseDB || chunked.noiseSet != framed.noiseSet {
		t.Errorf("Noise floor differs: chunk path %f (%v), frame path %f (%v)",
			chunked.noiseDB, chunked.noiseSet, framed.noiseDB, framed.noiseSet)
	}
	if chunked.stateFrames != framed.stateFrames {
		t.Errorf("Debounce counter differs: %d vs %d", chunked.stateFrames, framed.stateFrames)
	}
	if chunked.hangFramesLeft != framed.hangFramesLeft {
		t.Errorf("Hangover counter differs: %d vs %d", chunked.hangFramesLeft, framed.hangFramesLeft)
	}
	if chunked.totalFrames != framed.totalFrames {
		t.Errorf("Frame counter differs: %d vs %d", chunked.totalFrames, framed.totalFrames)
	}
}

func TestProcessChunkTrailingPartial(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)

	// One complete frame plus a 300 byte partial that must be discarded.
	buffer := append(pcmFrame(100, cfg.FrameLen()), make([]byte, 300)...)
	d.ProcessChunk(buffer)

	if d.totalFrames != 1 {
		t.Errorf("Expected 1 complete frame processed, got %d", d.totalFrames)
	}
}

func TestProcessChunkEmpty(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	result := d.ProcessChunk(nil)

	if result.IsSpeaking {
		t.Error("Expected not speaking for empty chunk")
	}
	if result.SpeechDetected {
		t.Error("Expected no speech detected for empty chunk")
	}
	if result.Energy != 0 {
		t.Errorf("Expected zero energy for empty chunk, got %f", result.Energy)
	}
	if result.Timestamp.IsZero() {
		t.Error("Expected non-zero timestamp")
	}
	if d.totalFrames != 0 {
		t.Errorf("Expected no frames processed, got %d", d.totalFrames)
	}
}

func TestProcessChunkEnergyAverage(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)

	// Feed more chunks than the history holds; the average must cover
	// only the most recent window.
	for i := 0; i < energyHistorySize+5; i++ {
		d.ProcessChunk(pcmFrame(100, cfg.FrameLen()))
	}
	if len(d.energyHistory) != energyHistorySize {
		t.Fatalf("Expected history capped at %d chunks, got %d", energyHistorySize, len(d.energyHistory))
	}

	result := d.ProcessChunk(pcmFrame(100, cfg.FrameLen()))
	if math.Abs(result.AverageEnergy-result.Energy) > 1e-9 {
		t.Errorf("Expected average %f to equal constant chunk energy %f", result.AverageEnergy, result.Energy)
	}

	// Alternating amplitude chunk: raw RMS close to the amplitude itself.
	if math.Abs(result.Energy-100) > 1.0 {
		t.Errorf("Expected raw RMS near 100 for amplitude 100, got %f", result.Energy)
	}
}

func TestNoiseFloorAdaptation(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)

	loud := pcmFrame(2000, cfg.FrameLen())
	quiet := pcmFrame(50, cfg.FrameLen())

	d.ProcessFrame(loud)
	floorAfterLoud, _ := d.NoiseFloorDB()

	// Downward adaptation uses NoiseLR and converges within tens of
	// frames; upward adaptation is an order of magnitude slower.
	for i := 0; i < 100; i++ {
		d.ProcessFrame(quiet)
	}
	floorAfterQuiet, _ := d.NoiseFloorDB()
	if floorAfterQuiet >= floorAfterLoud {
		t.Errorf("Noise floor did not adapt downward: %f -> %f", floorAfterLoud, floorAfterQuiet)
	}

	quietDB := 20 * math.Log10(50.0/32768.0)
	if math.Abs(floorAfterQuiet-quietDB) > 1.0 {
		t.Errorf("Expected floor near %f after sustained quiet, got %f", quietDB, floorAfterQuiet)
	}

	d2 := mustDetector(t, cfg)
	d2.ProcessFrame(quiet)
	for i := 0; i < 10; i++ {
		d2.ProcessFrame(loud)
	}
	floorAfterRise, _ := d2.NoiseFloorDB()
	if floorAfterRise-quietDB > 2.0 {
		t.Errorf("Noise floor rose too fast under speech energy: %f -> %f", quietDB, floorAfterRise)
	}
}

func TestDetectorStats(t *testing.T) {
	cfg := DefaultConfig()
	d := mustDetector(t, cfg)

	quiet := pcmFrame(100, cfg.FrameLen())
	loud := pcmFrame(1000, cfg.FrameLen())

	for i := 0; i < 10; i++ {
		d.ProcessFrame(quiet)
	}
	for i := 0; i < 10; i++ {
		d.ProcessFrame(loud)
	}

	stats := d.Stats()
	if stats.TotalFrames != 20 {
		t.Errorf("Expected 20 total frames, got %d", stats.TotalFrames)
	}
	if stats.SpeechFrames == 0 {
		t.Error("Expected some speech frames after sustained tone")
	}
	if stats.State != StateSpeech.String() {
		t.Errorf("Expected state %s, got %s", StateSpeech, stats.State)
	}
	if !stats.NoiseFloorSet {
		t.Error("Expected noise floor to be set")
	}
	if stats.SpeechPercentage < 0 || stats.SpeechPercentage > 100 {
		t.Errorf("Invalid speech percentage: %f", stats.SpeechPercentage)
	}

	t.Logf("Stats: %d/%d speech frames (%.1f%%), floor %.1fdB",
		stats.SpeechFrames, stats.TotalFrames, stats.SpeechPercentage, stats.NoiseFloorDB)
}
