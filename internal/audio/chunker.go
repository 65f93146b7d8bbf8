package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChunkState represents the current state of utterance assembly
type ChunkState int

const (
	StateIdle ChunkState = iota
	StateCollecting
)

// String returns the string representation of the state
func (s ChunkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	default:
		return "unknown"
	}
}

// Utterance represents a finalized span of caller speech ready for
// transcription. Audio is raw PCM16 little-endian at SampleRate.
type Utterance struct {
	ID         string        `json:"id"`
	ChannelID  string        `json:"channel_id"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Frames     int           `json:"frames"`
	Audio      []byte        `json:"-"`
}

// ChunkerConfig contains configuration for utterance assembly
type ChunkerConfig struct {
	MinUtterance  time.Duration // utterances shorter than this are dropped
	MaxUtterance  time.Duration // force a cut beyond this length
	Preroll       time.Duration // audio kept from before speech was confirmed
	FrameDuration time.Duration // duration of one detector frame
	SampleRate    int
}

// DefaultChunkerConfig returns assembly defaults for 20ms frames at 16kHz
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MinUtterance:  300 * time.Millisecond,
		MaxUtterance:  30 * time.Second,
		Preroll:       300 * time.Millisecond,
		FrameDuration: 20 * time.Millisecond,
		SampleRate:    16000,
	}
}

// Validate checks the chunker configuration
func (c *ChunkerConfig) Validate() error {
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive, got %v", c.FrameDuration)
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.MinUtterance < 0 {
		return fmt.Errorf("min utterance must be non-negative, got %v", c.MinUtterance)
	}

	if c.MaxUtterance <= 0 {
		return fmt.Errorf("max utterance must be positive, got %v", c.MaxUtterance)
	}

	if c.MaxUtterance <= c.MinUtterance {
		return fmt.Errorf("max utterance %v must exceed min utterance %v", c.MaxUtterance, c.MinUtterance)
	}

	if c.Preroll < 0 {
		return fmt.Errorf("preroll must be non-negative, got %v", c.Preroll)
	}

	return nil
}

// ChunkerStats represents chunker statistics for monitoring
type ChunkerStats struct {
	ChannelID           string `json:"channel_id"`
	State               string `json:"state"`
	CurrentFrames       int    `json:"current_frames"`
	UtterancesFinalized uint64 `json:"utterances_finalized"`
	UtterancesDropped   uint64 `json:"utterances_dropped"`
	ForcedCuts          uint64 `json:"forced_cuts"`
}

// Chunker assembles detector-confirmed speech into utterances for one
// channel. The detector already debounces speech onset and offset, so two
// states suffice: idle frames feed a preroll ring that preserves the onset
// audio the debounce would otherwise clip, and collecting appends every
// frame until the detector reports silence.
type Chunker struct {
	channelID string
	config    ChunkerConfig

	state ChunkState

	preroll       [][]byte
	prerollFrames int

	current   []byte
	frames    int
	startTime time.Time

	minFrames int
	maxFrames int

	utterancesFinalized uint64
	utterancesDropped   uint64
	forcedCuts          uint64

	mu sync.Mutex
}

// NewChunker creates a chunker for the given channel
func NewChunker(channelID string, config ChunkerConfig) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	return &Chunker{
		channelID:     channelID,
		config:        config,
		state:         StateIdle,
		prerollFrames: int(config.Preroll / config.FrameDuration),
		minFrames:     int(config.MinUtterance / config.FrameDuration),
		maxFrames:     int(config.MaxUtterance / config.FrameDuration),
	}, nil
}

// Push feeds one detector frame and its speech decision. now is the frame
// arrival time. It returns a finalized utterance when the detector reports
// the end of speech or the current utterance reaches the maximum length,
// nil otherwise. The frame is copied and may be reused by the caller.
func (c *Chunker) Push(frame []byte, speaking bool, now time.Time) *Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
		if !speaking {
			c.pushPreroll(frame)
			return nil
		}
		c.begin(frame, now)
		return nil

	case StateCollecting:
		if !speaking {
			utt := c.finalize(now)
			c.pushPreroll(frame)
			return utt
		}

		c.current = append(c.current, frame...)
		c.frames++

		if c.frames >= c.maxFrames {
			c.forcedCuts++
			return c.finalize(now)
		}
		return nil

	default:
		return nil
	}
}

// ForceFinalize cuts the current utterance regardless of detector state.
// Used on hangup or media teardown so trailing speech is not lost.
func (c *Chunker) ForceFinalize(now time.Time) *Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCollecting {
		return nil
	}

	return c.finalize(now)
}

// begin starts a new utterance seeded with the preroll ring and the first
// confirmed speech frame. Caller must hold the mutex.
func (c *Chunker) begin(frame []byte, now time.Time) {
	c.state = StateCollecting
	c.startTime = now.Add(-c.config.FrameDuration * time.Duration(len(c.preroll)))

	c.current = c.current[:0]
	c.frames = 0

	for _, pf := range c.preroll {
		c.current = append(c.current, pf...)
		c.frames++
	}
	c.preroll = c.preroll[:0]

	c.current = append(c.current, frame...)
	c.frames++
}

// finalize cuts the current utterance and returns to idle. Utterances
// shorter than the configured minimum are dropped and nil is returned.
// Caller must hold the mutex.
func (c *Chunker) finalize(now time.Time) *Utterance {
	c.state = StateIdle

	frames := c.frames
	audio := c.current
	c.current = nil
	c.frames = 0

	if frames < c.minFrames {
		c.utterancesDropped++
		return nil
	}

	c.utterancesFinalized++

	duration := c.config.FrameDuration * time.Duration(frames)
	return &Utterance{
		ID:         uuid.NewString(),
		ChannelID:  c.channelID,
		StartTime:  c.startTime,
		EndTime:    now,
		Duration:   duration,
		SampleRate: c.config.SampleRate,
		Frames:     frames,
		Audio:      audio,
	}
}

// pushPreroll appends a copy of the frame to the preroll ring, evicting the
// oldest frame when full. Caller must hold the mutex.
func (c *Chunker) pushPreroll(frame []byte) {
	if c.prerollFrames == 0 {
		return
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)

	if len(c.preroll) >= c.prerollFrames {
		copy(c.preroll, c.preroll[1:])
		c.preroll[len(c.preroll)-1] = cp
		return
	}

	c.preroll = append(c.preroll, cp)
}

// State returns the current chunker state
func (c *Chunker) State() ChunkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChannelID returns the channel this chunker belongs to
func (c *Chunker) ChannelID() string {
	return c.channelID
}

// Reset discards any partial utterance and the preroll ring
func (c *Chunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateIdle
	c.preroll = c.preroll[:0]
	c.current = nil
	c.frames = 0
}

// Stats returns current chunker statistics
func (c *Chunker) Stats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		ChannelID:           c.channelID,
		State:               c.state.String(),
		CurrentFrames:       c.frames,
		UtterancesFinalized: c.utterancesFinalized,
		UtterancesDropped:   c.utterancesDropped,
		ForcedCuts:          c.forcedCuts,
	}
}
