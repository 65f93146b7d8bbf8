package audio

import (
	"fmt"
	"sync"
	"time"
)

// Framer accumulates media payloads for one channel and re-cuts them into
// fixed-size PCM frames for voice activity detection. ExternalMedia delivers
// payloads in order over a single connection, so no sequence reordering is
// needed; payload boundaries just do not have to line up with frame
// boundaries.
type Framer struct {
	channelID  string
	frameBytes int

	pending []byte

	totalBytes  uint64
	totalFrames uint64
	lastUpdate  time.Time

	mu sync.Mutex
}

// FramerStats represents framer statistics for monitoring
type FramerStats struct {
	ChannelID    string    `json:"channel_id"`
	FrameBytes   int       `json:"frame_bytes"`
	TotalBytes   uint64    `json:"total_bytes"`
	TotalFrames  uint64    `json:"total_frames"`
	PendingBytes int       `json:"pending_bytes"`
	LastUpdate   time.Time `json:"last_update"`
}

// NewFramer creates a framer producing frames of the given byte size
func NewFramer(channelID string, frameBytes int) (*Framer, error) {
	if frameBytes <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d bytes", frameBytes)
	}

	if frameBytes%2 != 0 {
		return nil, fmt.Errorf("frame size must be even for PCM16, got %d bytes", frameBytes)
	}

	return &Framer{
		channelID:  channelID,
		frameBytes: frameBytes,
		pending:    make([]byte, 0, frameBytes*4),
		lastUpdate: time.Now(),
	}, nil
}

// Push appends a media payload and returns all complete frames now
// available. Returned frames are copies and safe to retain. Bytes beyond
// the last complete frame stay pending for the next payload.
func (f *Framer) Push(data []byte) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, data...)
	f.totalBytes += uint64(len(data))
	f.lastUpdate = time.Now()

	n := len(f.pending) / f.frameBytes
	if n == 0 {
		return nil
	}

	frames := make([][]byte, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.pending[i*f.frameBytes:(i+1)*f.frameBytes])
		frames[i] = frame
	}

	remainder := len(f.pending) % f.frameBytes
	copy(f.pending, f.pending[n*f.frameBytes:])
	f.pending = f.pending[:remainder]

	f.totalFrames += uint64(n)
	return frames
}

// Pending returns the number of buffered bytes not yet forming a frame
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Reset discards pending bytes and counters
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = f.pending[:0]
	f.totalBytes = 0
	f.totalFrames = 0
	f.lastUpdate = time.Now()
}

// ChannelID returns the channel this framer belongs to
func (f *Framer) ChannelID() string {
	return f.channelID
}

// FrameBytes returns the configured frame size in bytes
func (f *Framer) FrameBytes() int {
	return f.frameBytes
}

// LastUpdate returns the time of the last pushed payload
func (f *Framer) LastUpdate() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdate
}

// Stats returns current framer statistics
func (f *Framer) Stats() FramerStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return FramerStats{
		ChannelID:    f.channelID,
		FrameBytes:   f.frameBytes,
		TotalBytes:   f.totalBytes,
		TotalFrames:  f.totalFrames,
		PendingBytes: len(f.pending),
		LastUpdate:   f.lastUpdate,
	}
}
