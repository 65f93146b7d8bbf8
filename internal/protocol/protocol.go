package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Control verbs exchanged as WebSocket text frames. Asterisk sends
// MEDIA_START when the channel driver connects and MEDIA_XOFF/MEDIA_XON to
// pace outbound audio; the service sends HANGUP and ANSWER back.
const (
	VerbMediaStart = "MEDIA_START"
	VerbMediaXOff  = "MEDIA_XOFF"
	VerbMediaXOn   = "MEDIA_XON"
	VerbHangup     = "HANGUP"
	VerbAnswer     = "ANSWER"
)

// Parameter keys carried by MEDIA_START
const (
	KeyConnectionID     = "connection_id"
	KeyChannel          = "channel"
	KeyFormat           = "format"
	KeyOptimalFrameSize = "optimal_frame_size"
)

// MaxControlBytes bounds accepted text frames. Control messages are one
// short line; anything larger is garbage.
const MaxControlBytes = 512

// Control represents a parsed control message
type Control struct {
	Verb   string
	Params map[string]string
}

// MediaStart carries the negotiated media parameters for one channel
type MediaStart struct {
	ConnectionID     string
	ChannelID        string
	Format           string
	OptimalFrameSize int
}

// ParseControl parses a control message of the form
// "VERB key:value key:value ...".
func ParseControl(text string) (*Control, error) {
	if len(text) > MaxControlBytes {
		return nil, fmt.Errorf("control message too long: %d bytes (max %d)", len(text), MaxControlBytes)
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty control message")
	}

	ctrl := &Control{Verb: fields[0]}

	if len(fields) > 1 {
		ctrl.Params = make(map[string]string, len(fields)-1)
		for _, field := range fields[1:] {
			key, value, found := strings.Cut(field, ":")
			if !found || key == "" {
				return nil, fmt.Errorf("malformed parameter %q: expected key:value", field)
			}
			ctrl.Params[key] = value
		}
	}

	return ctrl, nil
}

// Param returns a parameter value, or the empty string when absent
func (c *Control) Param(key string) string {
	return c.Params[key]
}

// ParseMediaStart extracts media parameters from a MEDIA_START control
// message. The channel and format parameters are required.
func ParseMediaStart(ctrl *Control) (*MediaStart, error) {
	if ctrl.Verb != VerbMediaStart {
		return nil, fmt.Errorf("expected %s, got %s", VerbMediaStart, ctrl.Verb)
	}

	start := &MediaStart{
		ConnectionID: ctrl.Param(KeyConnectionID),
		ChannelID:    ctrl.Param(KeyChannel),
		Format:       ctrl.Param(KeyFormat),
	}

	if start.ChannelID == "" {
		return nil, fmt.Errorf("missing %s parameter", KeyChannel)
	}

	if start.Format == "" {
		return nil, fmt.Errorf("missing %s parameter", KeyFormat)
	}

	if raw := ctrl.Param(KeyOptimalFrameSize); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", KeyOptimalFrameSize, raw, err)
		}
		if size <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", KeyOptimalFrameSize, size)
		}
		start.OptimalFrameSize = size
	}

	return start, nil
}

// FormatMediaStart renders a MEDIA_START message. Used by the media sender
// tool to impersonate the Asterisk channel driver.
func FormatMediaStart(start *MediaStart) string {
	var b strings.Builder
	b.WriteString(VerbMediaStart)

	if start.ConnectionID != "" {
		fmt.Fprintf(&b, " %s:%s", KeyConnectionID, start.ConnectionID)
	}
	fmt.Fprintf(&b, " %s:%s", KeyChannel, start.ChannelID)
	fmt.Fprintf(&b, " %s:%s", KeyFormat, start.Format)
	if start.OptimalFrameSize > 0 {
		fmt.Fprintf(&b, " %s:%d", KeyOptimalFrameSize, start.OptimalFrameSize)
	}

	return b.String()
}

// String returns a human-readable representation of the control message
func (c *Control) String() string {
	if len(c.Params) == 0 {
		return fmt.Sprintf("Control{Verb:%s}", c.Verb)
	}
	return fmt.Sprintf("Control{Verb:%s, Params:%v}", c.Verb, c.Params)
}

// String returns a human-readable representation of the media parameters
func (m *MediaStart) String() string {
	return fmt.Sprintf("MediaStart{Channel:%q, Format:%q, OptimalFrameSize:%d}",
		m.ChannelID, m.Format, m.OptimalFrameSize)
}
