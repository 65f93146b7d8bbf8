package audio

import (
	"encoding/binary"
	"fmt"
)

// Media format names as announced by Asterisk ExternalMedia
const (
	FormatSlin16 = "slin16" // PCM16 LE at 16 kHz
	FormatSlin   = "slin"   // PCM16 LE at 8 kHz
	FormatULaw   = "ulaw"   // G.711 mu-law at 8 kHz
	FormatALaw   = "alaw"   // G.711 A-law at 8 kHz
)

// G.711 constants from the reference implementation
const (
	g711SignBit   = 0x80
	g711QuantMask = 0x0F
	g711SegShift  = 4
	g711SegMask   = 0x70

	ulawBias = 0x84
	ulawClip = 8159
)

var (
	segUEnd = [8]int{0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF}
	segAEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}
)

// SampleRateForFormat returns the sample rate implied by a media format name
func SampleRateForFormat(format string) (int, error) {
	switch format {
	case FormatSlin16:
		return 16000, nil
	case FormatSlin, FormatULaw, FormatALaw:
		return 8000, nil
	default:
		return 0, fmt.Errorf("unsupported media format: %q", format)
	}
}

// DecodeToPCM16 converts a media payload in the given format to raw PCM16
// little-endian bytes. Linear formats pass through unchanged.
func DecodeToPCM16(format string, payload []byte) ([]byte, error) {
	switch format {
	case FormatSlin16, FormatSlin:
		return payload, nil
	case FormatULaw:
		return DecodeULaw(payload), nil
	case FormatALaw:
		return DecodeALaw(payload), nil
	default:
		return nil, fmt.Errorf("unsupported media format: %q", format)
	}
}

// EncodeFromPCM16 converts raw PCM16 little-endian bytes to the given media
// format. Linear formats pass through unchanged.
func EncodeFromPCM16(format string, pcm []byte) ([]byte, error) {
	switch format {
	case FormatSlin16, FormatSlin:
		return pcm, nil
	case FormatULaw:
		return EncodeULaw(pcm)
	case FormatALaw:
		return EncodeALaw(pcm)
	default:
		return nil, fmt.Errorf("unsupported media format: %q", format)
	}
}

// DecodeULawSample converts one G.711 mu-law byte to a PCM16 sample
func DecodeULawSample(u byte) int16 {
	u = ^u
	t := (int(u&g711QuantMask) << 3) + ulawBias
	t <<= uint(u&g711SegMask) >> g711SegShift

	if u&g711SignBit != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

// EncodeULawSample converts one PCM16 sample to a G.711 mu-law byte
func EncodeULawSample(pcm int16) byte {
	val := int(pcm) >> 2 // 16-bit to 14-bit

	var mask int
	if val < 0 {
		val = -val
		mask = 0x7F
	} else {
		mask = 0xFF
	}

	if val > ulawClip {
		val = ulawClip
	}
	val += ulawBias >> 2

	seg := segment(val, segUEnd)
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}

	uval := (seg << g711SegShift) | ((val >> uint(seg+1)) & g711QuantMask)
	return byte(uval ^ mask)
}

// DecodeALawSample converts one G.711 A-law byte to a PCM16 sample
func DecodeALawSample(a byte) int16 {
	a ^= 0x55

	t := int(a&g711QuantMask) << 4
	seg := uint(a&g711SegMask) >> g711SegShift

	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}

	if a&g711SignBit != 0 {
		return int16(t)
	}
	return int16(-t)
}

// EncodeALawSample converts one PCM16 sample to a G.711 A-law byte
func EncodeALawSample(pcm int16) byte {
	val := int(pcm) >> 3 // 16-bit to 13-bit

	var mask int
	if val >= 0 {
		mask = 0xD5
	} else {
		mask = 0x55
		val = -val - 1
	}

	seg := segment(val, segAEnd)
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}

	aval := seg << g711SegShift
	if seg < 2 {
		aval |= (val >> 1) & g711QuantMask
	} else {
		aval |= (val >> uint(seg)) & g711QuantMask
	}
	return byte(aval ^ mask)
}

// DecodeULaw expands G.711 mu-law bytes to PCM16 little-endian bytes
func DecodeULaw(data []byte) []byte {
	pcm := make([]byte, len(data)*2)
	for i, u := range data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(DecodeULawSample(u)))
	}
	return pcm
}

// DecodeALaw expands G.711 A-law bytes to PCM16 little-endian bytes
func DecodeALaw(data []byte) []byte {
	pcm := make([]byte, len(data)*2)
	for i, a := range data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(DecodeALawSample(a)))
	}
	return pcm
}

// EncodeULaw compresses PCM16 little-endian bytes to G.711 mu-law
func EncodeULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM16 data must have even length, got %d bytes", len(pcm))
	}

	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = EncodeULawSample(sample)
	}
	return out, nil
}

// EncodeALaw compresses PCM16 little-endian bytes to G.711 A-law
func EncodeALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM16 data must have even length, got %d bytes", len(pcm))
	}

	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = EncodeALawSample(sample)
	}
	return out, nil
}

// segment returns the index of the first boundary the value does not
// exceed, or 8 when the value is beyond the last boundary
func segment(val int, table [8]int) int {
	for i, end := range table {
		if val <= end {
			return i
		}
	}
	return 8
}
