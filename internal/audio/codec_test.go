package audio

import (
	"math"
	"testing"
)

func TestDecodeULawKnownValues(t *testing.T) {
	tests := []struct {
		input    byte
		expected int16
	}{
		{0x00, -32124},
		{0x80, 32124},
		{0xFF, 0},
		{0x7F, 0}, // negative zero
	}

	for _, tt := range tests {
		got := DecodeULawSample(tt.input)
		if got != tt.expected {
			t.Errorf("DecodeULawSample(0x%02X): expected %d, got %d", tt.input, tt.expected, got)
		}
	}
}

func TestDecodeALawKnownValues(t *testing.T) {
	tests := []struct {
		input    byte
		expected int16
	}{
		{0x55, -8},
		{0xD5, 8},
		{0x2A, -32256},
		{0xAA, 32256},
	}

	for _, tt := range tests {
		got := DecodeALawSample(tt.input)
		if got != tt.expected {
			t.Errorf("DecodeALawSample(0x%02X): expected %d, got %d", tt.input, tt.expected, got)
		}
	}
}

func TestEncodeULawKnownValues(t *testing.T) {
	tests := []struct {
		input    int16
		expected byte
	}{
		{0, 0xFF},
		{-32768, 0x00},
		{32767, 0x80},
	}

	for _, tt := range tests {
		got := EncodeULawSample(tt.input)
		if got != tt.expected {
			t.Errorf("EncodeULawSample(%d): expected 0x%02X, got 0x%02X", tt.input, tt.expected, got)
		}
	}
}

func TestULawCodewordRoundTrip(t *testing.T) {
	// Every codeword must survive decode and re-encode. The one exception
	// is 0x7F, the negative zero, which re-encodes as positive zero 0xFF.
	for i := 0; i < 256; i++ {
		b := byte(i)
		got := EncodeULawSample(DecodeULawSample(b))

		expected := b
		if b == 0x7F {
			expected = 0xFF
		}

		if got != expected {
			t.Errorf("Codeword 0x%02X: re-encoded as 0x%02X, expected 0x%02X", b, got, expected)
		}
	}
}

func TestALawCodewordRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		got := EncodeALawSample(DecodeALawSample(b))
		if got != b {
			t.Errorf("Codeword 0x%02X: re-encoded as 0x%02X", b, got)
		}
	}
}

func TestG711QuantizationError(t *testing.T) {
	// A full-scale sine wave should survive a codec round trip within the
	// top-segment quantization step.
	const maxError = 1024

	samples := make([]int16, 800)
	for i := range samples {
		at := float64(i) / 8000.0
		samples[i] = int16(16000 * math.Sin(2*math.Pi*440*at))
	}

	for _, codec := range []struct {
		name   string
		encode func(int16) byte
		decode func(byte) int16
	}{
		{"ulaw", EncodeULawSample, DecodeULawSample},
		{"alaw", EncodeALawSample, DecodeALawSample},
	} {
		t.Run(codec.name, func(t *testing.T) {
			for i, s := range samples {
				decoded := codec.decode(codec.encode(s))
				diff := int(decoded) - int(s)
				if diff < 0 {
					diff = -diff
				}
				if diff > maxError {
					t.Fatalf("Sample %d: error %d exceeds %d (original %d, decoded %d)",
						i, diff, maxError, s, decoded)
				}
			}
		})
	}
}

func TestDecodeULawBuffer(t *testing.T) {
	data := []byte{0x00, 0xFF, 0x80}
	pcm := DecodeULaw(data)

	if len(pcm) != 6 {
		t.Fatalf("Expected 6 PCM bytes, got %d", len(pcm))
	}

	expected := pcmBytes([]int16{-32124, 0, 32124})
	for i, b := range expected {
		if pcm[i] != b {
			t.Errorf("Byte %d: expected %d, got %d", i, b, pcm[i])
		}
	}
}

func TestEncodeULawBufferOddLength(t *testing.T) {
	_, err := EncodeULaw([]byte{1, 2, 3})
	if err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestEncodeALawBufferOddLength(t *testing.T) {
	_, err := EncodeALaw([]byte{1, 2, 3})
	if err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestSampleRateForFormat(t *testing.T) {
	tests := []struct {
		format    string
		rate      int
		expectErr bool
	}{
		{FormatSlin16, 16000, false},
		{FormatSlin, 8000, false},
		{FormatULaw, 8000, false},
		{FormatALaw, 8000, false},
		{"opus", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		rate, err := SampleRateForFormat(tt.format)
		if tt.expectErr {
			if err == nil {
				t.Errorf("Format %q: expected error, got rate %d", tt.format, rate)
			}
			continue
		}
		if err != nil {
			t.Errorf("Format %q: unexpected error: %v", tt.format, err)
			continue
		}
		if rate != tt.rate {
			t.Errorf("Format %q: expected rate %d, got %d", tt.format, tt.rate, rate)
		}
	}
}

func TestDecodeToPCM16(t *testing.T) {
	// Linear formats pass through unchanged
	pcm := pcmBytes([]int16{100, -200, 300})
	out, err := DecodeToPCM16(FormatSlin16, pcm)
	if err != nil {
		t.Fatalf("DecodeToPCM16 slin16 failed: %v", err)
	}
	if len(out) != len(pcm) {
		t.Errorf("Expected %d bytes, got %d", len(pcm), len(out))
	}

	// G.711 formats expand to twice the size
	out, err = DecodeToPCM16(FormatULaw, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("DecodeToPCM16 ulaw failed: %v", err)
	}
	if len(out) != 8 {
		t.Errorf("Expected 8 bytes, got %d", len(out))
	}

	if _, err := DecodeToPCM16("opus", pcm); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestEncodeFromPCM16RoundTrip(t *testing.T) {
	pcm := pcmBytes([]int16{0, 1000, -1000, 16000, -16000})

	for _, format := range []string{FormatULaw, FormatALaw} {
		encoded, err := EncodeFromPCM16(format, pcm)
		if err != nil {
			t.Fatalf("EncodeFromPCM16 %s failed: %v", format, err)
		}

		if len(encoded) != len(pcm)/2 {
			t.Errorf("Format %s: expected %d bytes, got %d", format, len(pcm)/2, len(encoded))
		}

		decoded, err := DecodeToPCM16(format, encoded)
		if err != nil {
			t.Fatalf("DecodeToPCM16 %s failed: %v", format, err)
		}

		if len(decoded) != len(pcm) {
			t.Errorf("Format %s: expected %d decoded bytes, got %d", format, len(pcm), len(decoded))
		}
	}
}
