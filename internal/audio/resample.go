package audio

import (
	"encoding/binary"
	"fmt"
)

// Downsample reduces the sample rate of PCM16 mono audio by an integer
// factor, averaging each group of source samples. Synthesized speech
// arrives at 24 kHz and telephony playback needs 8 kHz, so integer
// ratios cover every conversion the service performs.
func Downsample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d and %d", fromRate, toRate)
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM16 data must have even length, got %d bytes", len(pcm))
	}

	if fromRate == toRate {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	if fromRate < toRate || fromRate%toRate != 0 {
		return nil, fmt.Errorf("downsampling requires an integer ratio, got %d Hz to %d Hz", fromRate, toRate)
	}

	factor := fromRate / toRate
	samples := len(pcm) / 2

	out := make([]byte, 0, (samples/factor)*2)
	for i := 0; i+factor <= samples; i += factor {
		sum := 0
		for j := 0; j < factor; j++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[(i+j)*2:])))
		}
		avg := sum / factor

		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(int16(avg)))
		out = append(out, buf[0], buf[1])
	}

	return out, nil
}

// Upsample raises the sample rate of PCM16 mono audio by an integer
// factor, interpolating linearly between source samples. Decoded G.711
// legs deliver 8 kHz while the detector expects 16 kHz, so the same
// integer-ratio restriction applies in this direction.
func Upsample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d and %d", fromRate, toRate)
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM16 data must have even length, got %d bytes", len(pcm))
	}

	if fromRate == toRate {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	if toRate < fromRate || toRate%fromRate != 0 {
		return nil, fmt.Errorf("upsampling requires an integer ratio, got %d Hz to %d Hz", fromRate, toRate)
	}

	factor := toRate / fromRate
	samples := len(pcm) / 2

	out := make([]byte, 0, samples*factor*2)
	for i := 0; i < samples; i++ {
		cur := int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))

		// The last source sample has no successor, so it is held flat.
		next := cur
		if i+1 < samples {
			next = int(int16(binary.LittleEndian.Uint16(pcm[(i+1)*2:])))
		}

		for j := 0; j < factor; j++ {
			val := cur + (next-cur)*j/factor

			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], uint16(int16(val)))
			out = append(out, buf[0], buf[1])
		}
	}

	return out, nil
}
