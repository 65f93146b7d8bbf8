// Package audio handles media framing, utterance assembly, and format
// conversion. It accumulates PCM payloads into fixed-size detector frames,
// assembles confirmed speech into utterances for transcription, and converts
// between WAV, G.711 and raw PCM16 representations.
package audio
