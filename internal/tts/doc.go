// Package tts implements the speech synthesis client. Synthesized audio
// is converted to raw 8 kHz ulaw, cached on disk under the Asterisk sounds
// directory and addressed by playback URI, so repeated prompts cost one
// API call.
package tts
