// Package session provides call session management and lifecycle handling.
// Each session owns the audio pipeline for one caller (framing, voice
// activity detection, utterance assembly) and the conversation transcript.
// The manager tracks channel bindings, persists call records and evicts
// stale sessions on a timer.
package session
