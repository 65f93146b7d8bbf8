// Package stt implements the speech recognition client for finalized
// utterances. Audio is wrapped as WAV and sent to the OpenAI transcription
// API with a language hint, with retry logic, exponential backoff and
// rate limiting.
package stt
