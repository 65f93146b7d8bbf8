// Package vad implements energy-based voice activity detection with an
// adaptive noise floor and hysteresis. It classifies fixed-size PCM16 frames
// as speech or silence using debounce counters and a hangover window that
// avoids clipping trailing speech.
package vad
