// Package language provides the multilingual layer of the assistant: the
// registry of supported Indian languages, script-based detection of the
// caller's language, and the recognition and synthesis parameters each
// language maps to.
package language
