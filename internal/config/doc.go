// Package config provides configuration loading and validation for the voice assistant.
// It layers a YAML file over built-in defaults, applies environment overrides for
// connection details and credentials, and can watch the file for live reloads.
package config
