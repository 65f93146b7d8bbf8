// Package server implements the WebSocket media server for Asterisk
// ExternalMedia connections and the HTTP API endpoints. It handles the
// MEDIA_START handshake, routing of audio frames to call sessions, and
// provides monitoring/management endpoints.
package server
