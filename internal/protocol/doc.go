// Package protocol implements the Asterisk ExternalMedia WebSocket control
// protocol. Binary frames carry raw audio; text frames carry control
// messages such as MEDIA_START, which announces the channel and negotiated
// format, and the MEDIA_XOFF/MEDIA_XON flow control pair.
package protocol
