// Package ari drives calls through the Asterisk REST Interface. The
// engine accepts channels entering the Stasis application, attaches an
// ExternalMedia leg pointed at the media server and runs the
// conversation loop: recognize the caller's utterance, generate a reply
// and play it back, with barge-in support while the assistant speaks.
package ari
