// Package signaling implements the relay's core: a websocket message router
// that tracks one live broadcaster and any number of viewers, forwards
// offer/answer/ICE negotiation between them by identity, and fans out
// broadcaster lifecycle notifications to every viewer.
//
// Media never passes through this package; once negotiation completes the
// peers talk directly over WebRTC.
package signaling
