// Package peer provides Go clients for the signaling relay: a Broadcaster
// that publishes local tracks to every viewer the relay announces, and a
// Viewer that negotiates a subscription to the live broadcast. Both drive a
// full WebRTC negotiation (offer, answer, trickled ICE) through the relay's
// websocket endpoint.
package peer
