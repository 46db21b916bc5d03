// Package signaling is the WebSocket relay cameras and viewers use to find
// each other in named rooms and exchange WebRTC offers, answers and ICE
// candidates. The relay only routes these frames; media never passes through
// it.
//
// A connection starts unjoined, becomes a room member with a join frame and
// returns to unjoined with leave. Closing, or being evicted by the liveness
// monitor, always releases the membership it held.
package signaling
