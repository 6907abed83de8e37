// Package measurement implements the DFX measurement flows: uploading
// payload chunks over the websocket and subscribing to streamed result
// chunks.
//
// Both flows share one transport and one response router. Each call
// polls the transport, feeds whatever arrives into the router, and
// drains its own response queue: the add-data status queue for
// uploads, the subscribe-status and result-chunk queues for
// subscriptions. A measurement is capped server-side (120 seconds in
// DISCRETE mode); longer recordings span several consecutive
// measurements, which the owning client rotates between calls.
package measurement
