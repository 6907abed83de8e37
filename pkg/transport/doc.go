// Package transport owns the single WebSocket connection to the DFX API.
//
// The DFX websocket multiplexes every logical exchange over one duplex
// socket, and the connection tolerates at most one pending receive at a
// time. TryReceiveOnce therefore guards the receive path: if a receive
// is already in flight, it returns immediately with ok=false and callers
// poll again. Flows are expected to call it in a loop, feeding whatever
// arrives into their response router.
package transport
