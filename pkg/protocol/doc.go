// Package protocol implements the DFX API WebSocket wire format.
//
// Every outbound request is a single binary frame:
//
//	┌──────────────┬───────────────┬──────────────────────────────┐
//	│ Action ID    │ Request ID    │ Body                         │
//	│ (4 bytes)    │ (10 bytes)    │ (protobuf, variable length)  │
//	└──────────────┴───────────────┴──────────────────────────────┘
//
// The action ID is the ASCII endpoint number (for example "0506" for
// add-data and "0510" for subscribe-results) and the request ID is ten
// random hex characters echoed back by the server.
//
// Inbound messages carry the originating request ID in their first ten
// bytes and are classified purely by total length:
//
//	len == 13       SubscribeStatus (10-byte id + 3-digit status)
//	len <= 60       AddDataStatus   (id + status + short body)
//	len > 60        ResultChunk     (13-byte header + chunk payload)
//
// These thresholds are part of the vendor protocol and must not be
// changed. Status messages carry a three-digit ASCII status code at
// bytes 10..13.
package protocol
