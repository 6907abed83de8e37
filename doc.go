// Package dfx is a client SDK for the DFX biometric-measurement web
// service. It wraps the REST endpoints for licensing, users and
// measurements, and speaks the binary-framed websocket sub-protocol
// used to stream payload chunks in and measurement results out.
//
// The usual flow:
//
//	client, err := dfx.New(ctx, licenseKey, studyID, email, password,
//		dfx.WithServer("qa"),
//		dfx.WithAddMethod(dfx.AddMethodWebsocket))
//	if err != nil {
//		// handle
//	}
//	defer client.Close()
//
//	if _, err := client.CreateMeasurement(ctx); err != nil {
//		// handle
//	}
//
//	go client.SubscribeToResults(ctx, nil)
//	for _, chunk := range chunks {
//		if err := client.AddChunk(ctx, chunk); err != nil {
//			// handle
//		}
//	}
//	for payload := range client.Results() {
//		// consume result payloads
//	}
//
// Measurements are bounded in duration by the server. When a recording
// outlives its measurement, the client transparently rotates onto a new
// one: AddChunk re-sends the refused chunk and SubscribeToResults
// follows the subscription across measurements.
//
// The lower-level pieces live in pkg/protocol (wire format),
// pkg/transport (websocket), pkg/router (response demultiplexing),
// pkg/measurement (upload and subscription flows, measurement REST) and
// pkg/api (organization and user REST).
package dfx
