// Package analysis subscribes to the external mood analysis service.
//
// The service pushes JSON envelopes over a WebSocket:
//
//	{"event": "progress",  "data": {"stage": "scoring", "details": {"heart_rate": 72}}}
//	{"event": "completed", "data": {"results": [{"Predictions": [{"Valence Range": [0.4, 0.6]}]}]}}
//
// [Receiver.Subscribe] holds exactly one connection for the life of a call, hands each progress event
// to [Handler.OnProgress] in arrival order, and returns after the single completion has been passed to
// [Handler.OnCompleted]. The connection is closed on every exit path. The receiver imposes no timeout:
// without a completion it waits until its context is cancelled.
package analysis
