// Package server accepts client connections and answers framed commands.
//
// Server listens on TCP and serves every connection on its own goroutine.
// Frames of one connection are handled strictly in order: a response is
// written before the next frame is read. A malformed length prefix or a
// closed stream ends the connection without a response.
//
// Dispatcher turns one frame payload into a CommandResponse. It is the only
// place where operation failures become responses: a *protocol.Error is
// reported with its code, anything else (including a panic) is logged and
// answered with the internal error response. Operation failures never close
// the connection.
//
// MetricsServer exposes Prometheus metrics and health probes on a separate
// HTTP port.
package server
