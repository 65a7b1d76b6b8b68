// Package sink implements destinations for inbound connection messages.
//
// Sinks:
//   - LogSink: one structured log line per message
//   - TextSink: appends each payload as a line to an io.Writer
//   - PostgresSink: batched, append-only inserts into the messages table
//   - Multi: writes to several sinks in order
//
// Attach wires a sink to a connection's message handlers.
package sink
