// Package printer owns the network side of the emulator.
//
// Ownership boundary:
// - TCP accept loop and per-connection sessions
//
// - pumping inbound bytes into each session's byte queue
//
// - wiring decoder sinks (log, metrics, session counters) and the image store
//
// - admin HTTP surface (health, metrics, sessions, images)
//
// Lifecycle per connection:
// - accept -> session open -> decode until end of stream -> session close
//
// Sessions share nothing mutable except the image store.
package printer
