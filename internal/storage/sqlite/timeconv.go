package sqlite

import "time"

// Timestamps are stored as INTEGER unix nanoseconds rather than TEXT.
// SQLite has no native timestamp type, and the pure-Go sqlite driver this
// package uses does not reliably round-trip time.Time through its TEXT
// affinity; integers sort and compare correctly with plain SQL operators
// and avoid any driver-specific datetime parsing.

func toUnixNano(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
