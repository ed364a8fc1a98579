// Package dedupe tracks already-handled Matrix event IDs in a TTL cache
// so redelivered sync events are answered at most once.
package dedupe
