// Package cache stores rendered speech audio on disk, keyed by content
// identifier. Each entry is a single audio file named <id>.<ext> with an
// optional <id>.json timing side-car next to it. The directory itself is the
// index: nothing else is persisted, so files copied in by hand are picked up
// and a crash can leave at most a stray .part file behind.
package cache
