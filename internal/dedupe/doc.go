// Package dedupe provides a TTL-based cache for tracking seen keys.
//
// Presence sessions use it to guard event delivery: each delivered event ID
// is marked, and a republished event with the same ID is dropped instead of
// being delivered to the session a second time. The cache is bounded in both
// time (TTL) and space (max size with oldest-first eviction), so a long-lived
// session cannot grow it without limit.
//
// CheckAndMark is the atomic check-then-mark operation; separate check and
// mark calls would race between concurrent publishes.
package dedupe
