// Package stores implements the Redis-backed one-time state of the engine:
// the per-account secret slot, login challenges, and reset tokens. Every
// consume path is atomic under concurrent callers, using either WATCH-based
// optimistic transactions or single-command semantics, so attempt budgets
// and single-use guarantees hold without in-process locks.
package stores
