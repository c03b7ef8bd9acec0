// Package authstate implements the authentication state machine behind a
// typical account system: password login with timed lockout, email/SMS
// one-time codes with attempt budgets, TOTP two-factor with single-use
// backup codes, password reset, OAuth upsert, and revocable JWT sessions.
//
// The package is an embeddable engine, not a web framework. Callers wire an
// [AccountStore] (persistent account records), a [DeliveryDispatcher]
// (email/SMS transport), and a Redis client through [Builder.Build], then
// call [Engine] methods from their HTTP or RPC layer. Engine methods are
// safe for concurrent use after Build.
//
// # State ownership
//
// Account identity, credentials, and 2FA material live in the caller's
// AccountStore. Everything that must be mutated atomically under concurrent
// requests — the one-time-secret slot, lockout counters, login challenges,
// reset tokens, sessions — lives in Redis, where the stores under internal/
// enforce single-use and attempt-budget semantics with optimistic
// transactions.
//
// # Failure surface
//
// All state-machine outcomes are sentinel errors in errors.go and are safe
// to match with errors.Is. Backend failures wrap ErrStoreUnavailable and
// never leak driver detail through the public API.
package authstate
