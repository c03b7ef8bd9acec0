// Package limiters implements the Redis counters that throttle the engine:
// the password-failure lockout, the code-issue cooldown, and the TOTP
// verification window. All counters use INCR/SET NX with TTLs so they are
// atomic under concurrent requests and clean themselves up.
package limiters
