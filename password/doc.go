// Package password hashes and verifies account passwords with argon2id in
// the standard PHC string format. Parameters are embedded in each hash, so
// cost upgrades roll out per-login without a migration.
package password
