// Package session persists the server-side half of a login: one Redis
// record per session plus a per-account index set. A JWT alone is not a
// valid credential in this design; the session record must still exist,
// which is what makes logout and logout-all actually revoke.
package session
