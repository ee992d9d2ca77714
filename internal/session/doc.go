// Package session stores one conversation registry per logical session.
//
// A session is identified by a UUID carried in a signed cookie (see Tokens).
// Store keeps sessions in memory, evicting them when idle longer than the TTL,
// when the size cap is reached (oldest first), on End, and on Close. Every
// eviction is reported to the OnEvict callback, which the scope hook uses to
// cancel all of the session's conversations.
//
// Each Entry carries a mutex. The host locks it for the duration of a scope
// so only one scope at a time touches the session's registry.
package session
