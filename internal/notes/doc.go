// Package notes is the keyed-note data access used by the HTTP server.
//
// Access is resolved per conversation through an access.Factory: SQL stages
// changes in the conversation's unit of work, so nothing reaches the database
// until the conversation commits. Mock applies changes immediately to shared
// in-memory state and exists for running the server without a database.
package notes
