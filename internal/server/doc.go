// Package server hosts the notes API on top of conversation-scoped units of work.
//
// Every /notes/{owner} request runs inside the scope middleware: the session
// is resolved from its cookie, the scope identifier is the request path, and
// the entry and exit sweeps run around the handler. Handlers reach the notes
// data through a gateway.Gateway bound to the "notes" consumer.
//
// # HTTP API
//
//   - GET /healthz - Liveness check
//   - GET /readyz - Pings every configured database
//   - GET /notes/{owner} - List committed notes through the target conversation
//   - POST /notes/{owner} - Stage an upsert from {"key","value"}
//   - DELETE /notes/{owner}?key=K - Stage a delete
//   - POST /notes/{owner}?action=A - commit, cancel, begin-named, begin-tx, commit-tx, rollback-tx
//   - POST /session/end - Tear down the caller's session
//
// The target conversation is the transient default unless ?persist=true
// selects the persistent default or ?conversation=NAME a named one.
// ?commit=true on a POST or DELETE commits the target after staging.
//
// Errors are JSON {"error": "..."}: invalid arguments 400, unknown
// conversations or notes 404, conflicts 409, storage construction failures
// 503, anything else 500.
package server
