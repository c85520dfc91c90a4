// Package session drives the lifecycle of one embedded chat session.
//
// # Overview
//
// The Orchestrator ties the other engine pieces together: the input gate,
// the conversation catalog, the identity mapper, the activity monitor, and
// the upstream answer stream. All user-visible transitions run through it.
//
// # States
//
//	Uninitialized -> ConfigPanel -> Active -> Restarting -> Active
//
// ConfigPanel is skipped entirely when the resolved input-form schema has no
// required or visible fields. Restarting is the transient state while a new
// conversation clears the chat list.
//
// # Streams
//
// At most one answer stream is ever in flight. Send and Regenerate stop the
// current stream before starting the next one, through a stable handle owned
// by the orchestrator rather than a per-call closure, so the latest stream
// is always the one stopped. Cancellation is best-effort: a chunk that
// arrives after its stream was superseded is discarded, never rendered.
//
// # Completion
//
// When a first answer lands for a fresh conversation, the server-assigned id
// is persisted to the identity map, the catalog placeholder is dropped, the
// list is refetched, and the backend names the conversation. These steps are
// chained after the stream end event and never fail the session.
package session
