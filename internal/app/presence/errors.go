package presence

import "errors"

// Event handling failures. They are logged and counted, never sent to peers.
var (
	// ErrMalformedEvent marks an inbound frame that is not valid JSON, has an unknown type,
	// or lacks a required field. State is left untouched.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnbound marks a mutating event from a session that has not joined as any identity.
	ErrUnbound = errors.New("session is not bound to an identity")

	// ErrUnknownRecipient marks a relay whose target has no live session. The event is dropped.
	ErrUnknownRecipient = errors.New("recipient has no live session")

	// ErrHubStopped is returned by hub calls made after shutdown began.
	ErrHubStopped = errors.New("hub stopped")
)
