// Package protocol holds the wire-level names shared by the ingest
// endpoint and the client poller.
package protocol

// Request headers.
const (
	// HeaderRequestID correlates every contact for one logical
	// operation. Ingest mints one when the first contact omits it.
	HeaderRequestID = "X-Request-Id"

	// HeaderInitialRequest marks the first attempt for a logical
	// operation. Pollers must strip it on every subsequent call so a
	// poll is never mistaken for a fresh submission.
	HeaderInitialRequest = "X-Initial-Request"
)

// HeaderRetryHint is a response header carrying the server's suggested
// wait in milliseconds before the next poll. Informational only: it
// never switches a client into fire-and-forget, not even at zero.
const HeaderRetryHint = "Retry-After-Ms"
