// Package wire defines the live-channel frame format, the inbound event
// variants, outbound commands, and the error kinds shared by transport code.
package wire

import "errors"

var (
	// ErrTransportUnavailable means the channel or a REST call could not be
	// reached. It is retried and only surfaces as a connectivity state.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrUnauthenticated means the service rejected the credential. It ends
	// the session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMalformedEvent marks an inbound frame that could not be decoded.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrNoCredential is returned when a connection is requested without a token.
	ErrNoCredential = errors.New("no credential")
)
