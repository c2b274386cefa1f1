package common

import "errors"

var (
	// Generic errors.
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")

	// Validation errors.
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPayloadTooLarge = errors.New("payload too large")

	// Authentication errors.
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpiredSession   = errors.New("session expired")
	ErrInvalidSession   = errors.New("invalid session")

	// Authorization errors.
	ErrDenied  = errors.New("access denied")
	ErrExpired = errors.New("access expired")

	// Storage errors.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrCorruptPayload      = errors.New("corrupt payload")

	// Ingestion errors.
	ErrTransientRPC   = errors.New("transient rpc failure")
	ErrMalformedEvent = errors.New("malformed event")
)
