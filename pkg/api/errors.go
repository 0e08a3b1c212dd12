package api

import "errors"

// Sentinel errors forming the caller-facing failure taxonomy. Callers
// classify with errors.Is; the HTTP layer maps them onto status codes
// (NotFound → 404, Disabled → 409, Validation → 400).
var (
	// ErrNotFound reports an unknown instance, tool, assistant, provider
	// or automation.
	ErrNotFound = errors.New("not found")

	// ErrDisabled reports an instance that exists but is turned off.
	// Most callers treat it identically to ErrNotFound.
	ErrDisabled = errors.New("instance disabled")

	// ErrValidation reports a malformed request, such as an empty
	// message list.
	ErrValidation = errors.New("validation failed")
)
