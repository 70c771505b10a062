// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes give clients a stable, machine-readable taxonomy alongside the
// human-readable message. Generic codes mirror common HTTP status semantics;
// domain-specific codes distinguish the store failure modes (configuration,
// read, conditional write) that all map to 500.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeConfigMissing = "config_missing"
	ErrCodeReadFailed    = "read_failed"
	ErrCodeWriteFailed   = "write_failed"
)
