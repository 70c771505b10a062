// Package services implements the business logic for song requests. This file
// centralizes the service-level error taxonomy so that outcomes are
// consistently returned by service methods and checked by callers.
//
// Mapping these errors to HTTP statuses is the handler layer's job: duplicate
// and validation outcomes are client-correctable, configuration and store
// failures are operator-correctable and carry diagnostic detail.
package services

import (
	"fmt"
	"strings"
)

// ErrMissingFields is returned when title or artist is empty after trimming.
var ErrMissingFields = fmt.Errorf("title and artist are required")

// ErrDuplicateSong is returned when the same (title, artist) pair, compared
// case-insensitively after trimming, is already present in the stored list.
var ErrDuplicateSong = fmt.Errorf("song request already exists")

// ConfigError reports which required store environment variables are absent.
// It is raised before any store call is attempted.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}

// ReadError wraps a failure to fetch the stored file (store unreachable or
// an unexpected status). A missing file is not a ReadError; it is handled as
// an empty list.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return "could not read song request file: " + e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failure of the conditional write, including lost
// compare-and-swap races (Conflict=true). The assigned code from the failed
// attempt is never reused by that invocation; the caller resubmits.
type WriteError struct {
	Err      error
	Conflict bool
}

func (e *WriteError) Error() string { return "could not write song request file: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }
