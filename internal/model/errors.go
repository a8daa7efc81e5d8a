package model

import "errors"

// The three error classes from spec.md §7. Components should wrap one of
// these with fmt.Errorf("...: %w", ...) rather than minting ad-hoc errors,
// so the pipeline's recovery policy (§7) can discriminate on errors.Is.
var (
	// ErrInvalidInput marks a rejected, non-mutating input (non-finite field,
	// malformed bar/trade). The caller should log and drop it.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransientPort marks a collaborator-port failure (store/exchange) that
	// is safe to retry with backoff.
	ErrTransientPort = errors.New("transient port failure")

	// ErrInvariantViolation marks a fatal condition (duplicate ACTIVE signal
	// for a key, streak mutation for a filtered candidate) that must stop the
	// core and surface a diagnostic event.
	ErrInvariantViolation = errors.New("invariant violation")
)
