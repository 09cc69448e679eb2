package models

import "errors"

// Error taxonomy for the order core. Callers match with errors.Is; the
// concrete messages wrap these sentinels with context.
var (
	// ErrIllegalTransition means the requested action is not legal for the
	// acting role in the order's current state. The record is never mutated.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrStaleVersion marks merge input older than the record already held.
	// Discarded silently, but counted in diagnostics.
	ErrStaleVersion = errors.New("stale version")

	// ErrActionSubmissionFailed means the backend refused or never received
	// a user action; the optimistic update must be rolled back.
	ErrActionSubmissionFailed = errors.New("action submission failed")

	// ErrAcknowledgementFailed means a terminal acknowledgement did not reach
	// the backend; retried idempotently.
	ErrAcknowledgementFailed = errors.New("acknowledgement failed")

	// ErrRatingIncomplete blocks the coupled transitions (mark delivered,
	// close) until all four criteria are present.
	ErrRatingIncomplete = errors.New("rating incomplete")

	// ErrOrderNotFound is returned for lookups of ids this actor has never
	// seen.
	ErrOrderNotFound = errors.New("order not found")
)
