package domain

import "errors"

var (
	// ErrValidation marks client input that cannot be accepted.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing batch, row, or ledger entry.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an illegal state transition on a batch job.
	ErrConflict = errors.New("conflict")

	// ErrQuotaExceeded marks a request that would push monthly usage past the plan limit.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnauthorized marks a missing, invalid, or expired credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks access to a resource owned by another account.
	ErrForbidden = errors.New("forbidden")
)
