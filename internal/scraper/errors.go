package scraper

import (
	"context"
	"errors"
)

var (
	// ErrElementNotFound means a required page element never appeared.
	ErrElementNotFound = errors.New("element not found")

	// ErrTransientStale means a card reference was invalidated by a re-render.
	ErrTransientStale = errors.New("element is stale or detached from the document")

	// ErrWaitTimeout means a bounded wait expired before its condition held.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrRetryBudgetExhausted means the collector gave up before reaching its target.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrNoReviews is the "no data" outcome for a listing with zero reviews.
	// It is not a failure.
	ErrNoReviews = errors.New("no reviews found")
)

// IsTransient reports whether err is worth another collector pass.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStale) || errors.Is(err, ErrWaitTimeout)
}

// isContextDone reports whether err comes from the caller's context rather
// than from a bounded wait.
func isContextDone(parent context.Context, err error) bool {
	return parent.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
