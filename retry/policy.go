/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package retry

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/errs"
)

// BackoffPolicy is a default Policy built on an exponential backoff
// formula. spec.md explicitly treats the formula as a consumed capability
// (Non-goal 2) rather than part of the engine's contract; this is the
// convenience implementation a caller reaches for instead of writing their
// own, the way depot-cli and docker-compose both pull in
// cenkalti/backoff/v4 for the same purpose.
type BackoffPolicy struct {
	backoff backoff.BackOff
	maxTime time.Duration
}

// NewBackoffPolicy builds a Policy with exponential backoff bounded by
// maxElapsed; once that deadline is exceeded Sleep reports ok=false so the
// manager surfaces a terminal ErrRetry instead of retrying forever.
func NewBackoffPolicy(maxElapsed time.Duration) *BackoffPolicy {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	return &BackoffPolicy{backoff: b, maxTime: maxElapsed}
}

// Predicate retries transport-retriable and redirect errors; integrity
// errors, caller misuse, and anything else fail immediately, per spec.md §7.
func (p *BackoffPolicy) Predicate(err error) bool {
	if errs.IsDataCorruption(err) || errs.IsInvalidArgument(err) || errs.IsConfiguration(err) {
		return false
	}
	if _, ok := errs.AsRedirect(err); ok {
		return true
	}
	var transportErr *bidi.ErrTransportRetriable
	return errors.As(err, &transportErr)
}

// Sleep reports ok=false once backoff.NextBackOff signals Stop (MaxElapsedTime
// exceeded), telling the manager to surface a terminal RetryError rather than
// proceed with a zero-length sleep.
func (p *BackoffPolicy) Sleep(err error) (time.Duration, bool) {
	d := p.backoff.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}
