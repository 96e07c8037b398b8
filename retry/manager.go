// Package retry implements the generic resumable bidi retry engine (C5):
// a loop that opens a stream via a strategy-supplied opener, consumes it,
// and on retriable failure asks the strategy to recover application state
// before reopening.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package retry

import (
	"context"
	"time"

	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/nlog"
)

// RequestIter pulls the next request of an attempt's generated sequence.
// ok=false means the sequence is exhausted.
type RequestIter[Req any] interface {
	Next() (Req, bool)
}

// ResponseIter pulls the next response off an opened stream. done=true,
// err=nil is the terminal marker (clean inbound half-close); a non-nil err
// is an abnormal termination.
type ResponseIter[Resp any] interface {
	Recv() (Resp, bool, error)
}

// Strategy is the pluggable per-domain (reads or writes) resumption logic.
// The manager never inspects State itself; only the strategy mutates it,
// and only from these three methods, which the manager calls serially.
type Strategy[State, Req, Resp any] interface {
	// GenerateRequests may be called any number of times per attempt; the
	// call itself does not mutate state, but the returned iterator may
	// advance per-attempt bookkeeping as requests are pulled (the writes
	// strategy advances BytesSent and BytesSinceLastFlush).
	GenerateRequests(state *State) RequestIter[Req]
	// UpdateStateFromResponse is called at most once per response.
	UpdateStateFromResponse(resp Resp, state *State) error
	// RecoverStateOnFailure is called at most once per failed attempt.
	RecoverStateOnFailure(err error, state *State) error
}

// Policy classifies errors as retriable and supplies the inter-attempt
// delay. Defining the backoff formula itself is outside this package's
// scope (spec.md Non-goal 2); Policy is consumed as an opaque capability.
// See BackoffPolicy in policy.go for a default implementation.
//
// Sleep's ok return distinguishes "not retriable" (Predicate's job) from
// "retriable in principle, but out of retry budget": ok=false means the
// policy's deadline or attempt budget is exhausted and Run must surface
// errs.ErrRetry instead of sleeping for zero duration and spinning forever.
type Policy interface {
	Predicate(err error) bool
	Sleep(err error) (d time.Duration, ok bool)
}

// Opener starts one bidi call for this attempt: it is responsible for
// pumping requests (pulled from the given RequestIter) onto the
// transport and returning a ResponseIter the manager can consume.
type Opener[State, Req, Resp any] func(ctx context.Context, requests RequestIter[Req], state *State) (ResponseIter[Resp], error)

// Manager runs the algorithm in spec.md §4.5 for one logical operation.
type Manager[State, Req, Resp any] struct {
	Strategy Strategy[State, Req, Resp]
	Open     Opener[State, Req, Resp]
	Policy   Policy
}

// Run drives state to completion, retrying per Policy until success, a
// non-retriable error, or retry-budget exhaustion.
func (m *Manager[State, Req, Resp]) Run(ctx context.Context, state *State) error {
	for {
		requests := m.Strategy.GenerateRequests(state)
		stream, err := m.Open(ctx, requests, state)
		if err == nil {
			err = m.consume(stream, state)
			if err == nil {
				return nil
			}
		}

		if !m.Policy.Predicate(err) {
			return err
		}
		nlog.Infof("bidi retry: attempt failed retriably, recovering state: %v", err)
		if recErr := m.Strategy.RecoverStateOnFailure(err, state); recErr != nil {
			return errs.NewErrRetry(recErr)
		}
		if waitErr := m.wait(ctx, err); waitErr != nil {
			return waitErr
		}
	}
}

func (m *Manager[State, Req, Resp]) consume(stream ResponseIter[Resp], state *State) error {
	for {
		resp, done, err := stream.Recv()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := m.Strategy.UpdateStateFromResponse(resp, state); err != nil {
			return err
		}
	}
}

func (m *Manager[State, Req, Resp]) wait(ctx context.Context, cause error) error {
	d, ok := m.Policy.Sleep(cause)
	if !ok {
		return errs.NewErrRetry(cause)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errs.NewErrRetry(ctx.Err())
	case <-t.C:
		return nil
	}
}
