// Package waiter blocks until a control-plane predicate holds, retrying with a bounded
// exponential backoff so a stalled control plane cannot hang the orchestrator.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vpc-mesh/pkg/cloud"
)

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("waiter: timed out")

var errNotReady = errors.New("not ready")

const (
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 10 * time.Second
	DefaultTimeout         = 10 * time.Minute
)

// Policy bounds one wait.
type Policy struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DefaultPolicy returns the policy used for availability and handshake waits.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Timeout:         DefaultTimeout,
	}
}

func (p Policy) withDefaults() Policy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// TimeoutError reports a wait whose deadline passed before the predicate held.
type TimeoutError struct {
	What    string
	Elapsed time.Duration
	Last    string
}

func (e *TimeoutError) Error() string {
	if e.Last != "" {
		return fmt.Sprintf("timed out after %s waiting for %s (last state %q)", e.Elapsed.Round(time.Millisecond), e.What, e.Last)
	}
	return fmt.Sprintf("timed out after %s waiting for %s", e.Elapsed.Round(time.Millisecond), e.What)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Check reads the current state. It returns done=true once the wait is over. A non-nil error
// aborts the wait unless it wraps cloud.ErrNotFound, which counts as not ready yet.
type Check func(ctx context.Context) (state string, done bool, err error)

// Until polls check until it reports done, fails, the context ends or the policy deadline passes.
func Until(ctx context.Context, p Policy, what string, check Check) (string, error) {
	p = p.withDefaults()
	start := time.Now()
	var last string

	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMaxElapsedTime(p.Timeout),
	)
	op := func() (string, error) {
		state, done, err := check(ctx)
		if err != nil {
			if errors.Is(err, cloud.ErrNotFound) {
				return "", errNotReady
			}
			return "", backoff.Permanent(err)
		}
		last = state
		if !done {
			return "", errNotReady
		}
		return state, nil
	}
	state, err := backoff.RetryWithData(op, backoff.WithContext(eb, ctx))
	if err == nil {
		return state, nil
	}
	if errors.Is(err, errNotReady) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, fmt.Errorf("waiting for %s: %w", what, ctxErr)
		}
		return last, &TimeoutError{What: what, Elapsed: time.Since(start), Last: last}
	}
	return last, err
}

// StateIs builds a Check that is done once read returns want.
func StateIs(read func(ctx context.Context) (string, error), want string) Check {
	return func(ctx context.Context) (string, bool, error) {
		state, err := read(ctx)
		if err != nil {
			return "", false, err
		}
		return state, state == want, nil
	}
}
