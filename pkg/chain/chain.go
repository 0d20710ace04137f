// Package chain is the write side of the StartupOps contract.
//
// The submission pipeline only ever sees the Writer interface. Implementations
// here are an in-process hash-chained ledger used in development and tests,
// plus decorators (firewall, throttle, timeout) that wrap any Writer.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Contract call names.
const (
	CallCreateStartup     = "createStartup"
	CallRecordMetric      = "recordMetric"
	CallCreateKPI         = "createKPI"
	CallUpdateKPIProgress = "updateKPIProgress"
	CallAddTeamMember     = "addTeamMember"
)

// ErrRateLimited is returned by Throttle when the limiter refuses a write.
var ErrRateLimited = errors.New("chain: rate limited")

// TxHandle identifies a submitted transaction ("0x" + hex).
type TxHandle string

func (h TxHandle) String() string { return string(h) }

// Call is one contract write: a function name and its positional arguments.
type Call struct {
	Name string
	Args []any
	// From is the caller's wallet address, empty when unknown.
	From string
}

// Writer submits contract calls. Implementations may block until the
// transaction is accepted and report network errors, user rejection or
// reverts as errors.
type Writer interface {
	Write(ctx context.Context, call Call) (TxHandle, error)
}

// Func adapts a function to Writer.
type Func func(ctx context.Context, call Call) (TxHandle, error)

// Write calls f.
func (f Func) Write(ctx context.Context, call Call) (TxHandle, error) {
	return f(ctx, call)
}

// WithTimeout bounds every write made through next.
func WithTimeout(next Writer, d time.Duration) Writer {
	if d <= 0 {
		return next
	}
	return Func(func(ctx context.Context, call Call) (TxHandle, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			tx  TxHandle
			err error
		}
		done := make(chan result, 1)
		go func() {
			tx, err := next.Write(ctx, call)
			done <- result{tx, err}
		}()

		select {
		case r := <-done:
			return r.tx, r.err
		case <-ctx.Done():
			return "", fmt.Errorf("chain: %s timed out after %s: %w", call.Name, d, ctx.Err())
		}
	})
}
