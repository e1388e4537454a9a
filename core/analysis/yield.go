package analysis

import (
	"context"
	"runtime"
)

// YieldFunc is called between chunks of long-running analysis loops so the
// host stays responsive and cancellation is honored promptly. Implementations
// return the context error once the context is done; any other error also
// aborts the analysis.
type YieldFunc func(ctx context.Context) error

// DefaultYield checks for cancellation and gives other goroutines a turn.
func DefaultYield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	runtime.Gosched()
	return nil
}
