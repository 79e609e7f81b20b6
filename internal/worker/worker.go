package worker

import "context"

// Worker is a long-lived task. Run blocks until ctx is cancelled; returning
// early with an error asks the supervisor to restart it.
type Worker interface {
	Run(ctx context.Context) error
}

// Func adapts a function to Worker
type Func func(ctx context.Context) error

func (f Func) Run(ctx context.Context) error {
	return f(ctx)
}
