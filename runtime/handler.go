package runtime

import (
	"context"
)

// Handler defines a lifecycle-aware Lambda handler for input type T and output type R.
//
// ColdStart runs once before the first invocation and is where clients are
// built. Validate and Handler both receive the decoded event; an error from
// either is reported to the Runtime API as a failed invocation.
type Handler[T, R any] interface {
	ColdStart(ctx context.Context) error
	Validate(ctx context.Context, event T) error
	Handler(ctx context.Context, event T) (R, error)
	Shutdown(ctx context.Context) error
}
