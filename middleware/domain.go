package middleware

import (
	"context"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/job"
)

// Domain returns middleware that restores the project space from the
// job's Domain field into the context. This ensures handlers see the
// same domain as the original enqueue caller.
func Domain() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Domain != "" {
			ctx = cadence.WithDomain(ctx, j.Domain)
		}
		return next(ctx)
	}
}
