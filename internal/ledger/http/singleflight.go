package http

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var reportRowsGroup singleflight.Group

func singleflightRows(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := reportRowsGroup.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

// forgetReportRows drops an in-flight read of key so callers after a rebuild
// see the new rows.
func forgetReportRows(key string) {
	reportRowsGroup.Forget(key)
}
