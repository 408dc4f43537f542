// Copyright 2019, Square, Inc.

// Package retry retries a function a fixed number of times.
package retry

import (
	"context"
	"time"
)

type TryFunc func() error
type LogFunc func(error)

// Do calls tryFunc up to tries times, sleeping between calls, until it returns
// nil. Errors other than the last are passed to logFunc, if set. It returns the
// last error, or ctx.Err() if ctx is done while sleeping.
// https://upgear.io/blog/simple-golang-retry-function/
func Do(ctx context.Context, tries int, sleep time.Duration, tryFunc TryFunc, logFunc LogFunc) error {
	for {
		err := tryFunc()
		if err == nil {
			return nil
		}
		if tries--; tries <= 0 {
			return err
		}
		if logFunc != nil {
			logFunc(err)
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
