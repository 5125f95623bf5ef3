package rangefetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
)

// RetryOptions controls NewRetryingTransport.
type RetryOptions struct {
	// MaxAttempts is the total number of tries including the first. Values below 1 mean 1.
	MaxAttempts int
	// InitialWait is the wait before the second try. It doubles after every failure.
	InitialWait time.Duration
	// MaxWait caps the wait between tries.
	MaxWait time.Duration
}

const (
	defaultInitialWait = 200 * time.Millisecond
	defaultMaxWait     = 30 * time.Second
	retryFactor        = 2
)

type retryingTransport struct {
	inner  Transport
	opts   RetryOptions
	clock  clock.Clock
	logger logging.Logger
}

// NewRetryingTransport wraps inner with exponential backoff. The core never retries by itself; this
// decorator is how a caller opts in. Because some transports report failures only while the body
// is streamed, each attempt reads the whole body before it counts as a success.
func NewRetryingTransport(inner Transport, opts RetryOptions, clk clock.Clock, logger logging.Logger) Transport {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.InitialWait <= 0 {
		opts.InitialWait = defaultInitialWait
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}
	if clk == nil {
		clk = clock.New()
	}
	return &retryingTransport{inner: inner, opts: opts, clock: clk, logger: logger}
}

func (rt *retryingTransport) attempt(ctx context.Context, bucket, key string, r mirror.ByteRange) ([]byte, error) {
	body, err := rt.inner.GetRange(ctx, bucket, key, r)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(body.Close)
	data, err := io.ReadAll(io.LimitReader(body, r.Len()+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < r.Len() {
		return nil, errors.Errorf("short read: expected %d bytes, got %d", r.Len(), len(data))
	}
	return data, nil
}

func (rt *retryingTransport) GetRange(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
	wait := rt.opts.InitialWait
	var lastErr error
	for try := 1; ; try++ {
		data, err := rt.attempt(ctx, bucket, key, r)
		switch {
		case err == nil:
			if try > 1 {
				rt.logger.Debugw("range fetch succeeded after retry", "key", key, "range", r.String(), "attempts", try)
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		case terminalError(err):
			return nil, err
		}
		lastErr = err
		if try >= rt.opts.MaxAttempts {
			return nil, errors.Wrapf(lastErr, "giving up after %d attempts", try)
		}

		rt.logger.Debugw("range fetch hit transient error, will retry",
			"key", key, "range", r.String(), "attempt", try, "wait", wait.String(), "error", err.Error())
		timer := rt.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		wait *= retryFactor
		if wait > rt.opts.MaxWait {
			wait = rt.opts.MaxWait
		}
	}
}

// terminalError returns true if retrying will never succeed.
func terminalError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrNotExist) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return clientError(statusErr.Code)
	}
	if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
		return clientError(resp.StatusCode)
	}
	return false
}

func clientError(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}
