package observability

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled atomic.Bool

type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
}

// InitSentry enables error capture when a DSN is configured. The returned
// func flushes pending events and is always safe to call.
func InitSentry(opts SentryOptions) (func(), bool, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		sentryEnabled.Store(false)
		return func() {}, false, nil
	}

	options := sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      strings.TrimSpace(opts.Environment),
		Release:          strings.TrimSpace(opts.Release),
		AttachStacktrace: true,
	}

	if err := sentry.Init(options); err != nil {
		sentryEnabled.Store(false)
		return func() {}, false, err
	}

	sentryEnabled.Store(true)
	return func() {
		sentry.Flush(2 * time.Second)
	}, true, nil
}

func CaptureError(err error, tags map[string]string, extra map[string]interface{}) {
	if err == nil || !sentryEnabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		for key, value := range extra {
			scope.SetExtra(key, value)
		}
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic value from a device worker.
func CapturePanic(recovered any, component, device string) {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	CaptureError(err, map[string]string{
		"component": component,
		"device":    device,
		"kind":      "panic",
	}, nil)
}
