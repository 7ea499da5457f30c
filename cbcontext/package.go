// Package cbcontext carries request-scoped values for logging and error
// reporting through a context.Context.
package cbcontext

import (
	"context"
	"os"

	"github.com/getsentry/raven-go"
	"github.com/sirupsen/logrus"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	driverNameKey
)

// FromRequestID generates a new context with the given context as its parent,
// and stores the given ID with the context. The ID can be retrieved again
// using RequestIDFromContext.
func FromRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the Request ID stored in the context with
// FromRequestID. If no RequestID is stored in the context, the second argument
// is false. Otherwise it is true.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	return requestID, ok
}

// FromDriverName returns a context carrying the name a driver was loaded
// under, as used by cloudbrain.Core.
func FromDriverName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, driverNameKey, name)
}

// DriverNameFromContext returns the name stored with FromDriverName.
func DriverNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(driverNameKey).(string)
	return name, ok
}

// LoggerFromContext returns a logrus.Entry with the PID of the current process
// set as a field, and also includes every field set using the From* functions
// this package.
func LoggerFromContext(ctx context.Context) *logrus.Entry {
	entry := logrus.WithField("pid", os.Getpid())
	if ctx == nil {
		return entry
	}

	if requestID, ok := RequestIDFromContext(ctx); ok {
		entry = entry.WithField("request_id", requestID)
	}
	if name, ok := DriverNameFromContext(ctx); ok {
		entry = entry.WithField("driver", name)
	}

	return entry
}

// CaptureError takes an error and captures the details about it and sends it
// off to Sentry, if Sentry has been set up.
func CaptureError(ctx context.Context, err error) {
	if raven.DefaultClient == nil || err == nil {
		// No client, so we can short-circuit to make things faster
		return
	}

	interfaces := []raven.Interface{
		raven.NewException(err, raven.NewStacktrace(1, 3, []string{"github.com/travis-ci/cloud-driver"})),
	}

	tags := make(map[string]string)
	if ctx != nil {
		if requestID, ok := RequestIDFromContext(ctx); ok {
			tags["requestID"] = requestID
		}
		if name, ok := DriverNameFromContext(ctx); ok {
			tags["driver"] = name
		}
	}

	packet := raven.NewPacket(
		err.Error(),
		interfaces...,
	)
	raven.DefaultClient.Capture(packet, tags)
}
