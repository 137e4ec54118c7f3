// Package telemetry reports errors to Sentry.
package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"support_server/pkg/logger"
)

const serviceName = "support-server"

type Config struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
	Debug            bool
}

// Init configures the global Sentry client and returns a flush function.
// An empty DSN or a failed init yields a no-op flush.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
	})
	if err != nil {
		logger.WithError(err).Warn("Sentry init failed, continuing without error reporting")
		return func() {}, nil
	}

	logger.Info("Sentry initialized (environment: %s)", cfg.Environment)
	return func() { sentry.Flush(5 * time.Second) }, nil
}

// CaptureError reports err on the hub bound to ctx, or on the global hub.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// CaptureMessage reports a message on the hub bound to ctx, or on the global hub.
func CaptureMessage(ctx context.Context, message string) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureMessage(message)
		return
	}
	sentry.CaptureMessage(message)
}

// WithHub binds a request-scoped clone of the current hub to ctx with the given tags.
func WithHub(ctx context.Context, tags map[string]string) context.Context {
	hub := sentry.CurrentHub().Clone()
	for k, v := range tags {
		if v != "" {
			hub.Scope().SetTag(k, v)
		}
	}
	return sentry.SetHubOnContext(ctx, hub)
}

// Recover reports a recovered panic value.
func Recover(ctx context.Context, r any) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.RecoverWithContext(ctx, r)
		return
	}
	sentry.CurrentHub().RecoverWithContext(ctx, r)
}
