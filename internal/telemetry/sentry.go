// Package telemetry reports server errors to Sentry.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const flushTimeout = 2 * time.Second

// Config configures the Sentry client.
type Config struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
}

// Reporter records unexpected errors.
type Reporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
}

// SentryReporter sends errors to Sentry. A disabled reporter only logs.
type SentryReporter struct {
	enabled bool
	logger  *zap.Logger
}

// Init configures the global Sentry client. An empty DSN yields a disabled reporter.
func Init(cfg Config, logger *zap.Logger) (*SentryReporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		logger.Info("sentry dsn not configured, error tracking disabled")
		return &SentryReporter{logger: logger}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		ServerName:  cfg.ServerName,
		BeforeSend:  scrubEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	logger.Info("sentry initialized", zap.String("environment", cfg.Environment))
	return &SentryReporter{enabled: true, logger: logger}, nil
}

// Enabled reports whether events are sent.
func (r *SentryReporter) Enabled() bool {
	return r != nil && r.enabled
}

// CaptureError sends err with tags attached.
func (r *SentryReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil || !r.Enabled() {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
	r.logger.Debug("error captured in sentry", zap.Error(err))
}

// Flush waits for queued events.
func (r *SentryReporter) Flush() bool {
	if !r.Enabled() {
		return true
	}
	return sentry.Flush(flushTimeout)
}

// Middleware reports panics and responses with a 5xx status.
func Middleware(reporter Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if reporter == nil {
			c.Next()
			return
		}
		defer func() {
			if recovered := recover(); recovered != nil {
				err, ok := recovered.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", recovered)
				}
				reporter.CaptureError(c.Request.Context(), err, requestTags(c, http.StatusInternalServerError))
				panic(recovered)
			}
		}()

		c.Next()

		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		err := errors.New(http.StatusText(status))
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		reporter.CaptureError(c.Request.Context(), err, requestTags(c, status))
	}
}

func requestTags(c *gin.Context, status int) map[string]string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return map[string]string{
		"method": c.Request.Method,
		"route":  route,
		"status": fmt.Sprintf("%d", status),
	}
}

func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request != nil && event.Request.Headers != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
	}
	if event.Request != nil {
		event.Request.QueryString = ""
	}
	return event
}
