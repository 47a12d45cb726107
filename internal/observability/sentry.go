package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry is a no-op without a DSN, so local runs need no Sentry project.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		MaxBreadcrumbs:   50,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			if event.Request != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "Cookie")
			}
			return event
		},
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
