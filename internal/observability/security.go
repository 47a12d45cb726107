package observability

import (
	"github.com/getsentry/sentry-go"

	"warranty-serverless/internal/auth"
)

// SecuritySink forwards security events to the log and to Sentry breadcrumbs.
type SecuritySink struct {
	logger *Logger
}

func NewSecuritySink(logger *Logger) *SecuritySink {
	return &SecuritySink{logger: logger}
}

func (s *SecuritySink) HandleSecurityEvent(event auth.SecurityEvent) {
	fields := map[string]any{
		"event_type": string(event.Type),
		"event_time": event.Timestamp,
	}
	if event.Details.Email != "" {
		fields["email"] = event.Details.Email
	}
	if event.Details.AccountID != 0 {
		fields["account_id"] = event.Details.AccountID
	}
	if event.Details.Reason != "" {
		fields["reason"] = event.Details.Reason
	}
	if event.Details.IP != "" {
		fields["ip"] = event.Details.IP
	}
	if event.Details.Endpoint != "" {
		fields["endpoint"] = event.Details.Endpoint
	}

	level := sentry.LevelInfo
	if event.Type.Failure() {
		level = sentry.LevelWarning
		s.logger.Warn("security_event", fields)
	} else {
		s.logger.Info("security_event", fields)
	}

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  "security",
		Message:   string(event.Type),
		Level:     level,
		Timestamp: event.Timestamp,
		Data:      fields,
	})

	if event.Type == auth.EventAccountLocked {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelWarning)
			scope.SetTag("security_event", string(event.Type))
			scope.SetExtra("account_id", event.Details.AccountID)
			scope.SetExtra("ip", event.Details.IP)
			sentry.CaptureMessage("account locked after repeated failed logins")
		})
	}
}
