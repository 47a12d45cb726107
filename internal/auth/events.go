package auth

import (
	"sync"
	"time"
)

type EventType string

const (
	EventFailedLogin            EventType = "FAILED_LOGIN"
	EventSuccessfulLogin        EventType = "SUCCESSFUL_LOGIN"
	EventTokenValidationFailure EventType = "TOKEN_VALIDATION_FAILURE"
	EventRateLimitHit           EventType = "RATE_LIMIT_HIT"
	EventAccountLocked          EventType = "ACCOUNT_LOCKED"
	EventSignup                 EventType = "SIGNUP"
	EventSignupRejected         EventType = "SIGNUP_REJECTED"
	EventTokenRefreshed         EventType = "TOKEN_REFRESHED"
	EventLogout                 EventType = "LOGOUT"
)

// Failure reports whether the event describes a rejected or suspicious action.
func (t EventType) Failure() bool {
	switch t {
	case EventFailedLogin, EventTokenValidationFailure, EventRateLimitHit, EventAccountLocked, EventSignupRejected:
		return true
	}
	return false
}

type EventDetails struct {
	Email     string `json:"email,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IP        string `json:"ip,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
}

type SecurityEvent struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Details   EventDetails `json:"details"`
}

type EventSink interface {
	HandleSecurityEvent(event SecurityEvent)
}

const defaultRecentEvents = 100

// SecurityLog is the append-only audit trail of authentication events.
type SecurityLog struct {
	mu     sync.RWMutex
	clock  Clock
	sink   EventSink
	events []SecurityEvent
}

func NewSecurityLog(clock Clock, sink EventSink) *SecurityLog {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SecurityLog{clock: clock, sink: sink}
}

func (l *SecurityLog) Record(eventType EventType, details EventDetails) SecurityEvent {
	event := SecurityEvent{
		Type:      eventType,
		Timestamp: l.clock.Now(),
		Details:   details,
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.HandleSecurityEvent(event)
	}
	return event
}

// Recent returns up to limit of the latest events, oldest first.
func (l *SecurityLog) Recent(limit int) []SecurityEvent {
	if limit <= 0 {
		limit = defaultRecentEvents
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.events) - limit
	if start < 0 {
		start = 0
	}
	out := make([]SecurityEvent, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

func (l *SecurityLog) ByType(eventType EventType) []SecurityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]SecurityEvent, 0)
	for _, event := range l.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func (l *SecurityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
