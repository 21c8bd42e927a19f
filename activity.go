package gatekeeper

import (
	"context"
	"time"
)

// ActivityEventType names a step a client took through the funnel.
type ActivityEventType string

// auth
const (
	ActivityEventSignInSuccess ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure ActivityEventType = "auth.signin.failure"
	ActivityEventSignUpSuccess ActivityEventType = "auth.signup.success"
	ActivityEventSignUpFailure ActivityEventType = "auth.signup.failure"
	ActivityEventMagicLinkSent ActivityEventType = "auth.magiclink.sent"
	ActivityEventSignOut       ActivityEventType = "auth.signout"
)

// profile resolution outcomes other than a plain read
const (
	ActivityEventProfileCreated     ActivityEventType = "profile.created"
	ActivityEventProfileSynthesized ActivityEventType = "profile.synthesized"
)

// payment and onboarding
const (
	ActivityEventPromoApplied        ActivityEventType = "payment.promo.applied"
	ActivityEventPaymentCompleted    ActivityEventType = "payment.completed"
	ActivityEventOnboardingCompleted ActivityEventType = "onboarding.completed"
)

// ActivityEvent is emitted by the controller and the profile resolver.
// UserID is empty for failed or anonymous attempts, Metadata is never nil.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives funnel events, e.g. to feed an audit log.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc lets a plain function act as an ActivitySink. A nil func
// discards events.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

var discardActivity ActivitySink = ActivitySinkFunc(nil)

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return discardActivity
	}
	return s
}

// recordActivity never fails the caller, a sink error is only logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now Clock, eventType ActivityEventType, userID string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	err := normalizeActivitySink(sink).Record(ctx, ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: now(),
	})
	if err != nil {
		logger.Warn("could not record activity", "event", eventType, "user_id", userID, "error", err)
	}
}
