// Package activitymap flattens gatekeeper activity events into a shape
// audit pipelines can store without knowing the event types.
package activitymap

import (
	"strings"
	"time"

	gatekeeper "github.com/goliatone/go-gatekeeper"
)

const (
	// MetadataKeyEmail is lifted out of the metadata when no user is known yet
	MetadataKeyEmail = "email"
)

const (
	defaultChannel = "gatekeeper"
	anonymousActor = "anonymous"
)

// Normalized is a transport agnostic activity record
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Fields returns the record as key/value pairs for structured loggers
func (n Normalized) Fields() []any {
	fields := []any{
		"actor_id", n.ActorID,
		"verb", n.Verb,
		"channel", n.Channel,
		"occurred_at", n.OccurredAt.Format(time.RFC3339),
	}
	if n.ObjectType != "" {
		fields = append(fields, "object_type", n.ObjectType)
	}
	if n.ObjectID != "" {
		fields = append(fields, "object_id", n.ObjectID)
	}
	if len(n.Metadata) > 0 {
		fields = append(fields, "metadata", n.Metadata)
	}
	return fields
}

// Option customizes normalization
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the actor of events recorded before sign in
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock stamps events that carry no time
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// Normalize maps an activity event. The object type is the event namespace,
// e.g. "payment" for payment.completed.
func Normalize(event gatekeeper.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		actorFallback: anonymousActor,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	verb := string(event.EventType)
	metadata := cloneMap(event.Metadata)

	actorID := strings.TrimSpace(event.UserID)
	if actorID == "" {
		if email, ok := metadata[MetadataKeyEmail].(string); ok && email != "" {
			actorID = email
			delete(metadata, MetadataKeyEmail)
		} else {
			actorID = options.actorFallback
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       verb,
		ObjectType: objectType(verb),
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    options.channel,
		Metadata:   metadata,
		OccurredAt: occurredAt.UTC(),
	}
}

func objectType(verb string) string {
	if i := strings.IndexByte(verb, '.'); i > 0 {
		return verb[:i]
	}
	return ""
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
