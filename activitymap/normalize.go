package activitymap

import (
	"strings"
	"time"

	authstate "github.com/goliatone/go-authstate"
)

const (
	// MetadataKeyRole stores the actor role attached to the event.
	MetadataKeyRole = "role"
	// MetadataKeyPath stores the guarded path for navigation events.
	MetadataKeyPath = "path"
	// MetadataKeyFromStatus stores the source session status for transitions.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target session status for transitions.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel    = "session"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(authstate.ActivityEvent) string
}

// Normalize converts an authstate.ActivityEvent into a generic normalized shape.
func Normalize(event authstate.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(event.Email),
		strings.TrimSpace(options.actorFallback),
	)

	objectID := resolveObjectID(event, options.objectIDResolver)
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(authstate.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when user id and email
// are both empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event authstate.ActivityEvent, resolver func(authstate.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	if path := strings.TrimSpace(event.Path); path != "" {
		return path
	}
	return strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event authstate.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	ensure := func() {
		if metadata == nil {
			metadata = map[string]any{}
		}
	}

	if role := strings.TrimSpace(string(event.Role)); role != "" {
		ensure()
		if _, exists := metadata[MetadataKeyRole]; !exists {
			metadata[MetadataKeyRole] = role
		}
	}

	if path := strings.TrimSpace(event.Path); path != "" {
		ensure()
		if _, exists := metadata[MetadataKeyPath]; !exists {
			metadata[MetadataKeyPath] = path
		}
	}

	if event.FromStatus != "" {
		ensure()
		metadata[MetadataKeyFromStatus] = string(event.FromStatus)
	}

	if event.ToStatus != "" {
		ensure()
		metadata[MetadataKeyToStatus] = string(event.ToStatus)
	}

	return metadata
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

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
