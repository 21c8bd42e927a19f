package gatekeeper

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// ResolutionKind tells how a profile was obtained
type ResolutionKind string

const (
	// ResolutionFound means the stored profile was read back
	ResolutionFound ResolutionKind = "found"
	// ResolutionCreated means no profile was readable and a new one was inserted
	ResolutionCreated ResolutionKind = "created"
	// ResolutionSynthesized means fetch and insert both failed, the profile
	// only lives in memory
	ResolutionSynthesized ResolutionKind = "synthesized"
)

// Durable reports whether profiles of this kind are persisted
func (k ResolutionKind) Durable() bool {
	return k == ResolutionFound || k == ResolutionCreated
}

// Resolution is the outcome of ProfileResolver.Resolve.
type Resolution struct {
	Kind    ResolutionKind
	Profile *Profile
	// Cause is set when the resolver had to leave the happy path
	Cause error
}

// Durable reports whether the resolved profile is persisted
func (r Resolution) Durable() bool {
	return r.Kind.Durable()
}

// DefaultProfileTimeout bounds each backend call made by the resolver
const DefaultProfileTimeout = 2000 * time.Millisecond

// ResolverOption configures a ProfileResolver
type ResolverOption func(*ProfileResolver)

// WithResolverTimeout sets the deadline raced against fetch and insert
func WithResolverTimeout(d time.Duration) ResolverOption {
	return func(r *ProfileResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithResolverHexCodes overrides the display identifier generator
func WithResolverHexCodes(gen HexCodeGenerator) ResolverOption {
	return func(r *ProfileResolver) {
		if gen != nil {
			r.hexCodes = gen
		}
	}
}

func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *ProfileResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithResolverActivitySink(sink ActivitySink) ResolverOption {
	return func(r *ProfileResolver) {
		r.activity = normalizeActivitySink(sink)
	}
}

func WithResolverClock(clock Clock) ResolverOption {
	return func(r *ProfileResolver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// ProfileResolver fetches the profile of a signed in user and creates it when
// missing. It never blocks longer than two timeouts and never returns a nil
// profile for a non-empty user id.
type ProfileResolver struct {
	records  RecordStore
	timeout  time.Duration
	hexCodes HexCodeGenerator
	logger   Logger
	activity ActivitySink
	now      Clock
	flights  singleflight.Group
}

// NewProfileResolver returns a resolver backed by records
func NewProfileResolver(records RecordStore, opts ...ResolverOption) *ProfileResolver {
	r := &ProfileResolver{
		records:  records,
		timeout:  DefaultProfileTimeout,
		hexCodes: GenerateHexCode,
		logger:   defLogger{},
		activity: discardActivity,
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Resolve returns the profile for userID. Concurrent calls for the same user
// share a single backend round trip.
func (r *ProfileResolver) Resolve(ctx context.Context, userID, email string) Resolution {
	if userID == "" {
		return Resolution{
			Kind:  ResolutionSynthesized,
			Cause: wrapError(ErrSessionRequired, nil, nil),
		}
	}

	// the flight outlives the caller that started it, each step is bounded
	// by the timeout instead
	flightCtx := context.WithoutCancel(ctx)

	v, _, _ := r.flights.Do(userID, func() (any, error) {
		return r.resolve(flightCtx, userID, email), nil
	})

	res := v.(Resolution)
	res.Profile = res.Profile.clone()
	return res
}

func (r *ProfileResolver) resolve(ctx context.Context, userID, email string) Resolution {
	rec, err := withDeadline(ctx, r.timeout, "profile.fetch", func(ctx context.Context) (Record, error) {
		return r.records.QueryRecord(ctx, TableProfiles, Filter{"id": userID})
	})

	if err == nil && rec != nil {
		profile, perr := ProfileFromRecord(rec)
		if perr == nil {
			return Resolution{Kind: ResolutionFound, Profile: profile}
		}
		err = perr
	}

	if err != nil {
		r.logger.Warn("profile fetch failed, creating profile", "user_id", userID, "error", err)
	} else {
		r.logger.Info("profile not found, creating profile", "user_id", userID)
	}

	candidate := NewPendingProfile(userID, email, r.hexCodes())

	inserted, ierr := withDeadline(ctx, r.timeout, "profile.insert", func(ctx context.Context) (Record, error) {
		return r.records.InsertRecord(ctx, TableProfiles, candidate.Record())
	})

	if ierr == nil {
		profile := candidate
		if inserted != nil {
			if p, perr := ProfileFromRecord(inserted); perr == nil {
				profile = p
			}
		}

		recordActivity(ctx, r.activity, r.logger, r.now, ActivityEventProfileCreated, userID, map[string]any{
			"hex_code": profile.HexCode,
		})

		return Resolution{Kind: ResolutionCreated, Profile: profile, Cause: err}
	}

	meta := map[string]any{"user_id": userID}
	if err != nil {
		meta["fetch_error"] = err.Error()
	}
	cause := wrapError(ErrProfileResolution, ierr, meta)

	r.logger.Error("profile insert failed, using in-memory profile", "user_id", userID, "error", cause)

	recordActivity(ctx, r.activity, r.logger, r.now, ActivityEventProfileSynthesized, userID, map[string]any{
		"hex_code": candidate.HexCode,
		"timeout":  IsTimeout(ierr),
	})

	return Resolution{Kind: ResolutionSynthesized, Profile: candidate, Cause: cause}
}
