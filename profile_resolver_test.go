package gatekeeper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(records *fakeRecords, sink *captureSink, timeout time.Duration) *gatekeeper.ProfileResolver {
	return gatekeeper.NewProfileResolver(records,
		gatekeeper.WithResolverTimeout(timeout),
		gatekeeper.WithResolverHexCodes(fixedHex),
		gatekeeper.WithResolverLogger(gatekeeper.NopLogger()),
		gatekeeper.WithResolverActivitySink(sink),
	)
}

func TestResolveFound(t *testing.T) {
	records := newFakeRecords()
	records.seed(gatekeeper.TableProfiles, profileRecord("u1", true, false))
	sink := &captureSink{}

	res := newResolver(records, sink, time.Second).Resolve(context.Background(), "u1", "u1@example.com")

	assert.Equal(t, gatekeeper.ResolutionFound, res.Kind)
	assert.True(t, res.Durable())
	assert.NoError(t, res.Cause)
	require.NotNil(t, res.Profile)
	assert.True(t, res.Profile.PaymentStatus.IsPaid())
	assert.False(t, res.Profile.OnboardingCompleted)
	assert.Equal(t, int32(0), records.inserts.Load())
	assert.Empty(t, sink.types())
}

func TestResolveCreatesMissingProfile(t *testing.T) {
	records := newFakeRecords()
	sink := &captureSink{}

	res := newResolver(records, sink, time.Second).Resolve(context.Background(), "u1", "u1@example.com")

	assert.Equal(t, gatekeeper.ResolutionCreated, res.Kind)
	require.NotNil(t, res.Profile)
	assert.Equal(t, "u1", res.Profile.ID)
	assert.Equal(t, "u1@example.com", res.Profile.Email)
	assert.Equal(t, "#A1B2C3", res.Profile.HexCode)
	assert.Equal(t, gatekeeper.PaymentPending, res.Profile.PaymentStatus)
	assert.False(t, res.Profile.OnboardingCompleted)
	assert.Equal(t, gatekeeper.RoleUser, res.Profile.Role)

	stored := records.find(gatekeeper.TableProfiles, gatekeeper.Filter{"id": "u1"})
	require.NotNil(t, stored)
	assert.Equal(t, "pending", stored["payment_status"])
	assert.Equal(t, false, stored["onboarding_completed"])

	assert.Equal(t, []gatekeeper.ActivityEventType{gatekeeper.ActivityEventProfileCreated}, sink.types())
}

func TestResolveSynthesizesWhenBackendFails(t *testing.T) {
	records := newFakeRecords()
	records.queryErr = errBackendDown
	records.insertErr = errBackendDown
	sink := &captureSink{}

	res := newResolver(records, sink, time.Second).Resolve(context.Background(), "u1", "u1@example.com")

	assert.Equal(t, gatekeeper.ResolutionSynthesized, res.Kind)
	assert.False(t, res.Durable())
	require.NotNil(t, res.Profile)
	assert.Equal(t, "u1", res.Profile.ID)
	assert.Equal(t, gatekeeper.PaymentPending, res.Profile.PaymentStatus)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(res.Cause, &richErr))
	assert.Equal(t, gatekeeper.TextCodeProfileResolution, richErr.TextCode)

	assert.Equal(t, []gatekeeper.ActivityEventType{gatekeeper.ActivityEventProfileSynthesized}, sink.types())
}

func TestResolveSlowFetchCreatesProfile(t *testing.T) {
	records := newFakeRecords()
	records.queryDelay = 500 * time.Millisecond

	start := time.Now()
	res := newResolver(records, &captureSink{}, 50*time.Millisecond).Resolve(context.Background(), "u1", "")

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, gatekeeper.ResolutionCreated, res.Kind)
	require.NotNil(t, res.Profile)
	assert.True(t, gatekeeper.IsTimeout(res.Cause))
}

func TestResolveSlowBackendSynthesizes(t *testing.T) {
	records := newFakeRecords()
	records.queryDelay = 500 * time.Millisecond
	records.insertDelay = 500 * time.Millisecond

	start := time.Now()
	res := newResolver(records, &captureSink{}, 50*time.Millisecond).Resolve(context.Background(), "u1", "")

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, gatekeeper.ResolutionSynthesized, res.Kind)
	require.NotNil(t, res.Profile)
}

func TestResolveEmptyUser(t *testing.T) {
	records := newFakeRecords()

	res := newResolver(records, &captureSink{}, time.Second).Resolve(context.Background(), "", "")

	assert.Nil(t, res.Profile)
	assert.Error(t, res.Cause)
	assert.Equal(t, int32(0), records.queries.Load())
}

func TestResolveSharesConcurrentCalls(t *testing.T) {
	records := newFakeRecords()
	records.seed(gatekeeper.TableProfiles, profileRecord("u1", false, false))
	records.queryGate = make(chan struct{})
	records.queryStarted = make(chan struct{}, 1)

	resolver := newResolver(records, &captureSink{}, 2*time.Second)

	const callers = 5
	results := make([]gatekeeper.Resolution, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = resolver.Resolve(context.Background(), "u1", "")
		}(i)
	}

	select {
	case <-records.queryStarted:
	case <-time.After(time.Second):
		t.Fatal("profile query never started")
	}

	// let the other callers join the flight
	time.Sleep(50 * time.Millisecond)
	close(records.queryGate)
	wg.Wait()

	assert.Equal(t, int32(1), records.queries.Load())
	for _, res := range results {
		assert.Equal(t, gatekeeper.ResolutionFound, res.Kind)
		require.NotNil(t, res.Profile)
	}

	// every caller gets its own copy
	results[0].Profile.HexCode = "changed"
	assert.Equal(t, "#00FF00", results[1].Profile.HexCode)
}

func TestResolveIgnoresCallerCancellation(t *testing.T) {
	records := newFakeRecords()
	records.seed(gatekeeper.TableProfiles, profileRecord("u1", false, false))
	records.queryDelay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newResolver(records, &captureSink{}, time.Second).Resolve(ctx, "u1", "")
	assert.Equal(t, gatekeeper.ResolutionFound, res.Kind)
}
