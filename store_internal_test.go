package gatekeeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id, token string) *Session {
	return &Session{UserID: id, Email: id + "@example.com", AccessToken: token}
}

func TestStoreStartsLoading(t *testing.T) {
	s := NewStore(NopLogger())
	assert.True(t, s.Snapshot().Loading)

	select {
	case <-s.Ready():
		t.Fatal("ready closed before loading finished")
	default:
	}

	assert.True(t, s.finishLoading())
	assert.False(t, s.finishLoading())
	assert.False(t, s.Snapshot().Loading)

	select {
	case <-s.Ready():
	default:
		t.Fatal("ready not closed")
	}
}

func TestStoreGenerationFollowsTarget(t *testing.T) {
	s := NewStore(NopLogger())

	g1 := s.setSession(testSession("u1", "a"))
	assert.Equal(t, g1, s.setSession(testSession("u1", "a")), "same session")
	assert.Equal(t, g1, s.setSession(testSession("u1", "b")), "token refresh")

	g2 := s.setSession(testSession("u2", "c"))
	assert.NotEqual(t, g1, g2)

	s.clear()
	assert.NotEqual(t, g2, s.Generation())
	assert.Nil(t, s.Snapshot().Session)
}

func TestStoreSetSessionIf(t *testing.T) {
	t.Run("commits when nothing was written", func(t *testing.T) {
		s := NewStore(NopLogger())
		rev := s.Revision()

		gen, ok := s.setSessionIf(rev, testSession("u1", "a"))
		assert.True(t, ok)
		assert.Equal(t, s.Generation(), gen)
		assert.Equal(t, "u1", s.Snapshot().Session.UserID)
	})

	t.Run("sign out on an empty store supersedes", func(t *testing.T) {
		s := NewStore(NopLogger())
		rev := s.Revision()

		s.clear()

		_, ok := s.setSessionIf(rev, testSession("u1", "a"))
		assert.False(t, ok)
		assert.Nil(t, s.Snapshot().Session)
	})

	t.Run("newer session wins", func(t *testing.T) {
		s := NewStore(NopLogger())
		rev := s.Revision()

		s.setSession(testSession("u2", "b"))

		_, ok := s.setSessionIf(rev, testSession("u1", "a"))
		assert.False(t, ok)
		assert.Equal(t, "u2", s.Snapshot().Session.UserID)
	})

	t.Run("newer token for the same user wins", func(t *testing.T) {
		s := NewStore(NopLogger())
		rev := s.Revision()

		s.setSession(testSession("u1", "fresh"))

		_, ok := s.setSessionIf(rev, testSession("u1", "stale"))
		assert.False(t, ok)
		assert.Equal(t, "fresh", s.Snapshot().Session.AccessToken)
	})
}

func TestStoreDropsStaleProfiles(t *testing.T) {
	s := NewStore(NopLogger())

	g1 := s.setSession(testSession("u1", "a"))
	g2 := s.setSession(testSession("u2", "b"))

	assert.False(t, s.commitProfile("u1", g1, NewPendingProfile("u1", "", "#000000")))
	assert.Nil(t, s.Snapshot().Profile)

	assert.True(t, s.commitProfile("u2", g2, NewPendingProfile("u2", "", "#000000")))
	assert.Equal(t, "u2", s.Snapshot().Profile.ID)

	s.clear()
	assert.False(t, s.commitProfile("u2", g2, NewPendingProfile("u2", "", "#000000")))
	assert.Nil(t, s.Snapshot().Profile)

	assert.False(t, s.commitProfile("u2", s.Generation(), nil))
}

func TestStoreKeepsPaidAndOnboarded(t *testing.T) {
	s := NewStore(NopLogger())
	gen := s.setSession(testSession("u1", "a"))

	done := NewPendingProfile("u1", "", "#000000")
	done.PaymentStatus = PaymentPaid
	done.PaymentTier = TierPrepaid
	done.OnboardingCompleted = true
	require.True(t, s.commitProfile("u1", gen, done))

	require.True(t, s.commitProfile("u1", gen, NewPendingProfile("u1", "", "#111111")))

	p := s.Snapshot().Profile
	assert.True(t, p.PaymentStatus.IsPaid())
	assert.Equal(t, TierPrepaid, p.PaymentTier)
	assert.True(t, p.OnboardingCompleted)
	assert.Equal(t, "#111111", p.HexCode)
}

func TestStoreChangedBroadcast(t *testing.T) {
	s := NewStore(NopLogger())
	changed := s.Changed()

	s.setSession(testSession("u1", "a"))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("changed not closed")
	}

	next := s.Changed()
	s.setSession(testSession("u1", "a"))

	select {
	case <-next:
		t.Fatal("identical session should not notify")
	default:
	}
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore(NopLogger())
	gen := s.setSession(testSession("u1", "a"))
	s.commitProfile("u1", gen, NewPendingProfile("u1", "", "#000000"))

	snap := s.Snapshot()
	snap.Session.UserID = "mutated"
	snap.Profile.PaymentStatus = PaymentPaid

	again := s.Snapshot()
	assert.Equal(t, "u1", again.Session.UserID)
	assert.False(t, again.Profile.PaymentStatus.IsPaid())
}

func TestWithDeadlineReturnsResult(t *testing.T) {
	v, err := withDeadline(context.Background(), time.Second, "op", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = withDeadline(context.Background(), time.Second, "op", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithDeadlineTimesOut(t *testing.T) {
	var cancelled atomic.Bool
	released := make(chan struct{})

	start := time.Now()
	_, err := withDeadline(context.Background(), 20*time.Millisecond, "profile.fetch", func(ctx context.Context) (int, error) {
		defer close(released)
		<-ctx.Done()
		cancelled.Store(true)
		return 1, nil
	})

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("loser was not cancelled")
	}
	assert.True(t, cancelled.Load())
}

func TestWithDeadlineParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withDeadline(ctx, time.Second, "op", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
}

func TestWithDeadlineZeroRunsInline(t *testing.T) {
	v, err := withDeadline(context.Background(), 0, "op", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
