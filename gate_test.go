package gatekeeper_test

import (
	"testing"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/stretchr/testify/assert"
)

func profile(status gatekeeper.PaymentStatus, onboarded bool) *gatekeeper.Profile {
	return &gatekeeper.Profile{
		ID:                  "u1",
		PaymentStatus:       status,
		OnboardingCompleted: onboarded,
		Role:                gatekeeper.RoleUser,
	}
}

func TestEvaluateScenarios(t *testing.T) {
	sess := &gatekeeper.Session{UserID: "u1"}

	tests := []struct {
		name     string
		state    gatekeeper.State
		route    gatekeeper.Route
		decision gatekeeper.Decision
		stage    gatekeeper.Stage
	}{
		{
			name:     "signed out goes to login",
			state:    gatekeeper.State{},
			route:    gatekeeper.RouteLogin,
			decision: gatekeeper.DecisionRequireLogin,
			stage:    gatekeeper.StageNoSession,
		},
		{
			name:     "pending payment goes to payment",
			state:    gatekeeper.State{Session: sess, Profile: profile(gatekeeper.PaymentPending, false)},
			route:    gatekeeper.RoutePayment,
			decision: gatekeeper.DecisionRequirePayment,
			stage:    gatekeeper.StageUnpaid,
		},
		{
			name:     "paid without onboarding goes to onboarding",
			state:    gatekeeper.State{Session: sess, Profile: profile(gatekeeper.PaymentPaid, false)},
			route:    gatekeeper.RouteOnboarding,
			decision: gatekeeper.DecisionRequireOnboarding,
			stage:    gatekeeper.StageOnboardingIncomplete,
		},
		{
			name:     "paid and onboarded goes to dashboard",
			state:    gatekeeper.State{Session: sess, Profile: profile(gatekeeper.PaymentPaid, true)},
			route:    gatekeeper.RouteDashboard,
			decision: gatekeeper.DecisionAllowDashboard,
			stage:    gatekeeper.StageComplete,
		},
		{
			name:     "loading waits",
			state:    gatekeeper.State{Loading: true, Session: sess, Profile: profile(gatekeeper.PaymentPaid, true)},
			decision: gatekeeper.DecisionAwaitLoading,
			stage:    gatekeeper.StageLoading,
		},
		{
			name:     "missing profile waits",
			state:    gatekeeper.State{Session: sess},
			decision: gatekeeper.DecisionAwaitLoading,
			stage:    gatekeeper.StageNoProfile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := gatekeeper.Evaluate(tt.state)
			assert.Equal(t, tt.route, ev.Route)
			assert.Equal(t, tt.decision, ev.Decision)
			assert.Equal(t, tt.stage, ev.Stage)
			assert.Equal(t, tt.route == "", ev.Wait())
		})
	}
}

func TestEvaluateSignedOutIgnoresProfile(t *testing.T) {
	profiles := []*gatekeeper.Profile{
		nil,
		profile(gatekeeper.PaymentPending, false),
		profile(gatekeeper.PaymentPaid, false),
		profile(gatekeeper.PaymentPaid, true),
	}

	for _, p := range profiles {
		ev := gatekeeper.Evaluate(gatekeeper.State{Profile: p})
		assert.Equal(t, gatekeeper.RouteLogin, ev.Route)
	}
}

func TestEvaluateUnpaidNeverPassesPayment(t *testing.T) {
	sess := &gatekeeper.Session{UserID: "u1"}

	for _, raw := range []string{"pending", "", "refunded", "PAID?", "failed"} {
		for _, onboarded := range []bool{false, true} {
			p := profile(gatekeeper.ParsePaymentStatus(raw), onboarded)
			ev := gatekeeper.Evaluate(gatekeeper.State{Session: sess, Profile: p})
			assert.Equal(t, gatekeeper.RoutePayment, ev.Route, "status %q onboarded %v", raw, onboarded)
		}
	}
}

func TestEvaluatePaidWithoutOnboarding(t *testing.T) {
	sess := &gatekeeper.Session{UserID: "u1"}

	for _, raw := range []string{"paid", "PAID", " paid "} {
		p := profile(gatekeeper.ParsePaymentStatus(raw), false)
		ev := gatekeeper.Evaluate(gatekeeper.State{Session: sess, Profile: p})
		assert.Equal(t, gatekeeper.RouteOnboarding, ev.Route)
		assert.NotEqual(t, gatekeeper.RouteDashboard, ev.Route)
	}
}
