package gatekeeper

// Requirements are the per route preconditions checked by the guard
type Requirements struct {
	RequiresPayment    bool
	RequiresOnboarding bool
}

// Any reports whether at least one precondition is set
func (r Requirements) Any() bool {
	return r.RequiresPayment || r.RequiresOnboarding
}

var (
	// PaidOnly guards pages reachable before onboarding
	PaidOnly = Requirements{RequiresPayment: true}
	// FullyOnboarded guards all protected content
	FullyOnboarded = Requirements{RequiresPayment: true, RequiresOnboarding: true}
)

// GuardAction is what a guarded page must do
type GuardAction string

const (
	GuardWait     GuardAction = "wait"
	GuardRedirect GuardAction = "redirect"
	GuardRender   GuardAction = "render"
)

// GuardOutcome is the result of Guard. Redirect is only set for GuardRedirect.
type GuardOutcome struct {
	Action   GuardAction
	Redirect Route
}

// Guard applies the subset of the gate selected by req. A signed in user
// whose profile is still resolving waits when any requirement is set, an
// unknown payment status is treated as pending.
func Guard(s State, req Requirements) GuardOutcome {
	switch {
	case s.Loading:
		return GuardOutcome{Action: GuardWait}
	case s.Session == nil:
		return GuardOutcome{Action: GuardRedirect, Redirect: RouteLogin}
	case s.Profile == nil && req.Any():
		return GuardOutcome{Action: GuardWait}
	case req.RequiresPayment && !s.Profile.PaymentStatus.IsPaid():
		return GuardOutcome{Action: GuardRedirect, Redirect: RoutePayment}
	case req.RequiresOnboarding && !s.Profile.OnboardingCompleted:
		return GuardOutcome{Action: GuardRedirect, Redirect: RouteOnboarding}
	default:
		return GuardOutcome{Action: GuardRender}
	}
}
