package gatekeeper

// Route is a client side destination
type Route string

const (
	RouteHome       Route = "/"
	RouteLogin      Route = "/login"
	RoutePayment    Route = "/payment"
	RouteOnboarding Route = "/onboarding"
	RouteDashboard  Route = "/dashboard"
)

// Decision is what the gate requires for a given state
type Decision string

const (
	DecisionAwaitLoading      Decision = "await-loading"
	DecisionRequireLogin      Decision = "require-login"
	DecisionRequirePayment    Decision = "require-payment"
	DecisionRequireOnboarding Decision = "require-onboarding"
	DecisionAllowDashboard    Decision = "allow-dashboard"
)

// Stage names the progression state a snapshot is in
type Stage string

const (
	StageLoading              Stage = "loading"
	StageNoSession            Stage = "no-session"
	StageNoProfile            Stage = "no-profile"
	StageUnpaid               Stage = "unpaid"
	StageOnboardingIncomplete Stage = "onboarding-incomplete"
	StageComplete             Stage = "complete"
)

// Evaluation is the gate output. Route is empty while the client has to wait.
type Evaluation struct {
	Stage    Stage
	Decision Decision
	Route    Route
}

// Wait reports whether the client must render a wait state
func (e Evaluation) Wait() bool {
	return e.Decision == DecisionAwaitLoading
}

// Evaluate maps a state to the route the user has to be on. The checks run
// in a fixed order and the first match wins: payment is always enforced
// before onboarding, onboarding before any protected page.
func Evaluate(s State) Evaluation {
	switch {
	case s.Loading:
		return Evaluation{Stage: StageLoading, Decision: DecisionAwaitLoading}
	case s.Session == nil:
		return Evaluation{Stage: StageNoSession, Decision: DecisionRequireLogin, Route: RouteLogin}
	case s.Profile == nil:
		return Evaluation{Stage: StageNoProfile, Decision: DecisionAwaitLoading}
	case !s.Profile.PaymentStatus.IsPaid():
		return Evaluation{Stage: StageUnpaid, Decision: DecisionRequirePayment, Route: RoutePayment}
	case !s.Profile.OnboardingCompleted:
		return Evaluation{Stage: StageOnboardingIncomplete, Decision: DecisionRequireOnboarding, Route: RouteOnboarding}
	default:
		return Evaluation{Stage: StageComplete, Decision: DecisionAllowDashboard, Route: RouteDashboard}
	}
}
