package gatekeeper

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultInitTimeout = 2000 * time.Millisecond
	DefaultSettleDelay = 500 * time.Millisecond
)

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithInitTimeout sets the fail-safe after which loading is cleared even if
// the session request has not returned
func WithInitTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.initTimeout = d
		}
	}
}

// WithProfileTimeout sets the deadline of each profile fetch and insert
func WithProfileTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.profileTimeout = d
		}
	}
}

// WithSettleDelay sets the pause taken after payment or onboarding
// completion before the gate is evaluated again. Zero disables it.
func WithSettleDelay(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d >= 0 {
			c.settleDelay = d
		}
	}
}

func WithNavigator(n Navigator) ControllerOption {
	return func(c *Controller) {
		if n != nil {
			c.navigator = n
		}
	}
}

func WithDraftCache(cache DraftCache) ControllerOption {
	return func(c *Controller) {
		if cache != nil {
			c.drafts = cache
		}
	}
}

func WithLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithActivitySink(sink ActivitySink) ControllerOption {
	return func(c *Controller) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.now = clock
		}
	}
}

func WithHexCodes(gen HexCodeGenerator) ControllerOption {
	return func(c *Controller) {
		if gen != nil {
			c.hexCodes = gen
		}
	}
}

// WithMagicLinkRedirect sets where magic links send the user back to
func WithMagicLinkRedirect(url string) ControllerOption {
	return func(c *Controller) {
		c.magicRedirect = url
	}
}

// Controller owns the auth lifecycle of a single client: it restores the
// session, follows provider auth events, keeps the profile resolved and
// exposes the user initiated auth operations.
type Controller struct {
	provider AuthProvider
	records  RecordStore
	store    *Store
	resolver *ProfileResolver
	drafts   DraftCache

	navigator Navigator
	logger    Logger
	activity  ActivitySink
	now       Clock
	hexCodes  HexCodeGenerator

	initTimeout    time.Duration
	profileTimeout time.Duration
	settleDelay    time.Duration
	magicRedirect  string

	initOnce  sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	timer     *time.Timer
	sub       Subscription
	closed    bool
	promo     *PromoQuote

	bg     context.Context
	cancel context.CancelFunc
}

// NewController wires a controller. Initialize must be called before the
// state is meaningful, until then the store reports loading.
func NewController(provider AuthProvider, records RecordStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		provider:       provider,
		records:        records,
		drafts:         NewMemoryDraftCache(),
		navigator:      noopNavigator{},
		logger:         defLogger{},
		activity:       discardActivity,
		now:            time.Now,
		hexCodes:       GenerateHexCode,
		initTimeout:    DefaultInitTimeout,
		profileTimeout: DefaultProfileTimeout,
		settleDelay:    DefaultSettleDelay,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.store = NewStore(c.logger)
	c.resolver = NewProfileResolver(records,
		WithResolverTimeout(c.profileTimeout),
		WithResolverHexCodes(c.hexCodes),
		WithResolverLogger(c.logger),
		WithResolverActivitySink(c.activity),
		WithResolverClock(c.now),
	)
	c.bg, c.cancel = context.WithCancel(context.Background())

	return c
}

// Initialize subscribes to auth events and starts restoring the persisted
// session. It does not block, loading is cleared when the session (and its
// profile) is known or when the init timeout fires, whichever comes first.
// Repeated calls are no-ops.
func (c *Controller) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			return
		}

		rev := c.store.Revision()
		c.sub = c.provider.OnAuthStateChange(c.OnAuthStateChange)
		c.timer = time.AfterFunc(c.initTimeout, func() {
			if c.store.finishLoading() {
				c.logger.Warn("session restore did not finish in time, continuing", "timeout", c.initTimeout)
			}
		})

		go c.restoreSession(c.bg, rev)
	})
}

// restoreSession applies the persisted session unless an auth event or a user
// action wrote the session after rev.
func (c *Controller) restoreSession(ctx context.Context, rev uint64) {
	defer c.stopInitTimer()
	defer c.store.finishLoading()

	sess, err := c.provider.GetSession(ctx)
	if err != nil {
		c.logger.Warn("session restore failed, treating client as signed out", "error", err)
		return
	}

	if sess == nil {
		return
	}

	gen, ok := c.store.setSessionIf(rev, sess)
	if !ok {
		c.logger.Info("session restore superseded", "user_id", sess.UserID)
		return
	}
	c.resolve(ctx, sess, gen)
}

func (c *Controller) stopInitTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

// OnAuthStateChange applies a provider auth event. The session is stored
// before returning, the profile is resolved in the background. Replaying an
// event leaves the state unchanged.
func (c *Controller) OnAuthStateChange(_ context.Context, event AuthEvent, session *Session) {
	if session == nil || event == AuthEventSignedOut {
		c.logger.Debug("auth state change, signed out", "event", event)
		c.store.clear()
		return
	}

	cur := c.store.Snapshot()
	gen := c.store.setSession(session)

	if cur.Profile != nil && cur.Profile.ID == session.UserID && event != AuthEventUserUpdated {
		return
	}

	c.logger.Debug("auth state change", "event", event, "user_id", session.UserID)

	go c.resolve(c.bg, session, gen)
}

func (c *Controller) resolve(ctx context.Context, sess *Session, gen uint64) Resolution {
	res := c.resolver.Resolve(ctx, sess.UserID, sess.Email)
	if !c.store.commitProfile(sess.UserID, gen, res.Profile) {
		c.logger.Debug("profile result superseded", "user_id", sess.UserID, "kind", res.Kind)
	}
	return res
}

// SignIn checks the credentials with the provider and resolves the profile
// before returning.
func (c *Controller) SignIn(ctx context.Context, email, password string) (*Session, error) {
	sess, err := c.provider.SignInWithPassword(ctx, email, password)
	if err == nil && sess == nil {
		err = wrapError(ErrSessionRequired, nil, nil)
	}

	if err != nil {
		c.record(ctx, ActivityEventSignInFailure, "", map[string]any{"email": email})
		return nil, wrapError(ErrAuth, err, map[string]any{"email": email})
	}

	gen := c.store.setSession(sess)
	res := c.resolve(ctx, sess, gen)

	c.record(ctx, ActivityEventSignInSuccess, sess.UserID, map[string]any{
		"profile": string(res.Kind),
	})

	return sess.clone(), nil
}

// SignUp registers a new account and resolves its profile before returning.
// A promo code marks the matching invitation as used, failures there are
// logged and never fail the sign up. A nil session with no error means the
// provider requires the address to be confirmed first.
func (c *Controller) SignUp(ctx context.Context, email, password, promoCode string) (*Session, error) {
	sess, err := c.provider.SignUp(ctx, email, password)
	if err != nil {
		c.record(ctx, ActivityEventSignUpFailure, "", map[string]any{"email": email})
		return nil, wrapError(ErrAuth, err, map[string]any{"email": email})
	}

	if sess == nil {
		c.logger.Info("sign up pending confirmation", "email", email)
		return nil, nil
	}

	gen := c.store.setSession(sess)
	res := c.resolve(ctx, sess, gen)

	if code := NormalizePromoCode(promoCode); code != "" {
		if err := markInvitationUsed(ctx, c.records, code, sess.UserID, c.now()); err != nil {
			c.logger.Warn("could not redeem promo code on sign up", "code", code, "error", err)
		}
	}

	c.record(ctx, ActivityEventSignUpSuccess, sess.UserID, map[string]any{
		"profile": string(res.Kind),
	})

	return sess.clone(), nil
}

// SignInWithMagicLink asks the provider to email a sign in link
func (c *Controller) SignInWithMagicLink(ctx context.Context, email, promoCode string) error {
	opts := MagicLinkOptions{RedirectTo: c.magicRedirect}
	if code := NormalizePromoCode(promoCode); code != "" {
		opts.Data = map[string]any{"promo_code": code}
	}

	if err := c.provider.SignInWithMagicLink(ctx, email, opts); err != nil {
		return wrapError(ErrAuth, err, map[string]any{"email": email})
	}

	c.record(ctx, ActivityEventMagicLinkSent, "", map[string]any{"email": email})
	return nil
}

// VerifyMagicLink exchanges a magic link token for a session when the
// provider supports it. The profile is resolved before returning and a promo
// code carried by the link is redeemed.
func (c *Controller) VerifyMagicLink(ctx context.Context, token string) (*Session, error) {
	verifier, ok := c.provider.(MagicLinkVerifier)
	if !ok {
		return nil, wrapError(ErrAuth, nil, map[string]any{"reason": "magic links not supported"})
	}

	sess, data, err := verifier.VerifyMagicLink(ctx, token)
	if err == nil && sess == nil {
		err = wrapError(ErrSessionRequired, nil, nil)
	}
	if err != nil {
		c.record(ctx, ActivityEventSignInFailure, "", map[string]any{"method": "magic_link"})
		return nil, wrapError(ErrAuth, err, nil)
	}

	gen := c.store.setSession(sess)
	res := c.resolve(ctx, sess, gen)

	if code, _ := data["promo_code"].(string); code != "" {
		if err := markInvitationUsed(ctx, c.records, NormalizePromoCode(code), sess.UserID, c.now()); err != nil {
			c.logger.Warn("could not redeem promo code from magic link", "code", code, "error", err)
		}
	}

	c.record(ctx, ActivityEventSignInSuccess, sess.UserID, map[string]any{
		"method":  "magic_link",
		"profile": string(res.Kind),
	})

	return sess.clone(), nil
}

// SignOut clears the local state right away, then tells the provider
// without waiting for it and navigates to the login page.
func (c *Controller) SignOut(ctx context.Context) {
	cur := c.store.Snapshot()
	c.store.clear()

	owner := ""
	if cur.Session != nil {
		owner = cur.Session.UserID
	}

	if err := c.drafts.Clear(ctx, owner); err != nil {
		c.logger.Warn("could not clear onboarding drafts", "error", err)
	}

	go func() {
		if err := c.provider.SignOut(c.bg); err != nil {
			c.logger.Warn("provider sign out failed", "error", err)
		}
	}()

	c.record(ctx, ActivityEventSignOut, owner, nil)
	c.navigator.Navigate(RouteLogin)
}

// RefreshProfile re-reads the profile of the current user
func (c *Controller) RefreshProfile(ctx context.Context) (Resolution, error) {
	sess, gen := c.store.target()
	if sess == nil {
		return Resolution{}, wrapError(ErrSessionRequired, nil, nil)
	}
	return c.resolve(ctx, sess, gen), nil
}

// Ready is closed once loading has been cleared
func (c *Controller) Ready() <-chan struct{} {
	return c.store.Ready()
}

// Settle waits until loading is cleared and, for a signed in client, until a
// profile is present.
func (c *Controller) Settle(ctx context.Context) error {
	for {
		changed := c.store.Changed()
		s := c.store.Snapshot()
		if !s.Loading && (s.Session == nil || s.Profile != nil) {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// State returns the current snapshot
func (c *Controller) State() State {
	return c.store.Snapshot()
}

// Evaluate runs the gate against the current snapshot
func (c *Controller) Evaluate() Evaluation {
	return Evaluate(c.store.Snapshot())
}

// Guard runs the route guard against the current snapshot
func (c *Controller) Guard(req Requirements) GuardOutcome {
	return Guard(c.store.Snapshot(), req)
}

// Drafts returns the draft cache used for onboarding answers
func (c *Controller) Drafts() DraftCache {
	return c.drafts
}

// Close stops the init timer, releases the auth subscription and cancels
// background work. It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.timer != nil {
			c.timer.Stop()
		}
		sub := c.sub
		c.sub = nil
		c.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		c.cancel()
	})
}

// pause waits the settle delay so reads issued right after a write observe it
func (c *Controller) pause(ctx context.Context) error {
	if c.settleDelay <= 0 {
		return nil
	}

	t := time.NewTimer(c.settleDelay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) record(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	recordActivity(ctx, c.activity, c.logger, c.now, eventType, userID, metadata)
}
