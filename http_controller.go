package gatekeeper

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// GateControllerRoutes are the paths served by the GateController
type GateControllerRoutes struct {
	Login           string
	Logout          string
	Register        string
	MagicLink       string
	MagicLinkVerify string
	Session         string
	Payment         string
	PaymentPromo    string
	Onboarding      string
	OnboardingDraft string
}

// ProtectedPage is a client route guarded by Requirements
type ProtectedPage struct {
	Path         string
	Name         string
	Requirements Requirements
}

// DefaultProtectedPages is the route table of the platform
var DefaultProtectedPages = []ProtectedPage{
	{Path: string(RoutePayment), Name: "payment"},
	{Path: string(RouteOnboarding), Name: "onboarding", Requirements: PaidOnly},
	{Path: string(RouteDashboard), Name: "dashboard", Requirements: FullyOnboarded},
	{Path: "/questions", Name: "questions", Requirements: FullyOnboarded},
	{Path: "/trust-team", Name: "trust-team", Requirements: FullyOnboarded},
	{Path: "/receive", Name: "receive", Requirements: FullyOnboarded},
	{Path: "/give", Name: "give", Requirements: FullyOnboarded},
	{Path: "/circles", Name: "circles", Requirements: FullyOnboarded},
	{Path: "/teams", Name: "teams", Requirements: FullyOnboarded},
	{Path: "/gift/:id", Name: "gift", Requirements: FullyOnboarded},
	{Path: "/gift/:giftId/chat/:requestId", Name: "gift-chat", Requirements: FullyOnboarded},
	{Path: "/profile", Name: "profile", Requirements: FullyOnboarded},
}

// GateController serves the auth, payment and onboarding endpoints. It
// answers with JSON, pages are rendered by the client.
type GateController struct {
	Debug        bool
	Logger       Logger
	Gate         *HTTPGate
	Routes       *GateControllerRoutes
	Pages        []ProtectedPage
	Limiter      *RateLimiter
	ErrorHandler func(c router.Context, err error) error
}

type GateControllerOption func(*GateController) *GateController

func WithGateControllerLogger(logger Logger) GateControllerOption {
	return func(c *GateController) *GateController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithGateControllerPages(pages []ProtectedPage) GateControllerOption {
	return func(c *GateController) *GateController {
		c.Pages = pages
		return c
	}
}

func WithGateControllerLimiter(l *RateLimiter) GateControllerOption {
	return func(c *GateController) *GateController {
		c.Limiter = l
		return c
	}
}

func WithGateControllerDebug(debug bool) GateControllerOption {
	return func(c *GateController) *GateController {
		c.Debug = debug
		return c
	}
}

func NewGateController(gate *HTTPGate, opts ...GateControllerOption) *GateController {
	if gate == nil {
		panic("Missing HTTPGate in gate controller...")
	}

	c := &GateController{
		Logger: defLogger{},
		Gate:   gate,
		Routes: &GateControllerRoutes{
			Login:           "/api/auth/login",
			Logout:          "/api/auth/logout",
			Register:        "/api/auth/register",
			MagicLink:       "/api/auth/magic-link",
			MagicLinkVerify: "/auth/magic-link/:token",
			Session:         "/api/session",
			Payment:         "/api/payment",
			PaymentPromo:    "/api/payment/promo",
			Onboarding:      "/api/onboarding",
			OnboardingDraft: "/api/onboarding/draft",
		},
		Pages:        DefaultProtectedPages,
		Limiter:      NewRateLimiter(rate.Every(2*time.Second), 5),
		ErrorHandler: gate.ErrorHandler,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// RegisterGateRoutes wires the client binder, the gatekeeper, the guarded
// pages and the flow endpoints.
func RegisterGateRoutes[T any](app router.Router[T], gate *HTTPGate, opts ...GateControllerOption) *GateController {
	controller := NewGateController(gate, opts...)

	app.Use(gate.ClientBinder())

	app.Get(string(RouteHome), gate.GateKeeper).SetName("gatekeeper.get")
	app.Get(string(RouteLogin), controller.LoginShow, gate.LoginGate()).SetName("login.get")

	for _, page := range controller.Pages {
		app.Get(page.Path, controller.PageShow(page), gate.RouteGuard(page.Requirements)).
			SetName(page.Name + ".get")
	}

	app.Get(controller.Routes.Session, controller.SessionShow).SetName("session.get")

	app.Post(controller.Routes.Login, controller.LoginPost, controller.Limiter.Middleware()).
		SetName("sign-in.post")
	app.Post(controller.Routes.Register, controller.RegisterPost, controller.Limiter.Middleware()).
		SetName("register.post")
	app.Post(controller.Routes.MagicLink, controller.MagicLinkPost, controller.Limiter.Middleware()).
		SetName("magic-link.post")
	app.Get(controller.Routes.MagicLinkVerify, controller.MagicLinkVerify).
		SetName("magic-link-verify.get")
	app.Post(controller.Routes.Logout, controller.LogOut).SetName("sign-out.post")

	requireSession := gate.RouteGuard(Requirements{})
	requirePayment := gate.RouteGuard(PaidOnly)

	app.Get(controller.Routes.Payment, controller.PaymentShow, requireSession).SetName("payment-api.get")
	app.Post(controller.Routes.PaymentPromo, controller.PromoPost, requireSession).SetName("payment-promo.post")
	app.Post(controller.Routes.Payment, controller.PaymentPost, requireSession).SetName("payment-api.post")

	app.Get(controller.Routes.Onboarding, controller.OnboardingShow, requirePayment).SetName("onboarding-api.get")
	app.Post(controller.Routes.OnboardingDraft, controller.DraftPost, requirePayment).SetName("onboarding-draft.post")
	app.Post(controller.Routes.Onboarding, controller.AnswerPost, requirePayment).SetName("onboarding-api.post")

	return controller
}

func (g *GateController) controller(ctx router.Context) (*Controller, error) {
	c, ok := GetRouterController(ctx)
	if !ok {
		return nil, wrapError(ErrSessionRequired, nil, map[string]any{"path": ctx.OriginalURL()})
	}
	return c, nil
}

// LoginShow answers for signed out clients, signed in ones are redirected by
// the login gate before reaching it.
func (g *GateController) LoginShow(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"page": "login",
	})
}

// PageShow describes a guarded page and the profile it renders for
func (g *GateController) PageShow(page ProtectedPage) router.HandlerFunc {
	return func(ctx router.Context) error {
		c, err := g.controller(ctx)
		if err != nil {
			return g.ErrorHandler(ctx, err)
		}

		state := c.State()
		return ctx.JSON(http.StatusOK, map[string]any{
			"page":    page.Name,
			"profile": state.Profile,
		})
	}
}

// SessionShow returns the snapshot and what the gate makes of it
func (g *GateController) SessionShow(ctx router.Context) error {
	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	state := c.State()
	ev := Evaluate(state)

	ctx.SetHeader("Cache-Control", "no-store")
	return ctx.JSON(http.StatusOK, map[string]any{
		"loading":  state.Loading,
		"session":  state.Session,
		"profile":  state.Profile,
		"stage":    ev.Stage,
		"decision": ev.Decision,
		"route":    ev.Route,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (g *GateController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return g.badRequest(ctx, "Failed to parse body", err)
	}

	if err := payload.Validate(); err != nil {
		return g.invalid(ctx, err)
	}

	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	if _, err := c.SignIn(ctx.Context(), payload.Email, payload.Password); err != nil {
		g.Logger.Error("sign in error", "error", err)
		return g.ErrorHandler(ctx, err)
	}

	return g.routeResponse(ctx, c.Evaluate().Route)
}

// RegisterRequest is the sign up payload
type RegisterRequest struct {
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
	PromoCode       string `form:"promo_code" json:"promo_code"`
}

// Validate will validate the payload
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(&r.PromoCode, validation.Length(0, 64), is.Alphanumeric),
	)
}

func (g *GateController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return g.badRequest(ctx, "Failed to parse body", err)
	}

	if err := payload.Validate(); err != nil {
		return g.invalid(ctx, err)
	}

	if g.Debug {
		fmt.Println("======= SIGN UP ======")
		fmt.Println(print.MaybePrettyJSON(map[string]string{
			"email":      payload.Email,
			"promo_code": payload.PromoCode,
		}))
		fmt.Println("======================")
	}

	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	sess, err := c.SignUp(ctx.Context(), payload.Email, payload.Password, payload.PromoCode)
	if err != nil {
		g.Logger.Error("sign up error", "error", err)
		return g.ErrorHandler(ctx, err)
	}

	if sess == nil {
		return ctx.JSON(http.StatusAccepted, map[string]any{
			"confirmation_required": true,
		})
	}

	return g.routeResponse(ctx, c.Evaluate().Route)
}

// MagicLinkRequest asks for a passwordless sign in link
type MagicLinkRequest struct {
	Email     string `form:"email" json:"email"`
	PromoCode string `form:"promo_code" json:"promo_code"`
}

func (r MagicLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.PromoCode, validation.Length(0, 64), is.Alphanumeric),
	)
}

func (g *GateController) MagicLinkPost(ctx router.Context) error {
	payload := new(MagicLinkRequest)
	if err := ctx.Bind(payload); err != nil {
		return g.badRequest(ctx, "Failed to parse body", err)
	}

	if err := payload.Validate(); err != nil {
		return g.invalid(ctx, err)
	}

	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	if err := c.SignInWithMagicLink(ctx.Context(), payload.Email, payload.PromoCode); err != nil {
		g.Logger.Error("magic link error", "error", err)
		return g.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"sent": true,
	})
}

func (g *GateController) MagicLinkVerify(ctx router.Context) error {
	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	if _, err := c.VerifyMagicLink(ctx.Context(), ctx.Param("token")); err != nil {
		g.Logger.Warn("magic link verification failed", "error", err)
		return g.Gate.redirect(ctx, RouteLogin)
	}

	return g.Gate.GateKeeper(ctx)
}

func (g *GateController) LogOut(ctx router.Context) error {
	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	c.SignOut(ctx.Context())

	return g.routeResponse(ctx, RouteLogin)
}

func (g *GateController) PaymentShow(ctx router.Context) error {
	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"base_price": BasePrice,
		"quote":      c.Quote(),
	})
}

// PromoRequest carries a promo code typed on the payment page
type PromoRequest struct {
	Code string `form:"code" json:"code"`
}

func (r PromoRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required, validation.Length(1, 64)),
	)
}

func (g *GateController) PromoPost(ctx router.Context) error {
	payload := new(PromoRequest)
	if err := ctx.Bind(payload); err != nil {
		return g.badRequest(ctx, "Failed to parse body", err)
	}

	if err := payload.Validate(); err != nil {
		return g.invalid(ctx, err)
	}

	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	quote, err := c.ApplyPromo(ctx.Context(), payload.Code)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"quote": quote,
	})
}

func (g *GateController) PaymentPost(ctx router.Context) error {
	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	route, err := c.CompletePayment(ctx.Context())
	if err != nil {
		g.Logger.Error("payment error", "error", err)
		return g.ErrorHandler(ctx, err)
	}

	return g.routeResponse(ctx, route)
}

func (g *GateController) OnboardingShow(ctx router.Context) error {
	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	drafts, err := c.LoadDrafts(ctx.Context())
	if err != nil {
		g.Logger.Warn("could not load onboarding drafts", "error", err)
		drafts = Drafts{}
	}

	answers := make(map[string]string, len(drafts))
	for step, text := range drafts {
		answers[strconv.Itoa(step)] = text
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"questions": OnboardingQuestions,
		"drafts":    answers,
	})
}

// AnswerRequest submits or autosaves one onboarding answer
type AnswerRequest struct {
	Step           int    `form:"step" json:"step"`
	Answer         string `form:"answer" json:"answer"`
	CreateGiftCard bool   `form:"create_gift_card" json:"create_gift_card"`
}

func (r AnswerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Step, validation.Required, validation.Min(1), validation.Max(QuestionCount())),
	)
}

func (g *GateController) DraftPost(ctx router.Context) error {
	payload := new(AnswerRequest)
	if err := ctx.Bind(payload); err != nil {
		return g.badRequest(ctx, "Failed to parse body", err)
	}

	if err := payload.Validate(); err != nil {
		return g.invalid(ctx, err)
	}

	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	if err := c.SaveDraft(ctx.Context(), payload.Step, payload.Answer); err != nil {
		return g.ErrorHandler(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (g *GateController) AnswerPost(ctx router.Context) error {
	payload := new(AnswerRequest)
	if err := ctx.Bind(payload); err != nil {
		return g.badRequest(ctx, "Failed to parse body", err)
	}

	if err := payload.Validate(); err != nil {
		return g.invalid(ctx, err)
	}

	c, err := g.controller(ctx)
	if err != nil {
		return g.ErrorHandler(ctx, err)
	}

	result, err := c.SubmitAnswer(ctx.Context(), payload.Step, payload.Answer, payload.CreateGiftCard)
	if err != nil {
		g.Logger.Error("onboarding answer error", "error", err, "step", payload.Step)
		return g.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, result)
}

func (g *GateController) routeResponse(ctx router.Context, route Route) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"route": route,
	})
}

func (g *GateController) badRequest(ctx router.Context, msg string, err error) error {
	g.Logger.Error(msg, "error", err)
	return ctx.JSON(http.StatusBadRequest, map[string]any{
		"error": msg,
	})
}

func (g *GateController) invalid(ctx router.Context, err error) error {
	return ctx.JSON(http.StatusBadRequest, map[string]any{
		"error":      "Validation failed",
		"validation": FormatValidationErrorToMap(err),
	})
}

// FormatValidationErrorToMap flattens ozzo validation errors by field
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

// ValidateStringEquals checks the value equals str
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return fmt.Errorf("values must match")
		}
		return nil
	}
}

// RateLimiter throttles credential endpoints per client IP
type RateLimiter struct {
	rate     rate.Limit
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter returns a limiter allowing r requests per second with the
// given burst for every IP
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		rate:     r,
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](4096, nil, 10*time.Minute),
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	if l, ok := rl.limiters.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters.Add(ip, l)
	return l
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if rl == nil {
				return next(ctx)
			}

			if !rl.limiter(clientAddr(ctx)).Allow() {
				retryAfter := max(int(1.0/float64(rl.rate)), 1)
				ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))
				return ctx.JSON(http.StatusTooManyRequests, map[string]any{
					"error":     "rate limit exceeded",
					"text_code": "RATE_LIMITED",
				})
			}

			return next(ctx)
		}
	}
}

// clientAddr keys the limiter on the first forwarded hop. Requests without
// proxy headers share one bucket.
func clientAddr(ctx router.Context) string {
	if fwd := ctx.Header("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(ctx.Header("X-Real-Ip"))
}
