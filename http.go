package gatekeeper

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const (
	DefaultClientCookie    = "gk_client"
	DefaultClientCookieTTL = 30 * 24 * time.Hour
	DefaultWaitBudget      = 1500 * time.Millisecond
	DefaultRetryAfter      = time.Second
)

// HTTPGate applies the gate and the route guard to HTTP requests. Every
// browser is identified by a client cookie and served by its own pooled
// controller.
type HTTPGate struct {
	pool            *Pool
	clientCookie    string
	clientCookieTTL time.Duration
	waitBudget      time.Duration
	retryAfter      time.Duration
	secureCookies   bool
	Logger          Logger
	ErrorHandler    func(c router.Context, err error) error
}

// HTTPGateOption configures an HTTPGate
type HTTPGateOption func(*HTTPGate)

// WithClientCookie sets the name and lifetime of the client cookie
func WithClientCookie(name string, ttl time.Duration) HTTPGateOption {
	return func(g *HTTPGate) {
		if name != "" {
			g.clientCookie = name
		}
		if ttl > 0 {
			g.clientCookieTTL = ttl
		}
	}
}

// WithWaitBudget sets how long a request waits for the state to settle
// before answering with a wait response. Zero answers right away.
func WithWaitBudget(d time.Duration) HTTPGateOption {
	return func(g *HTTPGate) {
		if d >= 0 {
			g.waitBudget = d
		}
	}
}

func WithRetryAfter(d time.Duration) HTTPGateOption {
	return func(g *HTTPGate) {
		if d > 0 {
			g.retryAfter = d
		}
	}
}

// WithSecureCookies marks the client cookie Secure
func WithSecureCookies(secure bool) HTTPGateOption {
	return func(g *HTTPGate) {
		g.secureCookies = secure
	}
}

func NewHTTPGate(pool *Pool, opts ...HTTPGateOption) *HTTPGate {
	g := &HTTPGate{
		pool:            pool,
		clientCookie:    DefaultClientCookie,
		clientCookieTTL: DefaultClientCookieTTL,
		waitBudget:      DefaultWaitBudget,
		retryAfter:      DefaultRetryAfter,
		secureCookies:   true,
		Logger:          defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	g.ErrorHandler = g.defaultErrHandler

	return g
}

func (g *HTTPGate) WithLogger(logger Logger) *HTTPGate {
	if logger != nil {
		g.Logger = logger
	}
	return g
}

// ClientBinder resolves the controller of the requesting browser and stores
// it in the router locals and the request context.
func (g *HTTPGate) ClientBinder() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			clientID := ctx.Cookies(g.clientCookie)
			if _, err := uuid.Parse(clientID); err != nil {
				clientID = uuid.NewString()
				g.Logger.Debug("new client", "client_id", clientID, "path", ctx.OriginalURL())
			}

			g.setClientCookie(ctx, clientID)

			c := g.pool.Get(ctx.Context(), clientID)
			ctx.Locals(LocalsControllerKey, c)
			ctx.SetContext(WithContext(ctx.Context(), c))

			return next(ctx)
		}
	}
}

// RouteGuard renders the route only when req holds for the client
func (g *HTTPGate) RouteGuard(req Requirements) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			c, ok := GetRouterController(ctx)
			if !ok {
				return g.redirect(ctx, RouteLogin)
			}

			out := Guard(c.State(), req)
			if out.Action == GuardWait {
				out = Guard(g.settle(ctx, c), req)
			}

			switch out.Action {
			case GuardWait:
				return g.wait(ctx, c.State())
			case GuardRedirect:
				return g.redirect(ctx, out.Redirect)
			default:
				return next(ctx)
			}
		}
	}
}

// GateKeeper sends the client to the route its progression requires
func (g *HTTPGate) GateKeeper(ctx router.Context) error {
	c, ok := GetRouterController(ctx)
	if !ok {
		return g.redirect(ctx, RouteLogin)
	}

	ev := Evaluate(c.State())
	if ev.Wait() {
		ev = Evaluate(g.settle(ctx, c))
	}

	if ev.Wait() {
		return g.wait(ctx, c.State())
	}

	return g.redirect(ctx, ev.Route)
}

// LoginGate lets signed out clients through and sends signed in clients
// wherever the gate requires.
func (g *HTTPGate) LoginGate() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			c, ok := GetRouterController(ctx)
			if !ok {
				return next(ctx)
			}

			state := c.State()
			if state.Loading {
				state = g.settle(ctx, c)
			}

			if state.Loading || !state.SignedIn() {
				return next(ctx)
			}

			return g.GateKeeper(ctx)
		}
	}
}

func (g *HTTPGate) settle(ctx router.Context, c *Controller) State {
	if g.waitBudget <= 0 {
		return c.State()
	}

	wctx, cancel := context.WithTimeout(ctx.Context(), g.waitBudget)
	defer cancel()

	if err := c.Settle(wctx); err != nil {
		g.Logger.Debug("state did not settle within budget", "path", ctx.OriginalURL(), "error", err)
	}

	return c.State()
}

func (g *HTTPGate) wait(ctx router.Context, state State) error {
	ev := Evaluate(state)
	ctx.SetHeader("Retry-After", strconv.Itoa(max(int(g.retryAfter/time.Second), 1)))
	ctx.SetHeader("Cache-Control", "no-store")
	return ctx.JSON(http.StatusServiceUnavailable, map[string]any{
		"stage":    ev.Stage,
		"decision": ev.Decision,
	})
}

func (g *HTTPGate) redirect(ctx router.Context, route Route) error {
	statusCode := http.StatusSeeOther
	if ctx.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return ctx.Redirect(string(route), statusCode)
}

func (g *HTTPGate) setClientCookie(ctx router.Context, clientID string) {
	ctx.Cookie(&router.Cookie{
		Name:     g.clientCookie,
		Value:    clientID,
		Expires:  time.Now().Add(g.clientCookieTTL),
		HTTPOnly: true,
		Secure:   g.secureCookies,
		SameSite: "Lax",
	})
}

func (g *HTTPGate) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	g.Logger.Info(
		"Gate error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	code := richErr.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}

	switch {
	case richErr.TextCode == TextCodeSessionRequired:
		return g.redirect(c, RouteLogin)
	case richErr.Category == errors.CategoryAuth:
		code = http.StatusUnauthorized
	case richErr.Category == errors.CategoryValidation, richErr.Category == errors.CategoryBadInput:
		code = http.StatusBadRequest
	}

	return c.JSON(code, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}
