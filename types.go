package gatekeeper

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AuthEvent names a change notification emitted by the auth provider
type AuthEvent string

const (
	AuthEventInitialSession AuthEvent = "INITIAL_SESSION"
	AuthEventSignedIn       AuthEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthStateListener is invoked by the provider on every auth state change.
// A nil session means the user is signed out.
type AuthStateListener func(ctx context.Context, event AuthEvent, session *Session)

// Subscription is returned by AuthProvider.OnAuthStateChange
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// MagicLinkOptions are forwarded to the provider when requesting a
// passwordless sign in link.
type MagicLinkOptions struct {
	RedirectTo string
	Data       map[string]any
}

// AuthProvider is the hosted auth collaborator. Implementations own the
// persisted auth state of a single client.
type AuthProvider interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(listener AuthStateListener) Subscription
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignInWithMagicLink(ctx context.Context, email string, opts MagicLinkOptions) error
	SignOut(ctx context.Context) error
}

// MagicLinkVerifier is implemented by providers that verify their own sign
// in links. The returned data is what was attached when the link was sent.
type MagicLinkVerifier interface {
	VerifyMagicLink(ctx context.Context, token string) (*Session, map[string]any, error)
}

// Filter selects records by column equality
type Filter map[string]any

// Record is a row returned by or sent to the RecordStore
type Record map[string]any

// RecordStore is the data access side of the hosted backend.
type RecordStore interface {
	// QueryRecord returns nil, nil when no record matches.
	QueryRecord(ctx context.Context, table string, filter Filter) (Record, error)
	InsertRecord(ctx context.Context, table string, fields Record) (Record, error)
	// UpdateRecord returns a go-errors not found error when no record matches.
	UpdateRecord(ctx context.Context, table string, filter Filter, fields Record) error
	UpsertRecord(ctx context.Context, table string, fields Record, conflict ...string) (Record, error)
}

// Navigator moves the client to a route, e.g. after sign out
type Navigator interface {
	Navigate(route Route)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(route Route)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(route Route) {
	if f != nil {
		f(route)
	}
}

type noopNavigator struct{}

func (noopNavigator) Navigate(Route) {}

// Clock returns the current time, tests replace it.
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] GATE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] GATE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] GATE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] GATE "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything, handy in tests
func NopLogger() Logger {
	return nopLogger{}
}
