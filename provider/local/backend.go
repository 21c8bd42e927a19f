package local

import (
	"context"
	"net/url"
	"strings"
	"time"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenTTL     = 24 * time.Hour
	DefaultMagicLinkTTL = 15 * time.Minute
	DefaultIssuer       = "gatekeeper"
)

// MagicLinkSender delivers sign in links
type MagicLinkSender interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// MagicLinkSenderFunc adapts a function to MagicLinkSender
type MagicLinkSenderFunc func(ctx context.Context, email, link string) error

func (f MagicLinkSenderFunc) SendMagicLink(ctx context.Context, email, link string) error {
	return f(ctx, email, link)
}

// LogSender writes links to the logger, for development
type LogSender struct {
	Logger gatekeeper.Logger
}

func (s LogSender) SendMagicLink(_ context.Context, email, link string) error {
	s.Logger.Info("magic link", "email", email, "link", link)
	return nil
}

// Option configures a Backend
type Option func(*Backend)

// WithSigningKey sets the HS256 key of access tokens
func WithSigningKey(key []byte) Option {
	return func(b *Backend) {
		if len(key) > 0 {
			b.signingKey = key
		}
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.tokenTTL = ttl
		}
	}
}

func WithIssuer(issuer string) Option {
	return func(b *Backend) {
		if issuer != "" {
			b.issuer = issuer
		}
	}
}

// WithPasswordCost sets the bcrypt cost
func WithPasswordCost(cost int) Option {
	return func(b *Backend) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			b.passwordCost = cost
		}
	}
}

// WithHashid derives account ids from the email instead of random uuids
func WithHashid(enabled bool) Option {
	return func(b *Backend) {
		b.useHashid = enabled
	}
}

func WithMagicLinkSender(sender MagicLinkSender) Option {
	return func(b *Backend) {
		if sender != nil {
			b.sender = sender
		}
	}
}

// WithMagicLinkURL sets the base url links point at, the token is appended
// as the last path segment
func WithMagicLinkURL(base string) Option {
	return func(b *Backend) {
		b.magicLinkURL = strings.TrimRight(base, "/")
	}
}

func WithMagicLinkTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.magicLinkTTL = ttl
		}
	}
}

func WithLogger(logger gatekeeper.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// Backend is an embedded stand-in for a hosted auth and data service. It
// owns the accounts, the data tables and the per client auth state.
type Backend struct {
	db       *bun.DB
	accounts *Accounts
	records  *Records
	tokens   *TokenService
	hub      *hub

	signingKey   []byte
	tokenTTL     time.Duration
	issuer       string
	passwordCost int
	useHashid    bool
	sender       MagicLinkSender
	magicLinkURL string
	magicLinkTTL time.Duration
	logger       gatekeeper.Logger
	now          func() time.Time
}

// New returns a backend over db. CreateSchema must have run.
func New(db *bun.DB, opts ...Option) *Backend {
	b := &Backend{
		db:           db,
		tokenTTL:     DefaultTokenTTL,
		issuer:       DefaultIssuer,
		passwordCost: bcrypt.DefaultCost,
		magicLinkURL: "/auth/magic-link",
		magicLinkTTL: DefaultMagicLinkTTL,
		logger:       gatekeeper.NopLogger(),
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if len(b.signingKey) == 0 {
		panic("local backend requires a signing key")
	}

	if b.sender == nil {
		b.sender = LogSender{Logger: b.logger}
	}

	b.accounts = NewAccountsRepository(db)
	b.records = NewRecords(db)
	b.tokens = NewTokenService(b.signingKey, b.tokenTTL, b.issuer)
	b.tokens.now = b.now
	b.hub = newHub()

	return b
}

// Records is the data side of the backend
func (b *Backend) Records() *Records {
	return b.records
}

// Tokens exposes the access token service
func (b *Backend) Tokens() *TokenService {
	return b.tokens
}

// Client returns the auth provider of one browser client
func (b *Backend) Client(clientID string) *Client {
	return &Client{backend: b, clientID: clientID}
}

// Close releases every auth subscription
func (b *Backend) Close() {
	b.hub.close()
}

func (b *Backend) magicLink(token string) string {
	return b.magicLinkURL + "/" + url.PathEscape(token)
}
