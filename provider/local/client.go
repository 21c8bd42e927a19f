package local

import (
	"context"
	"database/sql"

	"github.com/goliatone/go-errors"
	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
				WithTextCode("INVALID_CREDENTIALS").
				WithCode(errors.CodeUnauthorized)

	ErrAccountExists = errors.New("an account with this email already exists", errors.CategoryConflict).
				WithTextCode("ACCOUNT_EXISTS").
				WithCode(errors.CodeConflict)

	ErrMagicLinkInvalid = errors.New("magic link is invalid or expired", errors.CategoryAuth).
				WithTextCode("MAGIC_LINK_INVALID").
				WithCode(errors.CodeUnauthorized)
)

// Client is the auth provider of a single browser client. Its session is
// persisted so a new Client for the same id restores it.
type Client struct {
	backend  *Backend
	clientID string
}

var (
	_ gatekeeper.AuthProvider      = (*Client)(nil)
	_ gatekeeper.MagicLinkVerifier = (*Client)(nil)
)

// ID returns the client id
func (c *Client) ID() string {
	return c.clientID
}

// GetSession returns the persisted session or nil. Expired or tampered
// sessions are dropped.
func (c *Client) GetSession(ctx context.Context) (*gatekeeper.Session, error) {
	row := &ClientSessionModel{}
	err := c.backend.db.NewSelect().
		Model(row).
		Where("client_id = ?", c.clientID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := c.backend.tokens.Validate(row.AccessToken); err != nil {
		c.backend.logger.Info("dropping stored session", "client_id", c.clientID, "error", err)
		if derr := c.deleteSession(ctx); derr != nil {
			return nil, derr
		}
		return nil, nil
	}

	return gatekeeper.NewSession(row.UserID, row.Email, row.AccessToken, row.ExpiresAt)
}

func (c *Client) OnAuthStateChange(listener gatekeeper.AuthStateListener) gatekeeper.Subscription {
	return c.backend.hub.subscribe(c.clientID, listener)
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*gatekeeper.Session, error) {
	account, err := c.backend.accounts.GetByIdentifier(ctx, normalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidCredentials.Clone()
		}
		return nil, err
	}

	if err := ComparePassword(password, account.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials.Clone()
	}

	return c.startSession(ctx, account, gatekeeper.AuthEventSignedIn)
}

// SignUp creates an account and signs the client in
func (c *Client) SignUp(ctx context.Context, email, password string) (*gatekeeper.Session, error) {
	email = normalizeEmail(email)

	if _, err := c.backend.accounts.GetByIdentifier(ctx, email); err == nil {
		return nil, ErrAccountExists.Clone().WithMetadata(map[string]any{"email": email})
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	hash, err := HashPassword(password, c.backend.passwordCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}

	account, err := c.backend.createAccount(ctx, email, hash)
	if err != nil {
		return nil, err
	}

	return c.startSession(ctx, account, gatekeeper.AuthEventSignedIn)
}

// SignInWithMagicLink stores a one time token and sends the link. Data is
// handed back on verification.
func (c *Client) SignInWithMagicLink(ctx context.Context, email string, opts gatekeeper.MagicLinkOptions) error {
	email = normalizeEmail(email)
	token := uuid.NewString()

	data := map[string]any{}
	for k, v := range opts.Data {
		data[k] = v
	}
	if opts.RedirectTo != "" {
		data["redirect_to"] = opts.RedirectTo
	}

	link := &MagicLinkModel{
		Token:     token,
		Email:     email,
		ClientID:  c.clientID,
		Data:      data,
		ExpiresAt: c.backend.now().Add(c.backend.magicLinkTTL),
	}

	if _, err := c.backend.db.NewInsert().Model(link).Exec(ctx); err != nil {
		return err
	}

	return c.backend.sender.SendMagicLink(ctx, email, c.backend.magicLink(token))
}

// VerifyMagicLink consumes token and signs the client in, creating the
// account on first use.
func (c *Client) VerifyMagicLink(ctx context.Context, token string) (*gatekeeper.Session, map[string]any, error) {
	link := &MagicLinkModel{}
	err := c.backend.db.NewSelect().
		Model(link).
		Where("token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrMagicLinkInvalid.Clone()
		}
		return nil, nil, err
	}

	now := c.backend.now()
	if link.UsedAt != nil || !now.Before(link.ExpiresAt) {
		return nil, nil, ErrMagicLinkInvalid.Clone()
	}

	res, err := c.backend.db.NewUpdate().
		Model((*MagicLinkModel)(nil)).
		Set("used_at = ?", now).
		Where("token = ?", token).
		Where("used_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, ErrMagicLinkInvalid.Clone()
	}

	account, err := c.backend.accounts.GetByIdentifier(ctx, link.Email)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			return nil, nil, err
		}

		hash, herr := HashPassword(uuid.NewString(), c.backend.passwordCost)
		if herr != nil {
			return nil, nil, herr
		}
		if account, err = c.backend.createAccount(ctx, link.Email, hash); err != nil {
			return nil, nil, err
		}
	}

	sess, err := c.startSession(ctx, account, gatekeeper.AuthEventSignedIn)
	if err != nil {
		return nil, nil, err
	}

	return sess, link.Data, nil
}

// RefreshSession issues a new access token for the signed in user
func (c *Client) RefreshSession(ctx context.Context) (*gatekeeper.Session, error) {
	current, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	account := &Account{Email: current.Email}
	account.ID, err = uuid.Parse(current.UserID)
	if err != nil {
		return nil, err
	}

	return c.startSession(ctx, account, gatekeeper.AuthEventTokenRefreshed)
}

func (c *Client) SignOut(ctx context.Context) error {
	if err := c.deleteSession(ctx); err != nil {
		return err
	}
	c.backend.hub.publish(c.clientID, gatekeeper.AuthEventSignedOut, nil)
	return nil
}

func (c *Client) startSession(ctx context.Context, account *Account, event gatekeeper.AuthEvent) (*gatekeeper.Session, error) {
	userID := account.ID.String()

	token, expiresAt, err := c.backend.tokens.Issue(userID, account.Email)
	if err != nil {
		return nil, err
	}

	row := &ClientSessionModel{
		ClientID:    c.clientID,
		UserID:      userID,
		Email:       account.Email,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}

	_, err = c.backend.db.NewInsert().
		Model(row).
		On("CONFLICT (client_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("email = EXCLUDED.email").
		Set("access_token = EXCLUDED.access_token").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if event == gatekeeper.AuthEventSignedIn {
		c.backend.touchLogin(ctx, account.ID)
	}

	sess, err := gatekeeper.NewSession(userID, account.Email, token, expiresAt)
	if err != nil {
		return nil, err
	}

	c.backend.hub.publish(c.clientID, event, sess)
	return sess, nil
}

func (c *Client) deleteSession(ctx context.Context) error {
	_, err := c.backend.db.NewDelete().
		Model((*ClientSessionModel)(nil)).
		Where("client_id = ?", c.clientID).
		Exec(ctx)
	return err
}

func (b *Backend) createAccount(ctx context.Context, email, hash string) (*Account, error) {
	account := &Account{
		Email:        email,
		PasswordHash: hash,
	}

	if b.useHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			account.ID = id
		}
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	created, err := b.accounts.Create(ctx, account)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConflict, "could not create account")
	}
	return created, nil
}

func (b *Backend) touchLogin(ctx context.Context, id uuid.UUID) {
	now := b.now()
	_, err := b.db.NewUpdate().
		Model((*Account)(nil)).
		Set("loggedin_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		b.logger.Warn("could not track login", "account_id", id.String(), "error", err)
	}
}
