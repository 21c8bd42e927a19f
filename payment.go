package gatekeeper

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// BasePrice is the subscription fee before promo codes
const BasePrice = 10.0

// UnknownInviterHexCode is shown when the inviter of a prepaid code cannot be read
const UnknownInviterHexCode = "#??????"

// PromoQuote is what a valid promo code does to the price
type PromoQuote struct {
	Code           string      `json:"code,omitempty"`
	Tier           PaymentTier `json:"tier"`
	Discount       int         `json:"discount"`
	Amount         float64     `json:"amount"`
	InviterHexCode string      `json:"inviter_hex_code,omitempty"`
}

// StandardQuote is the price without a promo code
func StandardQuote() PromoQuote {
	return PromoQuote{Tier: TierStandard, Amount: BasePrice}
}

func quoteFor(inv Invitation) (PromoQuote, bool) {
	switch inv.Type {
	case TierDiscount50:
		return PromoQuote{Code: inv.PromoCode, Tier: TierDiscount50, Discount: 50, Amount: BasePrice / 2}, true
	case TierPrepaid:
		return PromoQuote{Code: inv.PromoCode, Tier: TierPrepaid, Discount: 100, Amount: 0}, true
	default:
		return PromoQuote{}, false
	}
}

// Quote returns the price the current client would pay
func (c *Controller) Quote() PromoQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.promo != nil {
		return *c.promo
	}
	return StandardQuote()
}

// ApplyPromo validates a promo code against the pending invitations and
// marks the invitation used. The quote is kept for CompletePayment.
func (c *Controller) ApplyPromo(ctx context.Context, code string) (PromoQuote, error) {
	sess, _ := c.store.target()
	if sess == nil {
		return PromoQuote{}, wrapError(ErrSessionRequired, nil, nil)
	}

	code = NormalizePromoCode(code)
	if code == "" {
		return PromoQuote{}, wrapError(ErrInvalidPromoCode, nil, map[string]any{"reason": "empty"})
	}

	rec, err := c.records.QueryRecord(ctx, TableInvitations, Filter{
		"promo_code": code,
		"status":     InvitationPending,
	})
	if err != nil {
		return PromoQuote{}, wrapError(ErrPaymentFailed, err, map[string]any{"code": code})
	}
	if rec == nil {
		return PromoQuote{}, wrapError(ErrInvalidPromoCode, nil, map[string]any{"code": code, "reason": "not_found"})
	}

	inv := invitationFromRecord(rec)
	if inv.Type == "" {
		return PromoQuote{}, wrapError(ErrInvalidPromoCode, nil, map[string]any{"code": code, "reason": "missing_type"})
	}

	quote, ok := quoteFor(inv)
	if !ok {
		return PromoQuote{}, wrapError(ErrInvalidPromoCode, nil, map[string]any{"code": code, "reason": "unknown_type", "type": inv.Type})
	}
	quote.Code = code

	if quote.Tier == TierPrepaid {
		quote.InviterHexCode = c.inviterHexCode(ctx, inv.InviterID)
	}

	if err := markInvitationUsed(ctx, c.records, code, sess.UserID, c.now()); err != nil {
		if goerrors.IsNotFound(err) {
			return PromoQuote{}, wrapError(ErrInvalidPromoCode, nil, map[string]any{"code": code, "reason": "already_used"})
		}
		// the quote stands even if the invitation could not be closed
		c.logger.Warn("could not mark invitation as used", "code", code, "error", err)
	}

	c.mu.Lock()
	c.promo = &quote
	c.mu.Unlock()

	c.record(ctx, ActivityEventPromoApplied, sess.UserID, map[string]any{
		"code": code,
		"tier": quote.Tier,
	})

	return quote, nil
}

func (c *Controller) inviterHexCode(ctx context.Context, inviterID string) string {
	if inviterID == "" {
		return UnknownInviterHexCode
	}

	rec, err := c.records.QueryRecord(ctx, TableProfiles, Filter{"id": inviterID})
	if err != nil || rec == nil {
		return UnknownInviterHexCode
	}

	if hex := recordString(rec, "hex_code"); hex != "" {
		return hex
	}
	return UnknownInviterHexCode
}

// CompletePayment records the (simulated) payment, refreshes the profile and
// waits the settle delay. It returns the route the gate now requires.
func (c *Controller) CompletePayment(ctx context.Context) (Route, error) {
	sess, _ := c.store.target()
	if sess == nil {
		c.navigator.Navigate(RouteLogin)
		return RouteLogin, wrapError(ErrSessionRequired, nil, nil)
	}

	quote := c.Quote()

	err := c.records.UpdateRecord(ctx, TableProfiles, Filter{"id": sess.UserID}, Record{
		"payment_status": string(PaymentPaid),
		"payment_tier":   quote.Tier,
		"payment_amount": quote.Amount,
	})
	if err != nil {
		return "", wrapError(ErrPaymentFailed, err, map[string]any{"user_id": sess.UserID})
	}

	if _, err := c.RefreshProfile(ctx); err != nil {
		return "", err
	}

	if err := c.pause(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.promo = nil
	c.mu.Unlock()

	c.record(ctx, ActivityEventPaymentCompleted, sess.UserID, map[string]any{
		"tier":   quote.Tier,
		"amount": quote.Amount,
	})

	c.navigator.Navigate(RouteOnboarding)
	return RouteOnboarding, nil
}

// markInvitationUsed closes the pending invitation holding code. A code that
// was already redeemed is left alone and the store reports not found.
func markInvitationUsed(ctx context.Context, records RecordStore, code, userID string, at time.Time) error {
	return records.UpdateRecord(ctx, TableInvitations, Filter{
		"promo_code": code,
		"status":     InvitationPending,
	}, Record{
		"status":  InvitationUsed,
		"used_by": userID,
		"used_at": at.UTC().Format(time.RFC3339),
	})
}
