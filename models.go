package gatekeeper

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	TableProfiles          = "profiles"
	TableInvitations       = "invitations"
	TableOnboardingAnswers = "onboarding_answers"
	TableGifts             = "gifts"
)

// PaymentStatus tracks the subscription fee
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// ParsePaymentStatus normalizes unknown values to pending so an unexpected
// value can never unlock the gate.
func ParsePaymentStatus(s string) PaymentStatus {
	if PaymentStatus(strings.ToLower(strings.TrimSpace(s))) == PaymentPaid {
		return PaymentPaid
	}
	return PaymentPending
}

// IsPaid reports whether the subscription fee was settled
func (s PaymentStatus) IsPaid() bool {
	return s == PaymentPaid
}

// PaymentTier records how the fee was paid
type PaymentTier = string

const (
	TierStandard   PaymentTier = "standard"
	TierDiscount50 PaymentTier = "discount_50"
	TierPrepaid    PaymentTier = "prepaid"
)

// Session is the authenticated identity issued by the auth provider
type Session struct {
	AccessToken string    `json:"access_token,omitempty"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// NewSession returns an error when userID is empty, a session without a user
// id cannot be used for profile lookup.
func NewSession(userID, email, token string, expiresAt time.Time) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("session requires a user id")
	}
	return &Session{
		AccessToken: token,
		UserID:      userID,
		Email:       email,
		ExpiresAt:   expiresAt,
	}, nil
}

// Expired reports whether the session is past its expiry. A zero expiry
// never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func (s *Session) sameAs(other *Session) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return s.UserID == other.UserID &&
		s.AccessToken == other.AccessToken &&
		s.Email == other.Email &&
		s.ExpiresAt.Equal(other.ExpiresAt)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Profile is the durable per user record gating access to the platform
type Profile struct {
	ID                  string        `json:"id"`
	Email               string        `json:"email"`
	HexCode             string        `json:"hex_code"`
	PaymentStatus       PaymentStatus `json:"payment_status"`
	PaymentTier         PaymentTier   `json:"payment_tier,omitempty"`
	PaymentAmount       float64       `json:"payment_amount"`
	OnboardingCompleted bool          `json:"onboarding_completed"`
	Role                Role          `json:"role"`
}

// NewPendingProfile returns the shape used for fail-safe creation
func NewPendingProfile(userID, email, hexCode string) *Profile {
	return &Profile{
		ID:                  userID,
		Email:               email,
		HexCode:             hexCode,
		PaymentStatus:       PaymentPending,
		OnboardingCompleted: false,
		Role:                RoleUser,
	}
}

// Record returns the columns written on profile creation
func (p *Profile) Record() Record {
	return Record{
		"id":                   p.ID,
		"email":                p.Email,
		"hex_code":             p.HexCode,
		"onboarding_completed": p.OnboardingCompleted,
		"payment_status":       string(p.PaymentStatus),
		"role":                 string(p.Role),
	}
}

func (p *Profile) clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ProfileFromRecord maps a profiles row. Drivers disagree on how booleans
// and numbers come back so the getters are lenient.
func ProfileFromRecord(rec Record) (*Profile, error) {
	if rec == nil {
		return nil, fmt.Errorf("profile record is nil")
	}

	id := recordString(rec, "id")
	if id == "" {
		return nil, fmt.Errorf("profile record has no id")
	}

	role, ok := ParseRole(recordString(rec, "role"))
	if !ok {
		role = RoleUser
	}

	return &Profile{
		ID:                  id,
		Email:               recordString(rec, "email"),
		HexCode:             recordString(rec, "hex_code"),
		PaymentStatus:       ParsePaymentStatus(recordString(rec, "payment_status")),
		PaymentTier:         recordString(rec, "payment_tier"),
		PaymentAmount:       recordFloat(rec, "payment_amount"),
		OnboardingCompleted: recordBool(rec, "onboarding_completed"),
		Role:                role,
	}, nil
}

func recordString(rec Record, key string) string {
	switch v := rec[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func recordBool(rec Record, key string) bool {
	switch v := rec[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(v))
		return b
	default:
		return false
	}
}

func recordFloat(rec Record, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	default:
		return 0
	}
}

func recordInt(rec Record, key string) int {
	return int(recordFloat(rec, key))
}

// Invitation is a promo code handed out by an existing member
type Invitation struct {
	PromoCode string
	Type      PaymentTier
	Status    string
	InviterID string
}

const (
	InvitationPending = "pending"
	InvitationUsed    = "used"
)

func invitationFromRecord(rec Record) Invitation {
	return Invitation{
		PromoCode: recordString(rec, "promo_code"),
		Type:      recordString(rec, "type"),
		Status:    recordString(rec, "status"),
		InviterID: recordString(rec, "inviter_id"),
	}
}

// NormalizePromoCode trims and upper-cases a code the way it is stored
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
