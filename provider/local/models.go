package local

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileModel is the profiles table
type ProfileModel struct {
	bun.BaseModel `bun:"table:profiles"`

	ID                  string    `bun:"id,pk"`
	Email               string    `bun:"email"`
	HexCode             string    `bun:"hex_code,notnull"`
	PaymentStatus       string    `bun:"payment_status,notnull,default:'pending'"`
	PaymentTier         string    `bun:"payment_tier"`
	PaymentAmount       float64   `bun:"payment_amount,notnull,default:0"`
	OnboardingCompleted bool      `bun:"onboarding_completed,notnull,default:false"`
	Role                string    `bun:"role,notnull,default:'user'"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// InvitationModel holds promo codes handed out by members
type InvitationModel struct {
	bun.BaseModel `bun:"table:invitations"`

	ID        int64  `bun:"id,pk,autoincrement"`
	PromoCode string `bun:"promo_code,notnull,unique"`
	Type      string `bun:"type"`
	Status    string `bun:"status,notnull,default:'pending'"`
	InviterID string `bun:"inviter_id"`
	UsedBy    string `bun:"used_by"`
	UsedAt    string `bun:"used_at"`
}

// OnboardingAnswerModel stores one answer per user and question
type OnboardingAnswerModel struct {
	bun.BaseModel `bun:"table:onboarding_answers"`

	ID             int64  `bun:"id,pk,autoincrement"`
	UserID         string `bun:"user_id,notnull,unique:user_question"`
	QuestionIndex  int    `bun:"question_index,notnull,unique:user_question"`
	AnswerText     string `bun:"answer_text,notnull"`
	CreateGiftCard bool   `bun:"create_gift_card,notnull,default:false"`
}

// GiftModel is a gift card offered by a member
type GiftModel struct {
	bun.BaseModel `bun:"table:gifts"`

	ID          string    `bun:"id,pk"`
	CreatorID   string    `bun:"creator_id,notnull"`
	Title       string    `bun:"title,notnull"`
	Description string    `bun:"description"`
	Visibility  string    `bun:"visibility,notnull,default:'global'"`
	Status      string    `bun:"status,notnull,default:'active'"`
	IsActive    bool      `bun:"is_active,notnull,default:true"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Account holds the credentials of a user
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	Email        string     `bun:"email,notnull,unique"`
	PasswordHash string     `bun:"password_hash,notnull"`
	LoggedInAt   *time.Time `bun:"loggedin_at"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ClientSessionModel persists the signed in session of a browser client
type ClientSessionModel struct {
	bun.BaseModel `bun:"table:client_sessions"`

	ClientID    string    `bun:"client_id,pk"`
	UserID      string    `bun:"user_id,notnull"`
	Email       string    `bun:"email"`
	AccessToken string    `bun:"access_token,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
}

// MagicLinkModel is a pending passwordless sign in
type MagicLinkModel struct {
	bun.BaseModel `bun:"table:magic_links"`

	Token     string         `bun:"token,pk"`
	Email     string         `bun:"email,notnull"`
	ClientID  string         `bun:"client_id"`
	Data      map[string]any `bun:"data,type:jsonb"`
	ExpiresAt time.Time      `bun:"expires_at,notnull"`
	UsedAt    *time.Time     `bun:"used_at"`
}

// Models lists every table owned by the backend
func Models() []any {
	return []any{
		(*ProfileModel)(nil),
		(*InvitationModel)(nil),
		(*OnboardingAnswerModel)(nil),
		(*GiftModel)(nil),
		(*Account)(nil),
		(*ClientSessionModel)(nil),
		(*MagicLinkModel)(nil),
	}
}

// CreateSchema creates the backend tables when missing
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
