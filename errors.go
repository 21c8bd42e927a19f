package gatekeeper

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeAuthFailed        = "AUTH_FAILED"
	TextCodeProfileResolution = "PROFILE_RESOLUTION_FAILED"
	TextCodeTimeout           = "DEADLINE_EXCEEDED"
	TextCodeSessionRequired   = "SESSION_REQUIRED"
	TextCodeInvalidPromo      = "INVALID_PROMO_CODE"
	TextCodePaymentFailed     = "PAYMENT_FAILED"
	TextCodeOnboardingFailed  = "ONBOARDING_FAILED"
	TextCodeInvalidStep       = "INVALID_ONBOARDING_STEP"
	TextCodeEmptyAnswer       = "EMPTY_ANSWER"
)

// ErrAuth is returned when the provider rejects credentials or cannot be reached
// during a user initiated sign in or sign up.
var ErrAuth = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileResolution describes why the resolver took the fail-safe path.
// It is only ever logged.
var ErrProfileResolution = goerrors.New("profile resolution failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeProfileResolution).
	WithCode(goerrors.CodeInternal)

// ErrTimeout signals that a backend call lost the race against its deadline.
var ErrTimeout = goerrors.New("operation timed out", goerrors.CategoryOperation).
	WithTextCode(TextCodeTimeout)

// ErrSessionRequired is returned by flows that need a signed in user.
var ErrSessionRequired = goerrors.New("a signed in session is required", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidPromoCode is returned for unknown, used or misconfigured promo codes.
var ErrInvalidPromoCode = goerrors.New("invalid promo code", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidPromo).
	WithCode(goerrors.CodeBadRequest)

var ErrPaymentFailed = goerrors.New("payment could not be completed", goerrors.CategoryOperation).
	WithTextCode(TextCodePaymentFailed).
	WithCode(goerrors.CodeInternal)

var ErrOnboardingFailed = goerrors.New("onboarding answer could not be saved", goerrors.CategoryOperation).
	WithTextCode(TextCodeOnboardingFailed).
	WithCode(goerrors.CodeInternal)

var ErrInvalidStep = goerrors.New("onboarding step out of range", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidStep).
	WithCode(goerrors.CodeBadRequest)

var ErrEmptyAnswer = goerrors.New("answer must not be empty", goerrors.CategoryBadInput).
	WithTextCode(TextCodeEmptyAnswer).
	WithCode(goerrors.CodeBadRequest)

// wrapError clones base so sentinels are never mutated, keeps err as the source
// and attaches metadata.
func wrapError(base *goerrors.Error, err error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}

	if err != nil {
		clone.Source = err
		if meta == nil {
			meta = map[string]any{}
		}
		meta["error"] = err.Error()
	}

	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}

	return clone
}

// IsAuthError reports whether err is (or wraps) ErrAuth
func IsAuthError(err error) bool {
	return hasTextCode(err, TextCodeAuthFailed)
}

// IsTimeout reports whether err is (or wraps) ErrTimeout
func IsTimeout(err error) bool {
	return hasTextCode(err, TextCodeTimeout)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}

	return false
}
