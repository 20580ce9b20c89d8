// Package offer implements the discount offer engine: validation of
// time-bounded, usage-limited, user-scoped coupon codes, deterministic
// discount calculation with capping, and redemption tracking.
package offer

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported offer discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary amount capped at the order total.
	DiscountFixed DiscountType = "fixed"
)

const (
	minCodeLen = 3
	maxCodeLen = 20
)

var (
	// ErrOfferNotFound is returned when no redeemable offer matches a code.
	// It deliberately covers "never existed", "inactive" and "outside the
	// validity window" with one message so callers cannot probe which codes
	// exist.
	ErrOfferNotFound = errors.New("coupon code is invalid or has expired")

	// ErrUsageLimitExceeded is returned when an offer has exhausted its
	// allowed number of redemptions.
	ErrUsageLimitExceeded = errors.New("coupon usage limit exceeded")

	// ErrUserNotEligible is returned when a user-specific offer is applied
	// by a user outside its allowed set.
	ErrUserNotEligible = errors.New("coupon is not available for this user")

	// ErrRedemptionRace is returned when the storage layer rejects the
	// conditional usage increment because a concurrent redemption consumed
	// the last remaining use between validation and application.
	ErrRedemptionRace = errors.New("coupon just became unavailable")
)

// MinimumNotMetError is returned when the order amount is below the offer's
// minimum. It carries the required amount so callers can tell the user why.
type MinimumNotMetError struct {
	Required decimal.Decimal
}

func (e *MinimumNotMetError) Error() string {
	return "minimum order amount of " + e.Required.String() + " required"
}

// DefinitionError reports an offer definition that violates a field
// constraint. Raised at create/edit time, never at redemption time.
type DefinitionError struct {
	Field  string
	Reason string
}

func (e *DefinitionError) Error() string {
	return "invalid offer definition: " + e.Field + ": " + e.Reason
}

// Offer is a discount policy identified by a unique uppercase code.
type Offer struct {
	ID                 string
	Code               string
	Type               DiscountType
	Value              decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	// MaximumDiscount caps the computed discount. Nil means uncapped.
	MaximumDiscount *decimal.Decimal
	// UsageLimit bounds total redemptions. Nil means unlimited.
	UsageLimit *int
	TimesUsed  int
	StartDate  time.Time
	EndDate    time.Time
	IsActive   bool
	// UserSpecific restricts redemption to the AllowedUsers set.
	UserSpecific bool
	AllowedUsers []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UsageRecord is one entry in an offer's append-only redemption ledger.
type UsageRecord struct {
	ID              string
	OfferID         string
	UserID          string
	OrderID         string
	DiscountApplied decimal.Decimal
	AppliedAt       time.Time
}

// Repository provides lookup and mutation of offers and their usage ledger.
type Repository interface {
	// FindActiveByCode returns the offer with the given uppercase code and
	// IsActive=true, or ErrOfferNotFound. It does not check the date window;
	// the engine recomputes temporal validity on every call.
	FindActiveByCode(ctx context.Context, code string) (*Offer, error)

	// RecordRedemption atomically increments the offer's usage counter,
	// guarded by its usage limit, and appends the record to the ledger in
	// the same transaction. It returns ErrRedemptionRace when the guard
	// rejects the increment.
	RecordRedemption(ctx context.Context, offerID string, rec UsageRecord) error

	// UsageHistory returns the offer's ledger entries in application order.
	UsageHistory(ctx context.Context, offerID string) ([]UsageRecord, error)
}

// NormalizeCode maps a user-supplied code to its canonical uppercase form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WithinWindow reports whether now falls inside the offer's validity window.
// Both ends are inclusive.
func (o *Offer) WithinWindow(now time.Time) bool {
	return !now.Before(o.StartDate) && !now.After(o.EndDate)
}

// RemainingUses returns how many redemptions are left, or -1 when unlimited.
func (o *Offer) RemainingUses() int {
	if o.UsageLimit == nil {
		return -1
	}
	left := *o.UsageLimit - o.TimesUsed
	if left < 0 {
		return 0
	}
	return left
}

// EligibleFor reports whether the given user may redeem this offer.
// Offers that are not user-specific are open to everyone, including
// anonymous checkouts with an empty user ID.
func (o *Offer) EligibleFor(userID string) bool {
	if !o.UserSpecific {
		return true
	}
	if userID == "" {
		return false
	}
	for _, u := range o.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// ValidateDefinition checks the policy field constraints that must hold
// before an offer is persisted. It returns a DefinitionError describing the
// first violated constraint.
func ValidateDefinition(o *Offer) error {
	code := NormalizeCode(o.Code)
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return &DefinitionError{Field: "code", Reason: "must be 3-20 characters"}
	}

	switch o.Type {
	case DiscountPercentage:
		if !o.Value.IsPositive() || o.Value.GreaterThan(decimal.NewFromInt(100)) {
			return &DefinitionError{Field: "value", Reason: "percentage must be in (0, 100]"}
		}
	case DiscountFixed:
		if !o.Value.IsPositive() {
			return &DefinitionError{Field: "value", Reason: "fixed amount must be positive"}
		}
	default:
		return &DefinitionError{Field: "type", Reason: "must be percentage or fixed"}
	}

	if o.MinimumOrderAmount.IsNegative() {
		return &DefinitionError{Field: "minimumOrderAmount", Reason: "must not be negative"}
	}
	if o.MaximumDiscount != nil && o.MaximumDiscount.IsNegative() {
		return &DefinitionError{Field: "maximumDiscount", Reason: "must not be negative"}
	}
	if o.UsageLimit != nil && *o.UsageLimit <= 0 {
		return &DefinitionError{Field: "usageLimit", Reason: "must be positive when set"}
	}
	if !o.EndDate.After(o.StartDate) {
		return &DefinitionError{Field: "endDate", Reason: "must be after startDate"}
	}
	if o.UserSpecific && len(o.AllowedUsers) == 0 {
		return &DefinitionError{Field: "allowedUsers", Reason: "required for user-specific offers"}
	}

	return nil
}
