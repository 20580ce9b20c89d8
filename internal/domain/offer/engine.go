package offer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine owns the offer validation and redemption rules. It is invoked
// synchronously from the checkout flow and keeps no state of its own beyond
// the repository handle and a clock.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Validate checks whether the given code can be redeemed against an order of
// the given amount by the given user. The user ID may be empty for anonymous
// checkouts. On success it returns the offer unchanged; validation is a pure
// read and mutates nothing.
//
// Temporal validity is a derived predicate recomputed against the clock on
// every call, never cached.
func (e *Engine) Validate(ctx context.Context, code string, orderAmount decimal.Decimal, userID string) (*Offer, error) {
	o, err := e.repo.FindActiveByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, errors.Wrap(err, "lookup offer")
	}

	// An out-of-window offer is indistinguishable from a nonexistent one.
	if !o.WithinWindow(e.now()) {
		return nil, ErrOfferNotFound
	}

	if orderAmount.LessThan(o.MinimumOrderAmount) {
		return nil, &MinimumNotMetError{Required: o.MinimumOrderAmount}
	}

	if o.UsageLimit != nil && o.TimesUsed >= *o.UsageLimit {
		return nil, ErrUsageLimitExceeded
	}

	if !o.EligibleFor(userID) {
		return nil, ErrUserNotEligible
	}

	return o, nil
}

// Apply records one redemption of the offer: it increments the usage counter
// through the repository's limit-guarded atomic update and appends a ledger
// entry carrying the applied discount. It does not re-validate; callers must
// run Validate in the same logical operation, and must treat
// ErrRedemptionRace as "the last use was just consumed elsewhere".
//
// Apply performs no deduplication by order ID; at-most-once application per
// checkout is the caller's responsibility.
func (e *Engine) Apply(ctx context.Context, o *Offer, userID, orderID string, discountApplied decimal.Decimal) (*Offer, error) {
	rec := UsageRecord{
		ID:              uuid.New().String(),
		OfferID:         o.ID,
		UserID:          userID,
		OrderID:         orderID,
		DiscountApplied: discountApplied,
		AppliedAt:       e.now(),
	}

	if err := e.repo.RecordRedemption(ctx, o.ID, rec); err != nil {
		if errors.Is(err, ErrRedemptionRace) {
			return nil, ErrRedemptionRace
		}
		return nil, errors.Wrap(err, "record redemption")
	}

	applied := *o
	applied.TimesUsed++
	return &applied, nil
}
