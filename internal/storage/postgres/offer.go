package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mintcart/offer-engine/internal/domain/offer"
)

const (
	offerColumns = `id, code, discount_type, value, minimum_order_amount, maximum_discount,
		usage_limit, times_used, start_date, end_date, is_active, user_specific,
		allowed_users, created_at, updated_at`

	findActiveOfferSQL = `SELECT ` + offerColumns + `
		FROM offers WHERE code = $1 AND is_active`

	findOfferByCodeSQL = `SELECT ` + offerColumns + `
		FROM offers WHERE code = $1`

	listActiveOffersSQL = `SELECT ` + offerColumns + `
		FROM offers
		WHERE is_active AND start_date <= $1 AND end_date >= $1
		ORDER BY code`

	insertOfferSQL = `INSERT INTO offers (id, code, discount_type, value, minimum_order_amount,
		maximum_discount, usage_limit, times_used, start_date, end_date, is_active,
		user_specific, allowed_users)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12)`

	// The usage-limit guard lives inside the UPDATE so two concurrent
	// redemptions can never both take the last remaining use.
	conditionalIncrementSQL = `UPDATE offers
		SET times_used = times_used + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR times_used < usage_limit)`

	insertUsageSQL = `INSERT INTO offer_usages (id, offer_id, user_id, order_id, discount_applied, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	usageHistorySQL = `SELECT id, offer_id, user_id, order_id, discount_applied, applied_at
		FROM offer_usages WHERE offer_id = $1 ORDER BY applied_at, id`

	deactivateOfferSQL = `UPDATE offers SET is_active = FALSE, updated_at = now() WHERE code = $1`

	// Bulk ingest skips codes that already exist rather than overwriting
	// their counters.
	insertOfferIgnoreDupSQL = insertOfferSQL + ` ON CONFLICT (code) DO NOTHING`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

// FindActiveByCode looks up an active offer by its canonical uppercase code.
// Returns offer.ErrOfferNotFound when no matching active offer exists; the
// engine applies the date-window check on top.
func (r *OfferRepository) FindActiveByCode(ctx context.Context, code string) (*offer.Offer, error) {
	rows, err := r.pool.Query(ctx, findActiveOfferSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find offer %q", code)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrOfferNotFound
		}
		return nil, errors.Wrapf(err, "find offer %q", code)
	}
	return &o, nil
}

// FindByCode looks up an offer by code regardless of its active flag. Used
// by the admin surface, where a soft-disabled offer's history must stay
// inspectable.
func (r *OfferRepository) FindByCode(ctx context.Context, code string) (*offer.Offer, error) {
	rows, err := r.pool.Query(ctx, findOfferByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find offer %q", code)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrOfferNotFound
		}
		return nil, errors.Wrapf(err, "find offer %q", code)
	}
	return &o, nil
}

// RecordRedemption performs the limit-guarded usage increment and the ledger
// append in a single transaction, keeping times_used equal to the ledger row
// count. A rejected increment surfaces as offer.ErrRedemptionRace.
func (r *OfferRepository) RecordRedemption(ctx context.Context, offerID string, rec offer.UsageRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin redemption tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, conditionalIncrementSQL, offerID)
	if err != nil {
		return errors.Wrapf(err, "increment usage for offer %s", offerID)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrRedemptionRace
	}

	_, err = tx.Exec(ctx, insertUsageSQL,
		rec.ID, offerID, rec.UserID, rec.OrderID, rec.DiscountApplied, rec.AppliedAt)
	if err != nil {
		return errors.Wrapf(err, "append usage record for offer %s", offerID)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit redemption tx")
	}
	return nil
}

// UsageHistory returns the offer's ledger entries in application order.
func (r *OfferRepository) UsageHistory(ctx context.Context, offerID string) ([]offer.UsageRecord, error) {
	rows, err := r.pool.Query(ctx, usageHistorySQL, offerID)
	if err != nil {
		return nil, errors.Wrapf(err, "usage history for offer %s", offerID)
	}

	recs, err := pgx.CollectRows(rows, scanUsageRecord)
	if err != nil {
		return nil, errors.Wrapf(err, "usage history for offer %s", offerID)
	}
	return recs, nil
}

// ListActive returns all active offers whose validity window contains now.
func (r *OfferRepository) ListActive(ctx context.Context, now time.Time) ([]offer.Offer, error) {
	rows, err := r.pool.Query(ctx, listActiveOffersSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active offers")
	}

	offers, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, errors.Wrap(err, "list active offers")
	}
	return offers, nil
}

// Create persists a new offer definition. Callers must run
// offer.ValidateDefinition first; the schema constraints are a backstop.
func (r *OfferRepository) Create(ctx context.Context, o *offer.Offer) error {
	_, err := r.pool.Exec(ctx, insertOfferSQL,
		o.ID, o.Code, string(o.Type), o.Value, o.MinimumOrderAmount,
		o.MaximumDiscount, o.UsageLimit, o.StartDate, o.EndDate,
		o.IsActive, o.UserSpecific, o.AllowedUsers)
	if err != nil {
		return errors.Wrapf(err, "create offer %q", o.Code)
	}
	return nil
}

// CreateBatch persists a batch of offer definitions in a single round trip,
// skipping codes that already exist. It returns the number of rows inserted.
func (r *OfferRepository) CreateBatch(ctx context.Context, offers []*offer.Offer) (int, error) {
	batch := &pgx.Batch{}
	for _, o := range offers {
		batch.Queue(insertOfferIgnoreDupSQL,
			o.ID, o.Code, string(o.Type), o.Value, o.MinimumOrderAmount,
			o.MaximumDiscount, o.UsageLimit, o.StartDate, o.EndDate,
			o.IsActive, o.UserSpecific, o.AllowedUsers)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close() //nolint:errcheck // errors surface via Exec below

	var inserted int
	for range offers {
		tag, err := br.Exec()
		if err != nil {
			return inserted, errors.Wrap(err, "batch insert offers")
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// Deactivate soft-disables the offer with the given code. Offers referenced
// by historical orders are never hard-deleted.
func (r *OfferRepository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deactivateOfferSQL, code)
	if err != nil {
		return errors.Wrapf(err, "deactivate offer %q", code)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrOfferNotFound
	}
	return nil
}

func scanOffer(row pgx.CollectableRow) (offer.Offer, error) {
	var (
		o           offer.Offer
		dtype       string
		maxDiscount *decimal.Decimal
		usageLimit  *int32
	)
	err := row.Scan(
		&o.ID, &o.Code, &dtype, &o.Value, &o.MinimumOrderAmount, &maxDiscount,
		&usageLimit, &o.TimesUsed, &o.StartDate, &o.EndDate, &o.IsActive,
		&o.UserSpecific, &o.AllowedUsers, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Type = offer.DiscountType(dtype)
	o.MaximumDiscount = maxDiscount
	if usageLimit != nil {
		limit := int(*usageLimit)
		o.UsageLimit = &limit
	}
	return o, err
}

func scanUsageRecord(row pgx.CollectableRow) (offer.UsageRecord, error) {
	var rec offer.UsageRecord
	err := row.Scan(&rec.ID, &rec.OfferID, &rec.UserID, &rec.OrderID,
		&rec.DiscountApplied, &rec.AppliedAt)
	return rec, err
}
