package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const getPlanByID = `
SELECT id, name, category, price, monthly_rate, active, created_at, updated_at
FROM plans
WHERE id = $1
`

// GetPlanByID fetches a catalog entry regardless of its active flag; callers
// decide whether an inactive plan is purchasable.
func (q *Queries) GetPlanByID(ctx context.Context, id pgtype.UUID) (Plan, error) {
	row := q.db.QueryRow(ctx, getPlanByID, id)
	var p Plan
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.MonthlyRate, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const getVoucherByCode = `
SELECT id, code, kind, value, percent_bps, min_purchase, max_discount,
       valid_from, valid_to, active, plan_ids, applies_to,
       usage_limit, used_count, created_at, updated_at
FROM vouchers
WHERE upper(code) = upper($1)
`

// GetVoucherByCode looks a generic voucher up case-insensitively.
func (q *Queries) GetVoucherByCode(ctx context.Context, code string) (Voucher, error) {
	row := q.db.QueryRow(ctx, getVoucherByCode, code)
	var v Voucher
	err := row.Scan(&v.ID, &v.Code, &v.Kind, &v.Value, &v.PercentBps, &v.MinPurchase, &v.MaxDiscount,
		&v.ValidFrom, &v.ValidTo, &v.Active, &v.PlanIds, &v.AppliesTo,
		&v.UsageLimit, &v.UsedCount, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

const getAffiliateVoucherByCode = `
SELECT id, code, kind, value, percent_bps, affiliate_id, active, used_count, created_at
FROM affiliate_vouchers
WHERE upper(code) = upper($1)
`

// GetAffiliateVoucherByCode looks an affiliate voucher up case-insensitively.
func (q *Queries) GetAffiliateVoucherByCode(ctx context.Context, code string) (AffiliateVoucher, error) {
	row := q.db.QueryRow(ctx, getAffiliateVoucherByCode, code)
	var v AffiliateVoucher
	err := row.Scan(&v.ID, &v.Code, &v.Kind, &v.Value, &v.PercentBps, &v.AffiliateID, &v.Active, &v.UsedCount, &v.CreatedAt)
	return v, err
}

const getActiveSubscriptionByUser = `
SELECT id, user_id, plan_id, starts_at, ends_at, active
FROM subscriptions
WHERE user_id = $1 AND active AND ends_at > now()
ORDER BY ends_at DESC
LIMIT 1
`

// GetActiveSubscriptionByUser returns the buyer's current subscription.
func (q *Queries) GetActiveSubscriptionByUser(ctx context.Context, userID pgtype.UUID) (Subscription, error) {
	row := q.db.QueryRow(ctx, getActiveSubscriptionByUser, userID)
	var s Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.StartsAt, &s.EndsAt, &s.Active)
	return s, err
}

const settlementCodeInUse = `
SELECT EXISTS (
  SELECT 1 FROM transactions
  WHERE settlement_code = $1
    AND payment_status IN ('pending', 'waiting_confirmation')
)
`

// SettlementCodeInUse reports whether any not-yet-settled transaction already
// carries the candidate code. The partial unique index on the same predicate
// remains the authority; this is only the cheap pre-check.
func (q *Queries) SettlementCodeInUse(ctx context.Context, code int32) (bool, error) {
	var used bool
	err := q.db.QueryRow(ctx, settlementCodeInUse, code).Scan(&used)
	return used, err
}

const insertTransaction = `
INSERT INTO transactions (
  id, user_id, plan_id, category, base_amount, discount_amount, tax_amount,
  settlement_code, total_amount, voucher_code, payment_status,
  starts_at, ends_at, expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id, user_id, plan_id, category, base_amount, discount_amount, tax_amount,
          settlement_code, total_amount, voucher_code, payment_status,
          starts_at, ends_at, expires_at, created_at
`

// InsertTransactionParams carries the full pricing breakdown for the primary
// write.
type InsertTransactionParams struct {
	ID             string
	UserID         pgtype.UUID
	PlanID         pgtype.UUID
	Category       string
	BaseAmount     int64
	DiscountAmount pgtype.Int8
	TaxAmount      int64
	SettlementCode int32
	TotalAmount    int64
	VoucherCode    pgtype.Text
	PaymentStatus  string
	StartsAt       pgtype.Timestamptz
	EndsAt         pgtype.Timestamptz
	ExpiresAt      pgtype.Timestamptz
}

// InsertTransaction persists the transaction row. This is the single
// authoritative write of the purchase flow.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (Transaction, error) {
	row := q.db.QueryRow(ctx, insertTransaction,
		arg.ID, arg.UserID, arg.PlanID, arg.Category, arg.BaseAmount, arg.DiscountAmount,
		arg.TaxAmount, arg.SettlementCode, arg.TotalAmount, arg.VoucherCode, arg.PaymentStatus,
		arg.StartsAt, arg.EndsAt, arg.ExpiresAt)
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.PlanID, &t.Category, &t.BaseAmount, &t.DiscountAmount,
		&t.TaxAmount, &t.SettlementCode, &t.TotalAmount, &t.VoucherCode, &t.PaymentStatus,
		&t.StartsAt, &t.EndsAt, &t.ExpiresAt, &t.CreatedAt)
	return t, err
}

const getTransactionByID = `
SELECT id, user_id, plan_id, category, base_amount, discount_amount, tax_amount,
       settlement_code, total_amount, voucher_code, payment_status,
       starts_at, ends_at, expires_at, created_at
FROM transactions
WHERE id = $1
`

// GetTransactionByID fetches a transaction by its engine-generated identifier.
func (q *Queries) GetTransactionByID(ctx context.Context, id string) (Transaction, error) {
	row := q.db.QueryRow(ctx, getTransactionByID, id)
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.PlanID, &t.Category, &t.BaseAmount, &t.DiscountAmount,
		&t.TaxAmount, &t.SettlementCode, &t.TotalAmount, &t.VoucherCode, &t.PaymentStatus,
		&t.StartsAt, &t.EndsAt, &t.ExpiresAt, &t.CreatedAt)
	return t, err
}

const incrementVoucherUsage = `
UPDATE vouchers
SET used_count = used_count + 1, updated_at = now()
WHERE id = $1
  AND (usage_limit IS NULL OR used_count < usage_limit)
`

// IncrementVoucherUsage bumps a generic voucher's usage counter. The WHERE
// guard makes the increment the authority for the usage cap under
// concurrency; zero rows affected means the cap was hit after validation.
func (q *Queries) IncrementVoucherUsage(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, incrementVoucherUsage, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const incrementAffiliateVoucherUsage = `
UPDATE affiliate_vouchers
SET used_count = used_count + 1
WHERE id = $1
`

// IncrementAffiliateVoucherUsage bumps an affiliate voucher's usage counter.
// Affiliate codes carry no cap, so the increment is unconditional.
func (q *Queries) IncrementAffiliateVoucherUsage(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, incrementAffiliateVoucherUsage, id)
	return err
}

const insertVoucherUsage = `
INSERT INTO voucher_usages (
  voucher_id, affiliate_voucher_id, transaction_id, kind, value, percent_bps,
  discount_amount, plan_id, base_amount, total_before, total_after
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// InsertVoucherUsageParams captures the discount state at time of use for the
// append-only audit trail. PercentBps records the applied rate for percent
// vouchers; Value carries the fixed amount for fixed_amount vouchers.
// TotalBefore is TotalAfter plus the discount, not a re-taxed undiscounted
// total: TotalBefore - TotalAfter always equals DiscountAmount.
type InsertVoucherUsageParams struct {
	VoucherID          pgtype.UUID
	AffiliateVoucherID pgtype.UUID
	TransactionID      string
	Kind               string
	Value              int64
	PercentBps         pgtype.Int4
	DiscountAmount     int64
	PlanID             pgtype.UUID
	BaseAmount         int64
	TotalBefore        int64
	TotalAfter         int64
}

// InsertVoucherUsage appends one ledger row for an applied discount.
func (q *Queries) InsertVoucherUsage(ctx context.Context, arg InsertVoucherUsageParams) error {
	_, err := q.db.Exec(ctx, insertVoucherUsage,
		arg.VoucherID, arg.AffiliateVoucherID, arg.TransactionID, arg.Kind, arg.Value, arg.PercentBps,
		arg.DiscountAmount, arg.PlanID, arg.BaseAmount, arg.TotalBefore, arg.TotalAfter)
	return err
}

const insertAffiliateReferral = `
INSERT INTO affiliate_referrals (user_id, affiliate_id)
VALUES ($1, $2)
ON CONFLICT (user_id, affiliate_id) DO NOTHING
`

// InsertAffiliateReferral links a buyer to an affiliate exactly once. The
// unique constraint plus ON CONFLICT makes the insert itself the idempotency
// authority; the return value reports whether a new link was created.
func (q *Queries) InsertAffiliateReferral(ctx context.Context, userID, affiliateID pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, insertAffiliateReferral, userID, affiliateID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const expireTransactions = `
UPDATE transactions
SET payment_status = 'expired'
WHERE payment_status = 'pending' AND expires_at < $1
`

// ExpireTransactions marks overdue pending transactions as expired and
// returns how many rows changed. Expiring also releases their settlement
// codes for reuse.
func (q *Queries) ExpireTransactions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, expireTransactions, pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getRateLimitSetting = `
SELECT scope, max_requests, window_seconds, updated_at
FROM rate_limit_settings
WHERE scope = $1
`

// GetRateLimitSetting loads limiter thresholds for a scope.
func (q *Queries) GetRateLimitSetting(ctx context.Context, scope string) (RateLimitSetting, error) {
	row := q.db.QueryRow(ctx, getRateLimitSetting, scope)
	var s RateLimitSetting
	err := row.Scan(&s.Scope, &s.MaxRequests, &s.WindowSeconds, &s.UpdatedAt)
	return s, err
}
