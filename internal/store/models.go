package store

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Discount kinds shared by generic and affiliate vouchers.
const (
	DiscountKindPercent     = "percent"
	DiscountKindFixedAmount = "fixed_amount"
)

// Purchase categories a plan or voucher can apply to.
const (
	CategoryAll          = "all"
	CategorySubscription = "subscription"
	CategoryAddon        = "addon"
)

// Payment statuses a transaction moves through. This engine only ever writes
// pending; later lifecycle stages live outside it.
const (
	PaymentStatusPending             = "pending"
	PaymentStatusWaitingConfirmation = "waiting_confirmation"
	PaymentStatusPaid                = "paid"
	PaymentStatusRejected            = "rejected"
	PaymentStatusExpired             = "expired"
)

// Plan is an immutable catalog entry, read-only to the engine.
type Plan struct {
	ID          pgtype.UUID
	Name        string
	Category    string
	Price       int64
	MonthlyRate int64
	Active      bool
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

// Voucher is a promotional discount rule managed by administrators.
type Voucher struct {
	ID          pgtype.UUID
	Code        string
	Kind        string
	Value       int64
	PercentBps  pgtype.Int4
	MinPurchase int64
	MaxDiscount pgtype.Int8
	ValidFrom   pgtype.Timestamptz
	ValidTo     pgtype.Timestamptz
	Active      bool
	PlanIds     []pgtype.UUID
	AppliesTo   string
	UsageLimit  pgtype.Int4
	UsedCount   int32
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

// AffiliateVoucher is a personal referral code owned by an affiliate.
type AffiliateVoucher struct {
	ID          pgtype.UUID
	Code        string
	Kind        string
	Value       int64
	PercentBps  pgtype.Int4
	AffiliateID pgtype.UUID
	Active      bool
	UsedCount   int32
	CreatedAt   pgtype.Timestamptz
}

// Subscription is the buyer's current subscription, read-only input to
// pro-rata pricing.
type Subscription struct {
	ID       pgtype.UUID
	UserID   pgtype.UUID
	PlanID   pgtype.UUID
	StartsAt pgtype.Timestamptz
	EndsAt   pgtype.Timestamptz
	Active   bool
}

// Transaction is the primary billing record created once per purchase attempt.
type Transaction struct {
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
	CreatedAt      pgtype.Timestamptz
}

// VoucherUsage is one append-only ledger row per applied discount. Kind,
// value and percent_bps are copied from the voucher at time of use so later
// administrative edits cannot rewrite the audit trail.
type VoucherUsage struct {
	ID                 pgtype.UUID
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
	CreatedAt          pgtype.Timestamptz
}

// RateLimitSetting is the database-backed limiter configuration row.
type RateLimitSetting struct {
	Scope         string
	MaxRequests   int32
	WindowSeconds int32
	UpdatedAt     pgtype.Timestamptz
}
