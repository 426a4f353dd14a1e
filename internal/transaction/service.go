package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/raisan/backend-ads/internal/money"
	"github.com/raisan/backend-ads/internal/obs"
	"github.com/raisan/backend-ads/internal/payment"
	"github.com/raisan/backend-ads/internal/pricing"
	"github.com/raisan/backend-ads/internal/settlement"
	"github.com/raisan/backend-ads/internal/store"
	"github.com/raisan/backend-ads/internal/voucher"
)

var (
	// ErrPlanNotFound is returned when the plan or add-on does not exist or
	// is switched off.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrWrongCategory is returned when a subscription purchase names an
	// add-on or vice versa.
	ErrWrongCategory = errors.New("plan category does not match purchase")
	// ErrNotOwner is returned when reading back a transaction the caller
	// did not create.
	ErrNotOwner = errors.New("transaction does not belong to user")
	// ErrNotFound is returned for an unknown transaction identifier.
	ErrNotFound = errors.New("transaction not found")
)

// Querier captures all store operations the assembler performs.
type Querier interface {
	GetPlanByID(ctx context.Context, id pgtype.UUID) (store.Plan, error)
	InsertTransaction(ctx context.Context, arg store.InsertTransactionParams) (store.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (store.Transaction, error)
	IncrementVoucherUsage(ctx context.Context, id pgtype.UUID) (int64, error)
	IncrementAffiliateVoucherUsage(ctx context.Context, id pgtype.UUID) error
	InsertVoucherUsage(ctx context.Context, arg store.InsertVoucherUsageParams) error
	InsertAffiliateReferral(ctx context.Context, userID, affiliateID pgtype.UUID) (bool, error)
}

// Input is one purchase intent. Quantity and DurationMode only apply to
// add-on purchases.
type Input struct {
	PlanID       string
	Category     string
	Quantity     int
	DurationMode string
	VoucherCode  string
}

// Result is the pricing breakdown plus payment instructions handed back to
// the caller once the transaction row is committed.
type Result struct {
	TransactionID  string               `json:"transactionId"`
	BaseAmount     money.Money          `json:"baseAmount"`
	DiscountAmount money.Money          `json:"discountAmount"`
	TaxAmount      money.Money          `json:"taxAmount"`
	SettlementCode int32                `json:"settlementCode"`
	TotalAmount    money.Money          `json:"totalAmount"`
	VoucherCode    *string              `json:"appliedVoucherCode"`
	Currency       string               `json:"currency"`
	PaymentStatus  string               `json:"paymentStatus"`
	StartsAt       time.Time            `json:"effectiveStartDate"`
	EndsAt         time.Time            `json:"effectiveEndDate"`
	ExpiresAt      time.Time            `json:"expiresAt"`
	Instructions   payment.Instructions `json:"paymentInstructions"`
}

// Service assembles transactions: it prices the purchase, applies at most one
// discount, draws a settlement code, persists the row and then performs the
// best-effort bookkeeping that must never block the payment instructions.
type Service struct {
	Q            Querier
	Pricer       *pricing.Service
	Vouchers     *voucher.Service
	Codes        *settlement.Generator
	TaxBps       int
	Currency     string
	SubTTL       time.Duration
	AddonTTL     time.Duration
	InsertTries  int
	Instructions payment.Instructions
	Log          zerolog.Logger
	Now          func() time.Time
	// IDSuffix produces the random tail of a transaction identifier.
	IDSuffix func() string
}

// Create runs one purchase attempt end to end. Everything up to and including
// the transaction insert is fatal on failure; nothing is written before the
// insert, so a rejected purchase leaves no trace.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*Result, error) {
	if s == nil || s.Q == nil || s.Pricer == nil || s.Vouchers == nil || s.Codes == nil {
		return nil, errors.New("transaction service not configured")
	}
	uID, err := store.ToUUID(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	pID, err := store.ToUUID(in.PlanID)
	if err != nil {
		return nil, pricing.ErrInvalidInput
	}

	plan, err := s.Q.GetPlanByID(ctx, pID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanNotFound
	}
	if plan.Category != in.Category {
		return nil, ErrWrongCategory
	}

	var quote pricing.Quote
	switch in.Category {
	case store.CategorySubscription:
		quote = s.Pricer.PriceSubscription(plan)
	case store.CategoryAddon:
		quote, err = s.Pricer.PriceAddon(ctx, uID, plan, in.Quantity, in.DurationMode)
		if err != nil {
			return nil, err
		}
	default:
		return nil, pricing.ErrInvalidInput
	}

	discount, err := s.Vouchers.Resolve(ctx, in.VoucherCode, voucher.Purchase{
		Base:     quote.Base,
		PlanID:   planUUID(plan),
		Category: in.Category,
	})
	if err != nil {
		countVoucherRejection(err)
		return nil, err
	}

	row, summary, err := s.persist(ctx, uID, pID, in.Category, quote, discount)
	if err != nil {
		return nil, err
	}

	// The transaction row is committed. Everything below is bookkeeping:
	// failures are logged and counted, never surfaced, so the caller
	// always receives their payment instructions.
	if discount.Applied() {
		s.recordVoucherUse(ctx, row, discount, summary)
	}
	if discount.AffiliateID != nil {
		s.recordReferral(ctx, uID, *discount.AffiliateID)
	}
	if obs.TransactionsCreatedTotal != nil {
		obs.TransactionsCreatedTotal.WithLabelValues(in.Category).Inc()
	}

	return s.result(row, discount, summary, quote), nil
}

// Get reads a transaction back for its creator.
func (s *Service) Get(ctx context.Context, userID, id string) (store.Transaction, error) {
	uID, err := store.ToUUID(userID)
	if err != nil {
		return store.Transaction{}, fmt.Errorf("invalid user id: %w", err)
	}
	row, err := s.Q.GetTransactionByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Transaction{}, ErrNotFound
		}
		return store.Transaction{}, err
	}
	if !store.UUIDEqual(row.UserID, uID) {
		return store.Transaction{}, ErrNotOwner
	}
	return row, nil
}

// persist draws a settlement code and inserts the row, retrying with a fresh
// code when the partial unique index reports a concurrent claim. The insert
// is the authority; the generator's pre-check only keeps the retry rate low.
func (s *Service) persist(ctx context.Context, uID, pID pgtype.UUID, category string, quote pricing.Quote, discount voucher.Discount) (store.Transaction, pricing.Summary, error) {
	tries := s.InsertTries
	if tries <= 0 {
		tries = 3
	}
	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		code, err := s.Codes.Generate(ctx)
		if err != nil {
			return store.Transaction{}, pricing.Summary{}, err
		}
		summary := pricing.Compute(quote.Base, discount.Amount, s.TaxBps, code)

		row, err := s.Q.InsertTransaction(ctx, s.insertParams(uID, pID, category, quote, discount, summary))
		if err == nil {
			return row, summary, nil
		}
		if !isUniqueViolation(err) {
			return store.Transaction{}, pricing.Summary{}, err
		}
		lastErr = err
		if obs.SettlementCodeRetriesTotal != nil {
			obs.SettlementCodeRetriesTotal.Inc()
		}
		s.Log.Warn().Err(err).Int("attempt", attempt+1).Msg("transaction insert conflict, redrawing")
	}
	return store.Transaction{}, pricing.Summary{}, fmt.Errorf("%w: %v", settlement.ErrCodesExhausted, lastErr)
}

func (s *Service) insertParams(uID, pID pgtype.UUID, category string, quote pricing.Quote, discount voucher.Discount, summary pricing.Summary) store.InsertTransactionParams {
	now := s.now()
	params := store.InsertTransactionParams{
		ID:             s.newID(now),
		UserID:         uID,
		PlanID:         pID,
		Category:       category,
		BaseAmount:     summary.Base,
		TaxAmount:      summary.Tax,
		SettlementCode: summary.SettlementCode,
		TotalAmount:    summary.Total,
		PaymentStatus:  store.PaymentStatusPending,
		StartsAt:       pgtype.Timestamptz{Time: quote.StartsAt, Valid: true},
		EndsAt:         pgtype.Timestamptz{Time: quote.EndsAt, Valid: true},
		ExpiresAt:      pgtype.Timestamptz{Time: now.Add(s.ttl(category)), Valid: true},
	}
	if discount.Applied() {
		params.DiscountAmount = pgtype.Int8{Int64: summary.Discount, Valid: true}
		params.VoucherCode = pgtype.Text{String: discount.Code, Valid: true}
	}
	return params
}

func (s *Service) recordVoucherUse(ctx context.Context, row store.Transaction, discount voucher.Discount, summary pricing.Summary) {
	if discount.VoucherID.Valid {
		affected, err := s.Q.IncrementVoucherUsage(ctx, discount.VoucherID)
		if err != nil {
			s.bookkeepingFailure("voucher_increment", row.ID, err)
		} else if affected == 0 {
			// The usage cap was claimed between validation and
			// settlement. The purchase already committed with the
			// discount; record the overshoot instead of clawing back.
			s.bookkeepingFailure("voucher_cap_exceeded", row.ID, errors.New("usage limit reached after validation"))
		}
	}
	if discount.AffiliateVoucherID.Valid {
		if err := s.Q.IncrementAffiliateVoucherUsage(ctx, discount.AffiliateVoucherID); err != nil {
			s.bookkeepingFailure("affiliate_increment", row.ID, err)
		}
	}
	params := store.InsertVoucherUsageParams{
		VoucherID:          discount.VoucherID,
		AffiliateVoucherID: discount.AffiliateVoucherID,
		TransactionID:      row.ID,
		Kind:               discount.Kind,
		Value:              discount.Value,
		DiscountAmount:     summary.Discount,
		PlanID:             row.PlanID,
		BaseAmount:         summary.Base,
		// TotalBefore is the committed total plus the discount, so the pair
		// always brackets exactly the amount this voucher saved. It is not
		// the hypothetical undiscounted total, which would re-tax the base.
		TotalBefore: summary.Total + summary.Discount,
		TotalAfter:  summary.Total,
	}
	if discount.PercentBps != nil {
		params.PercentBps = pgtype.Int4{Int32: *discount.PercentBps, Valid: true}
	}
	err := s.Q.InsertVoucherUsage(ctx, params)
	if err != nil {
		s.bookkeepingFailure("voucher_ledger", row.ID, err)
	}
}

func (s *Service) recordReferral(ctx context.Context, uID pgtype.UUID, affiliateID [16]byte) {
	affID := pgtype.UUID{Bytes: affiliateID, Valid: true}
	if _, err := s.Q.InsertAffiliateReferral(ctx, uID, affID); err != nil {
		s.bookkeepingFailure("affiliate_referral", store.UUIDString(uID), err)
	}
}

func (s *Service) bookkeepingFailure(step, ref string, err error) {
	if obs.BookkeepingFailuresTotal != nil {
		obs.BookkeepingFailuresTotal.WithLabelValues(step).Inc()
	}
	s.Log.Error().Err(err).Str("step", step).Str("ref", ref).Msg("bookkeeping failed after commit")
}

func (s *Service) result(row store.Transaction, discount voucher.Discount, summary pricing.Summary, quote pricing.Quote) *Result {
	res := &Result{
		TransactionID:  row.ID,
		BaseAmount:     summary.Base,
		DiscountAmount: summary.Discount,
		TaxAmount:      summary.Tax,
		SettlementCode: summary.SettlementCode,
		TotalAmount:    summary.Total,
		Currency:       s.Currency,
		PaymentStatus:  row.PaymentStatus,
		StartsAt:       quote.StartsAt,
		EndsAt:         quote.EndsAt,
		ExpiresAt:      row.ExpiresAt.Time,
		Instructions:   s.Instructions,
	}
	if discount.Applied() {
		code := discount.Code
		res.VoucherCode = &code
	}
	return res
}

const idAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// newID builds a human-legible transaction identifier. The primary key is the
// uniqueness authority; the date prefix only helps operators eyeball it.
func (s *Service) newID(now time.Time) string {
	suffix := s.suffix()
	return fmt.Sprintf("TRX-%s-%s", now.Format("20060102"), suffix)
}

func (s *Service) suffix() string {
	if s.IDSuffix != nil {
		return s.IDSuffix()
	}
	b := make([]byte, 8)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}

func (s *Service) ttl(category string) time.Duration {
	if category == store.CategoryAddon {
		if s.AddonTTL > 0 {
			return s.AddonTTL
		}
		return 24 * time.Hour
	}
	if s.SubTTL > 0 {
		return s.SubTTL
	}
	return 7 * 24 * time.Hour
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func planUUID(plan store.Plan) (id [16]byte) {
	if plan.ID.Valid {
		id = plan.ID.Bytes
	}
	return id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func countVoucherRejection(err error) {
	if obs.VoucherRejectionsTotal == nil {
		return
	}
	reason := ""
	switch {
	case errors.Is(err, voucher.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, voucher.ErrInactive):
		reason = "inactive"
	case errors.Is(err, voucher.ErrExpired):
		reason = "expired"
	case errors.Is(err, voucher.ErrNotYetValid):
		reason = "not_yet_valid"
	case errors.Is(err, voucher.ErrPlanMismatch):
		reason = "plan_mismatch"
	case errors.Is(err, voucher.ErrBelowMinimum):
		reason = "below_minimum"
	case errors.Is(err, voucher.ErrWrongType):
		reason = "wrong_type"
	case errors.Is(err, voucher.ErrExhausted):
		reason = "exhausted"
	}
	if reason != "" {
		obs.VoucherRejectionsTotal.WithLabelValues(reason).Inc()
	}
}
