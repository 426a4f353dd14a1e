package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/raisan/backend-ads/internal/payment"
	"github.com/raisan/backend-ads/internal/pricing"
	"github.com/raisan/backend-ads/internal/settlement"
	"github.com/raisan/backend-ads/internal/store"
	"github.com/raisan/backend-ads/internal/voucher"
)

const (
	testUser = "99999999-9999-9999-9999-999999999999"
	testPlan = "11111111-1111-1111-1111-111111111111"
)

type stubStore struct {
	plan    store.Plan
	planErr error

	affiliate    store.AffiliateVoucher
	affiliateErr error
	generic      store.Voucher
	genericErr   error

	sub    store.Subscription
	subErr error

	codeInUse map[int32]bool

	insertErrs  []error
	inserts     []store.InsertTransactionParams
	incremented []pgtype.UUID
	incrementRe int64
	incErr      error
	affIncs     []pgtype.UUID
	ledger      []store.InsertVoucherUsageParams
	ledgerErr   error
	referrals   [][2]pgtype.UUID
	referralErr error
}

func (s *stubStore) GetPlanByID(ctx context.Context, id pgtype.UUID) (store.Plan, error) {
	if s.planErr != nil {
		return store.Plan{}, s.planErr
	}
	return s.plan, nil
}

func (s *stubStore) GetAffiliateVoucherByCode(ctx context.Context, code string) (store.AffiliateVoucher, error) {
	return s.affiliate, s.affiliateErr
}

func (s *stubStore) GetVoucherByCode(ctx context.Context, code string) (store.Voucher, error) {
	return s.generic, s.genericErr
}

func (s *stubStore) GetActiveSubscriptionByUser(ctx context.Context, userID pgtype.UUID) (store.Subscription, error) {
	return s.sub, s.subErr
}

func (s *stubStore) SettlementCodeInUse(ctx context.Context, code int32) (bool, error) {
	return s.codeInUse[code], nil
}

func (s *stubStore) InsertTransaction(ctx context.Context, arg store.InsertTransactionParams) (store.Transaction, error) {
	s.inserts = append(s.inserts, arg)
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return store.Transaction{}, err
		}
	}
	return store.Transaction{
		ID:             arg.ID,
		UserID:         arg.UserID,
		PlanID:         arg.PlanID,
		Category:       arg.Category,
		BaseAmount:     arg.BaseAmount,
		DiscountAmount: arg.DiscountAmount,
		TaxAmount:      arg.TaxAmount,
		SettlementCode: arg.SettlementCode,
		TotalAmount:    arg.TotalAmount,
		VoucherCode:    arg.VoucherCode,
		PaymentStatus:  arg.PaymentStatus,
		StartsAt:       arg.StartsAt,
		EndsAt:         arg.EndsAt,
		ExpiresAt:      arg.ExpiresAt,
	}, nil
}

func (s *stubStore) GetTransactionByID(ctx context.Context, id string) (store.Transaction, error) {
	return store.Transaction{}, pgx.ErrNoRows
}

func (s *stubStore) IncrementVoucherUsage(ctx context.Context, id pgtype.UUID) (int64, error) {
	s.incremented = append(s.incremented, id)
	if s.incErr != nil {
		return 0, s.incErr
	}
	return s.incrementRe, nil
}

func (s *stubStore) IncrementAffiliateVoucherUsage(ctx context.Context, id pgtype.UUID) error {
	s.affIncs = append(s.affIncs, id)
	return nil
}

func (s *stubStore) InsertVoucherUsage(ctx context.Context, arg store.InsertVoucherUsageParams) error {
	s.ledger = append(s.ledger, arg)
	return s.ledgerErr
}

func (s *stubStore) InsertAffiliateReferral(ctx context.Context, userID, affiliateID pgtype.UUID) (bool, error) {
	s.referrals = append(s.referrals, [2]pgtype.UUID{userID, affiliateID})
	if s.referralErr != nil {
		return false, s.referralErr
	}
	return true, nil
}

func settlementConflict() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "transactions_settlement_code_pending_idx"}
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func activePlan(category string, price, rate int64) store.Plan {
	return store.Plan{
		ID:          pgtype.UUID{Bytes: uuid.MustParse(testPlan), Valid: true},
		Name:        "Pro",
		Category:    category,
		Price:       price,
		MonthlyRate: rate,
		Active:      true,
	}
}

func newTestService(db *stubStore) *Service {
	return &Service{
		Q:            db,
		Pricer:       &pricing.Service{Q: db, Now: fixedNow},
		Vouchers:     &voucher.Service{Q: db, Now: fixedNow},
		Codes:        &settlement.Generator{Q: db, Min: 100, Max: 999},
		TaxBps:       1100,
		Currency:     "IDR",
		SubTTL:       7 * 24 * time.Hour,
		AddonTTL:     24 * time.Hour,
		InsertTries:  3,
		Instructions: payment.ManualTransfer("BCA", "1234567890", "PT Example"),
		Log:          zerolog.Nop(),
		Now:          fixedNow,
		IDSuffix:     func() string { return "TESTSUFX" },
	}
}

func TestCreateSubscriptionWithGenericVoucher(t *testing.T) {
	voucherID := pgtype.UUID{Bytes: uuid.MustParse("cccccccc-0000-0000-0000-000000000001"), Valid: true}
	db := &stubStore{
		plan:         activePlan(store.CategorySubscription, 100_000, 0),
		affiliateErr: pgx.ErrNoRows,
		generic: store.Voucher{
			ID:         voucherID,
			Code:       "HEMAT10",
			Kind:       store.DiscountKindPercent,
			PercentBps: pgtype.Int4{Int32: 1000, Valid: true},
			Active:     true,
			AppliesTo:  store.CategoryAll,
		},
		incrementRe: 1,
	}
	svc := newTestService(db)

	out, err := svc.Create(context.Background(), testUser, Input{
		PlanID:      testPlan,
		Category:    store.CategorySubscription,
		VoucherCode: "hemat10",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.BaseAmount != 100_000 || out.DiscountAmount != 10_000 || out.TaxAmount != 9900 {
		t.Fatalf("breakdown wrong: %+v", out)
	}
	if out.TotalAmount != 99_900+int64(out.SettlementCode) {
		t.Fatalf("total must be taxable+tax+code, got %d (code %d)", out.TotalAmount, out.SettlementCode)
	}
	if out.SettlementCode < 100 || out.SettlementCode > 999 {
		t.Fatalf("settlement code out of range: %d", out.SettlementCode)
	}
	if out.PaymentStatus != store.PaymentStatusPending {
		t.Fatalf("status: got %s", out.PaymentStatus)
	}
	if out.TransactionID != "TRX-20250601-TESTSUFX" {
		t.Fatalf("id: got %s", out.TransactionID)
	}
	if out.VoucherCode == nil || *out.VoucherCode != "HEMAT10" {
		t.Fatalf("voucher code: got %v", out.VoucherCode)
	}
	if out.ExpiresAt != fixedNow().Add(7*24*time.Hour) {
		t.Fatalf("subscription expiry horizon wrong: %v", out.ExpiresAt)
	}
	if out.Instructions.BankName != "BCA" {
		t.Fatalf("payment instructions missing: %+v", out.Instructions)
	}

	// Bookkeeping ran: usage incremented and one ledger row appended.
	if len(db.incremented) != 1 || !store.UUIDEqual(db.incremented[0], voucherID) {
		t.Fatalf("expected one usage increment, got %v", db.incremented)
	}
	if len(db.ledger) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(db.ledger))
	}
	if db.ledger[0].DiscountAmount != 10_000 || db.ledger[0].TotalAfter != out.TotalAmount {
		t.Fatalf("ledger row wrong: %+v", db.ledger[0])
	}
	if len(db.referrals) != 0 {
		t.Fatal("generic voucher must not create a referral")
	}
}

func TestCreateLedgerRecordsPercentRate(t *testing.T) {
	// Percent vouchers keep their rate in percent_bps, not value. The audit
	// row must copy that rate so editing the voucher later cannot change
	// what the ledger says was applied.
	db := &stubStore{
		plan:         activePlan(store.CategorySubscription, 100_000, 0),
		affiliateErr: pgx.ErrNoRows,
		generic: store.Voucher{
			ID:         pgtype.UUID{Bytes: uuid.MustParse("cccccccc-0000-0000-0000-000000000003"), Valid: true},
			Code:       "DISKON10",
			Kind:       store.DiscountKindPercent,
			PercentBps: pgtype.Int4{Int32: 1000, Valid: true},
			Active:     true,
			AppliesTo:  store.CategoryAll,
		},
		incrementRe: 1,
	}
	svc := newTestService(db)

	out, err := svc.Create(context.Background(), testUser, Input{
		PlanID:      testPlan,
		Category:    store.CategorySubscription,
		VoucherCode: "DISKON10",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(db.ledger) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(db.ledger))
	}
	row := db.ledger[0]
	if row.Kind != store.DiscountKindPercent {
		t.Fatalf("kind: got %q", row.Kind)
	}
	if !row.PercentBps.Valid || row.PercentBps.Int32 != 1000 {
		t.Fatalf("ledger must record the applied rate, got %+v", row.PercentBps)
	}
	if row.DiscountAmount != 10_000 {
		t.Fatalf("discount: got %d", row.DiscountAmount)
	}
	// The before/after pair brackets exactly the discounted amount.
	if row.TotalBefore-row.TotalAfter != row.DiscountAmount {
		t.Fatalf("before/after must differ by the discount: %+v", row)
	}
	if row.TotalAfter != out.TotalAmount {
		t.Fatalf("total after: got %d, want %d", row.TotalAfter, out.TotalAmount)
	}
}

func TestCreateLedgerFixedVoucherHasNoRate(t *testing.T) {
	db := &stubStore{
		plan:         activePlan(store.CategorySubscription, 100_000, 0),
		affiliateErr: pgx.ErrNoRows,
		generic: store.Voucher{
			ID:        pgtype.UUID{Bytes: uuid.MustParse("cccccccc-0000-0000-0000-000000000004"), Valid: true},
			Code:      "POTONG25",
			Kind:      store.DiscountKindFixedAmount,
			Value:     25_000,
			Active:    true,
			AppliesTo: store.CategoryAll,
		},
		incrementRe: 1,
	}
	svc := newTestService(db)

	if _, err := svc.Create(context.Background(), testUser, Input{
		PlanID:      testPlan,
		Category:    store.CategorySubscription,
		VoucherCode: "POTONG25",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := db.ledger[0]
	if row.Value != 25_000 {
		t.Fatalf("fixed value must be copied, got %d", row.Value)
	}
	if row.PercentBps.Valid {
		t.Fatalf("fixed voucher must not carry a rate, got %+v", row.PercentBps)
	}
}

func TestCreateRejectedVoucherWritesNothing(t *testing.T) {
	db := &stubStore{
		plan:         activePlan(store.CategorySubscription, 100_000, 0),
		affiliateErr: pgx.ErrNoRows,
		genericErr:   pgx.ErrNoRows,
	}
	svc := newTestService(db)

	_, err := svc.Create(context.Background(), testUser, Input{
		PlanID:      testPlan,
		Category:    store.CategorySubscription,
		VoucherCode: "GHOST",
	})
	if !errors.Is(err, voucher.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(db.inserts) != 0 {
		t.Fatal("rejected purchase must not insert a transaction")
	}
	if len(db.incremented) != 0 || len(db.ledger) != 0 || len(db.referrals) != 0 {
		t.Fatal("rejected purchase must not touch bookkeeping")
	}
}

func TestCreateInsertFailureIsFatal(t *testing.T) {
	db := &stubStore{
		plan:       activePlan(store.CategorySubscription, 100_000, 0),
		insertErrs: []error{errors.New("connection lost")},
	}
	svc := newTestService(db)

	_, err := svc.Create(context.Background(), testUser, Input{
		PlanID:   testPlan,
		Category: store.CategorySubscription,
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(db.inserts) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(db.inserts))
	}
	if len(db.incremented) != 0 || len(db.ledger) != 0 {
		t.Fatal("no bookkeeping may run when the primary write fails")
	}
}

func TestCreateRetriesSettlementConflict(t *testing.T) {
	db := &stubStore{
		plan:       activePlan(store.CategorySubscription, 100_000, 0),
		insertErrs: []error{settlementConflict(), nil},
	}
	svc := newTestService(db)

	out, err := svc.Create(context.Background(), testUser, Input{
		PlanID:   testPlan,
		Category: store.CategorySubscription,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(db.inserts) != 2 {
		t.Fatalf("expected a retry after the conflict, got %d inserts", len(db.inserts))
	}
	// The retried insert recomputed the total with its fresh code.
	if out.TotalAmount != 100_000+11_000+int64(out.SettlementCode) {
		t.Fatalf("retried total inconsistent: %+v", out)
	}
}

func TestCreateGivesUpAfterRepeatedConflicts(t *testing.T) {
	db := &stubStore{
		plan:       activePlan(store.CategorySubscription, 100_000, 0),
		insertErrs: []error{settlementConflict(), settlementConflict(), settlementConflict()},
	}
	svc := newTestService(db)

	_, err := svc.Create(context.Background(), testUser, Input{
		PlanID:   testPlan,
		Category: store.CategorySubscription,
	})
	if !errors.Is(err, settlement.ErrCodesExhausted) {
		t.Fatalf("expected ErrCodesExhausted, got %v", err)
	}
	if len(db.inserts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(db.inserts))
	}
}

func TestCreateBookkeepingFailureDoesNotSurface(t *testing.T) {
	db := &stubStore{
		plan:         activePlan(store.CategorySubscription, 100_000, 0),
		affiliateErr: pgx.ErrNoRows,
		generic: store.Voucher{
			ID:        pgtype.UUID{Bytes: uuid.MustParse("cccccccc-0000-0000-0000-000000000002"), Valid: true},
			Code:      "HEMAT5",
			Kind:      store.DiscountKindFixedAmount,
			Value:     5000,
			Active:    true,
			AppliesTo: store.CategoryAll,
		},
		incErr:    errors.New("deadlock"),
		ledgerErr: errors.New("disk full"),
	}
	svc := newTestService(db)

	out, err := svc.Create(context.Background(), testUser, Input{
		PlanID:      testPlan,
		Category:    store.CategorySubscription,
		VoucherCode: "HEMAT5",
	})
	if err != nil {
		t.Fatalf("bookkeeping failures must not surface, got %v", err)
	}
	if out.DiscountAmount != 5000 {
		t.Fatalf("discount: got %d", out.DiscountAmount)
	}
	if len(db.inserts) != 1 {
		t.Fatalf("expected the transaction to commit once, got %d", len(db.inserts))
	}
}

func TestCreateAffiliateVoucherRecordsReferral(t *testing.T) {
	affiliateID := pgtype.UUID{Bytes: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), Valid: true}
	affVoucherID := pgtype.UUID{Bytes: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001"), Valid: true}
	db := &stubStore{
		plan: activePlan(store.CategorySubscription, 100_000, 0),
		affiliate: store.AffiliateVoucher{
			ID:          affVoucherID,
			Code:        "PARTNER10",
			Kind:        store.DiscountKindPercent,
			PercentBps:  pgtype.Int4{Int32: 1000, Valid: true},
			AffiliateID: affiliateID,
			Active:      true,
		},
	}
	svc := newTestService(db)

	out, err := svc.Create(context.Background(), testUser, Input{
		PlanID:      testPlan,
		Category:    store.CategorySubscription,
		VoucherCode: "PARTNER10",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.DiscountAmount != 10_000 {
		t.Fatalf("discount: got %d", out.DiscountAmount)
	}
	if len(db.affIncs) != 1 || !store.UUIDEqual(db.affIncs[0], affVoucherID) {
		t.Fatalf("expected affiliate usage increment, got %v", db.affIncs)
	}
	if len(db.referrals) != 1 || !store.UUIDEqual(db.referrals[0][1], affiliateID) {
		t.Fatalf("expected referral for affiliate, got %v", db.referrals)
	}
	if len(db.incremented) != 0 {
		t.Fatal("affiliate purchase must not touch the generic voucher counter")
	}
}

func TestCreateAddonProRata(t *testing.T) {
	db := &stubStore{
		plan: activePlan(store.CategoryAddon, 0, 99_000),
		sub: store.Subscription{
			EndsAt: pgtype.Timestamptz{Time: fixedNow().AddDate(0, 0, 15), Valid: true},
			Active: true,
		},
	}
	svc := newTestService(db)

	out, err := svc.Create(context.Background(), testUser, Input{
		PlanID:       testPlan,
		Category:     store.CategoryAddon,
		Quantity:     1,
		DurationMode: pricing.DurationFollowingSubscription,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.BaseAmount != 49_500 {
		t.Fatalf("pro-rata base: got %d, want 49500", out.BaseAmount)
	}
	if !out.EndsAt.Equal(fixedNow().AddDate(0, 0, 15)) {
		t.Fatalf("effective end must follow the subscription: %v", out.EndsAt)
	}
	if out.ExpiresAt != fixedNow().Add(24*time.Hour) {
		t.Fatalf("add-on expiry horizon wrong: %v", out.ExpiresAt)
	}
}

func TestCreatePlanCategoryMismatch(t *testing.T) {
	db := &stubStore{plan: activePlan(store.CategoryAddon, 0, 99_000)}
	svc := newTestService(db)

	_, err := svc.Create(context.Background(), testUser, Input{
		PlanID:   testPlan,
		Category: store.CategorySubscription,
	})
	if !errors.Is(err, ErrWrongCategory) {
		t.Fatalf("expected ErrWrongCategory, got %v", err)
	}
	if len(db.inserts) != 0 {
		t.Fatal("mismatch must not write")
	}
}

func TestCreateInactivePlan(t *testing.T) {
	plan := activePlan(store.CategorySubscription, 100_000, 0)
	plan.Active = false
	svc := newTestService(&stubStore{plan: plan})

	_, err := svc.Create(context.Background(), testUser, Input{
		PlanID:   testPlan,
		Category: store.CategorySubscription,
	})
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}
