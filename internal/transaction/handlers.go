package transaction

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/raisan/backend-ads/internal/common"
	"github.com/raisan/backend-ads/internal/pricing"
	"github.com/raisan/backend-ads/internal/settlement"
	"github.com/raisan/backend-ads/internal/store"
	"github.com/raisan/backend-ads/internal/voucher"
)

// Handler exposes the purchase endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type subscriptionRequest struct {
	PlanID      string `json:"planId" validate:"required,uuid"`
	VoucherCode string `json:"voucherCode" validate:"omitempty,max=64"`
}

type addonRequest struct {
	AddonID      string `json:"addonId" validate:"required,uuid"`
	Quantity     int    `json:"quantity" validate:"required,min=1"`
	DurationMode string `json:"durationMode" validate:"required,oneof=fixed_30_days following_subscription"`
	VoucherCode  string `json:"voucherCode" validate:"omitempty,max=64"`
}

// PurchaseSubscription creates a pending subscription transaction.
func (h *Handler) PurchaseSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	out, err := h.Svc.Create(r.Context(), userID, Input{
		PlanID:      payload.PlanID,
		Category:    store.CategorySubscription,
		VoucherCode: payload.VoucherCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// PurchaseAddon creates a pending add-on transaction.
func (h *Handler) PurchaseAddon(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload addonRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	out, err := h.Svc.Create(r.Context(), userID, Input{
		PlanID:       payload.AddonID,
		Category:     store.CategoryAddon,
		Quantity:     payload.Quantity,
		DurationMode: payload.DurationMode,
		VoucherCode:  payload.VoucherCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Get returns a transaction to the user who created it.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	row, err := h.Svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(row)})
}

type transactionView struct {
	TransactionID  string  `json:"transactionId"`
	Category       string  `json:"category"`
	BaseAmount     int64   `json:"baseAmount"`
	DiscountAmount int64   `json:"discountAmount"`
	TaxAmount      int64   `json:"taxAmount"`
	SettlementCode int32   `json:"settlementCode"`
	TotalAmount    int64   `json:"totalAmount"`
	VoucherCode    *string `json:"appliedVoucherCode"`
	PaymentStatus  string  `json:"paymentStatus"`
	StartsAt       string  `json:"effectiveStartDate"`
	EndsAt         string  `json:"effectiveEndDate"`
	ExpiresAt      string  `json:"expiresAt"`
}

func viewOf(row store.Transaction) transactionView {
	view := transactionView{
		TransactionID:  row.ID,
		Category:       row.Category,
		BaseAmount:     row.BaseAmount,
		TaxAmount:      row.TaxAmount,
		SettlementCode: row.SettlementCode,
		TotalAmount:    row.TotalAmount,
		PaymentStatus:  row.PaymentStatus,
	}
	if row.DiscountAmount.Valid {
		view.DiscountAmount = row.DiscountAmount.Int64
	}
	if row.VoucherCode.Valid {
		code := row.VoucherCode.String
		view.VoucherCode = &code
	}
	if row.StartsAt.Valid {
		view.StartsAt = row.StartsAt.Time.Format("2006-01-02T15:04:05Z07:00")
	}
	if row.EndsAt.Valid {
		view.EndsAt = row.EndsAt.Time.Format("2006-01-02T15:04:05Z07:00")
	}
	if row.ExpiresAt.Valid {
		view.ExpiresAt = row.ExpiresAt.Time.Format("2006-01-02T15:04:05Z07:00")
	}
	return view
}

func (h *Handler) validate(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSONAppError(w, appErr)
		return
	}
	common.JSONAppError(w, MapError(err))
}

// MapError translates engine sentinels into transport-level AppErrors.
func MapError(err error) *common.AppError {
	switch {
	case errors.Is(err, pricing.ErrInvalidInput):
		return common.NewAppError("INVALID_INPUT", "invalid purchase input", http.StatusBadRequest, err)
	case errors.Is(err, ErrPlanNotFound):
		return common.NewAppError("PLAN_NOT_FOUND", "plan not found", http.StatusNotFound, err)
	case errors.Is(err, ErrWrongCategory):
		return common.NewAppError("INVALID_INPUT", "plan category does not match purchase", http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("TRANSACTION_NOT_FOUND", "transaction not found", http.StatusNotFound, err)
	case errors.Is(err, ErrNotOwner):
		return common.NewAppError("FORBIDDEN", "transaction does not belong to user", http.StatusForbidden, err)
	case errors.Is(err, pricing.ErrNoActiveSubscription):
		return common.NewAppError("SUBSCRIPTION_REQUIRED", "no active subscription", http.StatusUnprocessableEntity, err)
	case errors.Is(err, pricing.ErrSubscriptionEndingSoon):
		return common.NewAppError("SUBSCRIPTION_ENDING_SOON", "subscription expiring too soon for this mode", http.StatusUnprocessableEntity, err)
	case errors.Is(err, settlement.ErrCodesExhausted):
		return common.NewAppError("SETTLEMENT_CODE_EXHAUSTED", "no settlement code available, retry later", http.StatusConflict, err)
	case errors.Is(err, voucher.ErrNotFound):
		return common.NewAppError("VOUCHER_NOT_FOUND", "voucher not found", http.StatusUnprocessableEntity, err)
	case errors.Is(err, voucher.ErrInactive):
		return common.NewAppError("VOUCHER_INACTIVE", "voucher not active", http.StatusUnprocessableEntity, err)
	case errors.Is(err, voucher.ErrExpired):
		return common.NewAppError("VOUCHER_EXPIRED", "voucher expired", http.StatusUnprocessableEntity, err)
	case errors.Is(err, voucher.ErrNotYetValid):
		return common.NewAppError("VOUCHER_NOT_YET_VALID", "voucher not yet valid", http.StatusUnprocessableEntity, err)
	case errors.Is(err, voucher.ErrPlanMismatch):
		return common.NewAppError("VOUCHER_PLAN_MISMATCH", "voucher not applicable to this plan", http.StatusUnprocessableEntity, err)
	case errors.Is(err, voucher.ErrBelowMinimum):
		return common.NewAppError("VOUCHER_BELOW_MINIMUM", "voucher minimum purchase not met", http.StatusUnprocessableEntity, err)
	case errors.Is(err, voucher.ErrWrongType):
		return common.NewAppError("VOUCHER_WRONG_TYPE", "voucher not applicable to this purchase type", http.StatusUnprocessableEntity, err)
	case errors.Is(err, voucher.ErrExhausted):
		return common.NewAppError("VOUCHER_EXHAUSTED", "voucher usage limit reached", http.StatusUnprocessableEntity, err)
	default:
		return common.NewAppError("PERSISTENCE_FAILURE", "could not complete purchase", http.StatusInternalServerError, err)
	}
}
