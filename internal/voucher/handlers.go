package voucher

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/raisan/backend-ads/internal/common"
	"github.com/raisan/backend-ads/internal/money"
)

// Handler exposes the voucher preview endpoint: a dry-run resolve that prices
// a code against a hypothetical purchase without writing anything.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	// MapError translates resolver sentinels into transport errors. Wired
	// to the transaction package's mapping so preview and purchase reject
	// identically.
	MapError func(error) *common.AppError
}

type previewRequest struct {
	Code       string `json:"code" validate:"required,max=64"`
	PlanID     string `json:"planId" validate:"required,uuid"`
	Category   string `json:"category" validate:"required,oneof=subscription addon"`
	BaseAmount int64  `json:"baseAmount" validate:"required,min=1"`
}

type previewResponse struct {
	Code           string      `json:"code"`
	Kind           string      `json:"kind"`
	DiscountAmount money.Money `json:"discountAmount"`
	Affiliate      bool        `json:"affiliate"`
}

// Preview resolves a code for display purposes.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var payload previewRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}
	}
	planID, err := uuid.Parse(payload.PlanID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid plan id", nil)
		return
	}
	discount, err := h.Svc.Resolve(r.Context(), payload.Code, Purchase{
		Base:     payload.BaseAmount,
		PlanID:   planID,
		Category: payload.Category,
	})
	if err != nil {
		if h.MapError != nil {
			common.JSONAppError(w, h.MapError(err))
			return
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "VOUCHER_REJECTED", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": previewResponse{
		Code:           discount.Code,
		Kind:           discount.Kind,
		DiscountAmount: discount.Amount,
		Affiliate:      discount.AffiliateID != nil,
	}})
}
