package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mintcart/offer-engine/internal/domain/offer"
)

// offerResponse is the public view of an offer. Usage counters and the
// allowed-users set are intentionally not exposed.
type offerResponse struct {
	Code               string  `json:"code"`
	Type               string  `json:"type"`
	Value              float64 `json:"value"`
	MinimumOrderAmount float64 `json:"minimumOrderAmount"`
	MaximumDiscount    float64 `json:"maximumDiscount,omitempty"`
	StartDate          string  `json:"startDate"`
	EndDate            string  `json:"endDate"`
}

func toOfferResponse(o offer.Offer) offerResponse {
	resp := offerResponse{
		Code:               o.Code,
		Type:               string(o.Type),
		Value:              o.Value.InexactFloat64(),
		MinimumOrderAmount: o.MinimumOrderAmount.InexactFloat64(),
		StartDate:          o.StartDate.Format(time.RFC3339),
		EndDate:            o.EndDate.Format(time.RFC3339),
	}
	if o.MaximumDiscount != nil {
		resp.MaximumDiscount = o.MaximumDiscount.InexactFloat64()
	}
	return resp
}

// ListActiveOffers returns all offers currently redeemable.
func (h *Handler) ListActiveOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.ListActive(r.Context(), time.Now())
	if err != nil {
		logError(r, "list active offers", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]offerResponse, len(offers))
	for i, o := range offers {
		out[i] = toOfferResponse(o)
	}
	respondJSON(w, http.StatusOK, out)
}

type validateOfferRequest struct {
	Code        string  `json:"code"`
	OrderAmount float64 `json:"orderAmount"`
	UserID      string  `json:"userId,omitempty"`
}

type validateOfferResponse struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
}

// ValidateOffer runs a pure validation of a code against an order amount and
// quotes the discount without consuming a use.
func (h *Handler) ValidateOffer(w http.ResponseWriter, r *http.Request) {
	var req validateOfferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.OrderAmount < 0 {
		respondError(w, http.StatusBadRequest, "orderAmount must not be negative")
		return
	}

	amount := decimal.NewFromFloat(req.OrderAmount)
	o, err := h.engine.Validate(r.Context(), req.Code, amount, req.UserID)
	if err != nil {
		writeOfferError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, validateOfferResponse{
		Code:     o.Code,
		Discount: offer.CalculateDiscount(o, amount).InexactFloat64(),
	})
}

type createOfferRequest struct {
	Code               string   `json:"code"`
	Type               string   `json:"type"`
	Value              float64  `json:"value"`
	MinimumOrderAmount float64  `json:"minimumOrderAmount"`
	MaximumDiscount    *float64 `json:"maximumDiscount,omitempty"`
	UsageLimit         *int     `json:"usageLimit,omitempty"`
	StartDate          string   `json:"startDate"`
	EndDate            string   `json:"endDate"`
	UserSpecific       bool     `json:"userSpecific"`
	AllowedUsers       []string `json:"allowedUsers,omitempty"`
}

// CreateOffer persists a new offer definition after policy validation.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "startDate must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "endDate must be RFC 3339")
		return
	}

	o := &offer.Offer{
		ID:                 uuid.New().String(),
		Code:               offer.NormalizeCode(req.Code),
		Type:               offer.DiscountType(req.Type),
		Value:              decimal.NewFromFloat(req.Value),
		MinimumOrderAmount: decimal.NewFromFloat(req.MinimumOrderAmount),
		UsageLimit:         req.UsageLimit,
		StartDate:          start,
		EndDate:            end,
		IsActive:           true,
		UserSpecific:       req.UserSpecific,
		AllowedUsers:       req.AllowedUsers,
	}
	if req.MaximumDiscount != nil {
		d := decimal.NewFromFloat(*req.MaximumDiscount)
		o.MaximumDiscount = &d
	}

	if err := offer.ValidateDefinition(o); err != nil {
		var defErr *offer.DefinitionError
		if errors.As(err, &defErr) {
			respondError(w, http.StatusUnprocessableEntity, defErr.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.offers.Create(r.Context(), o); err != nil {
		logError(r, "create offer", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, toOfferResponse(*o))
}

// DeactivateOffer soft-disables an offer. Offers are never hard-deleted.
func (h *Handler) DeactivateOffer(w http.ResponseWriter, r *http.Request) {
	code := offer.NormalizeCode(r.PathValue("code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.offers.Deactivate(r.Context(), code); err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			respondError(w, http.StatusNotFound, offer.ErrOfferNotFound.Error())
			return
		}
		logError(r, "deactivate offer", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type usageRecordResponse struct {
	UserID          string  `json:"userId,omitempty"`
	OrderID         string  `json:"orderId,omitempty"`
	DiscountApplied float64 `json:"discountApplied"`
	AppliedAt       string  `json:"appliedAt"`
}

type usageHistoryResponse struct {
	Code      string                `json:"code"`
	TimesUsed int                   `json:"timesUsed"`
	Records   []usageRecordResponse `json:"records"`
}

// OfferUsage returns the redemption ledger for an offer, oldest first.
// Soft-disabled offers are included: deactivation is the normal end state
// and must not hide history.
func (h *Handler) OfferUsage(w http.ResponseWriter, r *http.Request) {
	code := offer.NormalizeCode(r.PathValue("code"))

	o, err := h.offers.FindByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			respondError(w, http.StatusNotFound, offer.ErrOfferNotFound.Error())
			return
		}
		logError(r, "find offer for usage history", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	recs, err := h.offers.UsageHistory(r.Context(), o.ID)
	if err != nil {
		logError(r, "offer usage history", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := usageHistoryResponse{
		Code:      o.Code,
		TimesUsed: o.TimesUsed,
		Records:   make([]usageRecordResponse, len(recs)),
	}
	for i, rec := range recs {
		out.Records[i] = usageRecordResponse{
			UserID:          rec.UserID,
			OrderID:         rec.OrderID,
			DiscountApplied: rec.DiscountApplied.InexactFloat64(),
			AppliedAt:       rec.AppliedAt.Format(time.RFC3339),
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// writeOfferError maps engine validation errors to HTTP responses. Every
// failure carries a reason except the not-found case, which stays generic.
func writeOfferError(w http.ResponseWriter, r *http.Request, err error) {
	var mErr *offer.MinimumNotMetError
	switch {
	case errors.Is(err, offer.ErrOfferNotFound):
		respondError(w, http.StatusNotFound, offer.ErrOfferNotFound.Error())
	case errors.As(err, &mErr):
		respondError(w, http.StatusUnprocessableEntity, mErr.Error())
	case errors.Is(err, offer.ErrUsageLimitExceeded):
		respondError(w, http.StatusUnprocessableEntity, offer.ErrUsageLimitExceeded.Error())
	case errors.Is(err, offer.ErrUserNotEligible):
		respondError(w, http.StatusUnprocessableEntity, offer.ErrUserNotEligible.Error())
	case errors.Is(err, offer.ErrRedemptionRace):
		respondError(w, http.StatusConflict, offer.ErrRedemptionRace.Error())
	default:
		logError(r, "offer validation", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
