// Package handler exposes the offer engine and checkout flow over a thin
// JSON-over-HTTP surface. Handlers only parse requests, delegate to the
// domain, and map domain errors to status codes.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mintcart/offer-engine/internal/domain/offer"
	"github.com/mintcart/offer-engine/internal/domain/order"
	"github.com/mintcart/offer-engine/internal/domain/product"
)

// OfferStore is the administrative slice of offer persistence the HTTP
// surface needs on top of the engine itself.
type OfferStore interface {
	ListActive(ctx context.Context, now time.Time) ([]offer.Offer, error)
	// FindByCode ignores the active flag so soft-disabled offers remain
	// inspectable through the admin surface.
	FindByCode(ctx context.Context, code string) (*offer.Offer, error)
	Create(ctx context.Context, o *offer.Offer) error
	Deactivate(ctx context.Context, code string) error
	UsageHistory(ctx context.Context, offerID string) ([]offer.UsageRecord, error)
}

// Handler wires the domain services to HTTP routes.
type Handler struct {
	engine       *offer.Engine
	offers       OfferStore
	products     product.Repository
	orderService *order.Service
}

// New constructs a Handler with the required domain dependencies.
func New(engine *offer.Engine, offers OfferStore, products product.Repository, orderService *order.Service) *Handler {
	return &Handler{
		engine:       engine,
		offers:       offers,
		products:     products,
		orderService: orderService,
	}
}

// Register mounts all API routes on the mux. Mutating routes are wrapped
// with the secure middleware; pass nil to leave them open (tests only).
func (h *Handler) Register(mux *http.ServeMux, secure func(http.Handler) http.Handler) {
	if secure == nil {
		secure = func(next http.Handler) http.Handler { return next }
	}

	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/offers/active", h.ListActiveOffers)
	mux.HandleFunc("POST /api/offers/validate", h.ValidateOffer)
	mux.Handle("POST /api/order", secure(http.HandlerFunc(h.PlaceOrder)))
	mux.Handle("POST /api/offers", secure(http.HandlerFunc(h.CreateOffer)))
	mux.Handle("POST /api/offers/{code}/deactivate", secure(http.HandlerFunc(h.DeactivateOffer)))
	mux.Handle("GET /api/offers/{code}/usage", secure(http.HandlerFunc(h.OfferUsage)))
}

// errorResponse is the uniform error body for all endpoints.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func logError(r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
}
