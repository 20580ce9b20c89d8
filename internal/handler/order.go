package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/mintcart/offer-engine/internal/domain/order"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	UserID     string             `json:"userId,omitempty"`
	Items      []orderItemRequest `json:"items"`
	CouponCode string             `json:"couponCode,omitempty"`
}

type orderResponse struct {
	ID         string             `json:"id"`
	Items      []orderItemRequest `json:"items"`
	Subtotal   float64            `json:"subtotal"`
	Discount   float64            `json:"discount"`
	Total      float64            `json:"total"`
	CouponCode string             `json:"couponCode,omitempty"`
}

// PlaceOrder converts the request to a domain request, delegates to the order
// service, and maps the result (or error) back to JSON.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	items := make([]order.Item, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.Item{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := h.orderService.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		UserID:     req.UserID,
		Items:      items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, orderResponse{
		ID:         result.Order.ID,
		Items:      req.Items,
		Subtotal:   result.Order.Subtotal.InexactFloat64(),
		Discount:   result.Order.Discount.InexactFloat64(),
		Total:      result.Order.Total.InexactFloat64(),
		CouponCode: result.Order.CouponCode,
	})
}

// writeOrderError maps checkout errors to HTTP responses. Coupon failures
// reuse the offer error mapping so both endpoints report them identically.
func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var pnfErr *order.ProductNotFoundError
	switch {
	case errors.Is(err, order.ErrEmptyItems):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrInvalidQuantity):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &pnfErr):
		respondError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	default:
		writeOfferError(w, r, err)
	}
}
