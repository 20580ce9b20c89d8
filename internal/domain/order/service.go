package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mintcart/offer-engine/internal/domain/offer"
	"github.com/mintcart/offer-engine/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// OfferEngine is the slice of the offer engine the checkout flow needs.
type OfferEngine interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal, userID string) (*offer.Offer, error)
	Apply(ctx context.Context, o *offer.Offer, userID, orderID string, discountApplied decimal.Decimal) (*offer.Offer, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID     string
	Items      []Item
	CouponCode string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
}

// Service encapsulates order placement business logic, including coupon
// application through the offer engine.
type Service struct {
	products product.Repository
	offers   OfferEngine
	orders   Repository
}

// NewService creates an order Service with the required domain dependencies.
func NewService(products product.Repository, offers OfferEngine, orders Repository) *Service {
	return &Service{
		products: products,
		offers:   offers,
		orders:   orders,
	}
}

// PlaceOrder validates items, fetches products in a single batch, computes the
// subtotal, runs the coupon through the offer engine, persists the order, and
// records the redemption.
//
// The validate-then-apply sequence is retried exactly once when the
// redemption loses a race for the offer's last remaining use; the retry may
// legitimately fail with a different validation error.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, errors.Wrapf(ErrInvalidQuantity, "product %s", item.ProductID)
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	products := make([]product.Product, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	orderID := uuid.New().String()

	discount := decimal.Zero
	if req.CouponCode != "" {
		discount, err = s.redeemCoupon(ctx, req, orderID, subtotal)
		if err != nil {
			return nil, err
		}
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:         orderID,
		UserID:     req.UserID,
		Items:      req.Items,
		Subtotal:   subtotal.Round(2),
		Discount:   discount.Round(2),
		Total:      total.Round(2),
		CouponCode: offer.NormalizeCode(req.CouponCode),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrapf(err, "create order %s", o.ID)
	}

	return &PlaceOrderResult{Order: o, Products: products}, nil
}

// redeemCoupon runs the full validate-calculate-apply sequence against the
// offer engine, retrying once on a redemption race.
func (s *Service) redeemCoupon(ctx context.Context, req PlaceOrderRequest, orderID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.offers.Validate(ctx, req.CouponCode, subtotal, req.UserID)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "validate coupon")
		}

		discount := offer.CalculateDiscount(o, subtotal)

		if _, err := s.offers.Apply(ctx, o, req.UserID, orderID, discount); err != nil {
			if errors.Is(err, offer.ErrRedemptionRace) && attempt == 0 {
				continue
			}
			return decimal.Zero, errors.Wrap(err, "apply coupon")
		}

		return discount, nil
	}
}
