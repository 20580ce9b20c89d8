package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintcart/offer-engine/internal/domain/offer"
	"github.com/mintcart/offer-engine/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockEngine struct {
	offer *offer.Offer

	validateErrs []error // consumed per call, nil entry = success
	applyErrs    []error

	validateCalls int
	applyCalls    int
	lastOrderID   string
	lastDiscount  decimal.Decimal
}

func (m *mockEngine) Validate(_ context.Context, _ string, _ decimal.Decimal, _ string) (*offer.Offer, error) {
	call := m.validateCalls
	m.validateCalls++
	if call < len(m.validateErrs) && m.validateErrs[call] != nil {
		return nil, m.validateErrs[call]
	}
	return m.offer, nil
}

func (m *mockEngine) Apply(_ context.Context, o *offer.Offer, _, orderID string, discount decimal.Decimal) (*offer.Offer, error) {
	call := m.applyCalls
	m.applyCalls++
	m.lastOrderID = orderID
	m.lastDiscount = discount
	if call < len(m.applyErrs) && m.applyErrs[call] != nil {
		return nil, m.applyErrs[call]
	}
	return o, nil
}

type mockOrderRepo struct {
	lastOrder *Order
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.lastOrder = o
	return m.err
}

// --- Helpers ---

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func tenPercentOffer() *offer.Offer {
	return &offer.Offer{
		ID:    "off-1",
		Code:  "WELCOME10",
		Type:  offer.DiscountPercentage,
		Value: dec("10"),
	}
}

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := NewService(newProductRepo(), &mockEngine{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("10")}
	svc := NewService(newProductRepo(p1), &mockEngine{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []Item{{ProductID: "p1", Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	svc := NewService(newProductRepo(), &mockEngine{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []Item{{ProductID: "missing", Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestPlaceOrder_NoCoupon(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("19.99")}
	p2 := product.Product{ID: "p2", Name: "Gadget", Price: dec("5")}
	engine := &mockEngine{}
	repo := &mockOrderRepo{}
	svc := NewService(newProductRepo(p1, p2), engine, repo)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.True(t, dec("44.98").Equal(result.Order.Subtotal))
	assert.True(t, result.Order.Discount.IsZero())
	assert.True(t, dec("44.98").Equal(result.Order.Total))
	assert.Len(t, result.Products, 2)
	assert.Equal(t, 0, engine.validateCalls)
	require.NotNil(t, repo.lastOrder)
	assert.Equal(t, result.Order.ID, repo.lastOrder.ID)
}

func TestPlaceOrder_WithCoupon(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("300")}
	engine := &mockEngine{offer: tenPercentOffer()}
	repo := &mockOrderRepo{}
	svc := NewService(newProductRepo(p1), engine, repo)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:     "u-1",
		Items:      []Item{{ProductID: "p1", Quantity: 2}},
		CouponCode: "welcome10",
	})
	require.NoError(t, err)

	assert.True(t, dec("600").Equal(result.Order.Subtotal))
	assert.True(t, dec("60").Equal(result.Order.Discount))
	assert.True(t, dec("540").Equal(result.Order.Total))
	assert.Equal(t, "WELCOME10", result.Order.CouponCode)

	// The redemption is tied to the order actually being placed.
	assert.Equal(t, result.Order.ID, engine.lastOrderID)
	assert.True(t, dec("60").Equal(engine.lastDiscount))
	assert.Equal(t, 1, engine.applyCalls)
}

func TestPlaceOrder_CouponValidationFails(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("100")}
	engine := &mockEngine{validateErrs: []error{offer.ErrOfferNotFound}}
	svc := NewService(newProductRepo(p1), engine, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "BOGUS",
	})
	require.ErrorIs(t, err, offer.ErrOfferNotFound)
	assert.Equal(t, 0, engine.applyCalls)
}

func TestPlaceOrder_RedemptionRaceRetriesOnce(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("100")}
	engine := &mockEngine{
		offer:     tenPercentOffer(),
		applyErrs: []error{offer.ErrRedemptionRace, nil},
	}
	repo := &mockOrderRepo{}
	svc := NewService(newProductRepo(p1), engine, repo)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "WELCOME10",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, engine.validateCalls)
	assert.Equal(t, 2, engine.applyCalls)
	assert.True(t, dec("10").Equal(result.Order.Discount))
}

func TestPlaceOrder_RedemptionRaceRetryExhausted(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("100")}
	engine := &mockEngine{
		offer:     tenPercentOffer(),
		applyErrs: []error{offer.ErrRedemptionRace, offer.ErrRedemptionRace},
	}
	svc := NewService(newProductRepo(p1), engine, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "WELCOME10",
	})
	require.ErrorIs(t, err, offer.ErrRedemptionRace)
	assert.Equal(t, 2, engine.applyCalls)
}

func TestPlaceOrder_RetryMayFailWithUsageLimit(t *testing.T) {
	// After losing the race, the retry re-validates and may find the offer
	// fully exhausted.
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("100")}
	engine := &mockEngine{
		offer:        tenPercentOffer(),
		validateErrs: []error{nil, offer.ErrUsageLimitExceeded},
		applyErrs:    []error{offer.ErrRedemptionRace},
	}
	svc := NewService(newProductRepo(p1), engine, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "WELCOME10",
	})
	require.ErrorIs(t, err, offer.ErrUsageLimitExceeded)
}

func TestPlaceOrder_DiscountNeverDrivesTotalNegative(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("10")}
	engine := &mockEngine{offer: &offer.Offer{
		ID:    "off-1",
		Code:  "BIGFLAT",
		Type:  offer.DiscountFixed,
		Value: dec("500"),
	}}
	svc := NewService(newProductRepo(p1), engine, &mockOrderRepo{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "BIGFLAT",
	})
	require.NoError(t, err)
	assert.False(t, result.Order.Total.IsNegative())
}

func TestPlaceOrder_OrderRepoError(t *testing.T) {
	p1 := product.Product{ID: "p1", Name: "Widget", Price: dec("10")}
	repo := &mockOrderRepo{err: errors.New("db down")}
	svc := NewService(newProductRepo(p1), &mockEngine{}, repo)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []Item{{ProductID: "p1", Quantity: 1}},
	})
	require.Error(t, err)
}
