package offer

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// CalculateDiscount computes the discount an offer grants on the given order
// amount. Percentage offers take value% of the amount, fixed offers take the
// value itself. The result is clamped to MaximumDiscount when set, rounded
// half-up to 2 decimal places, and never exceeds the order amount.
//
// Pure function: no side effects, no I/O.
func CalculateDiscount(o *Offer, orderAmount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch o.Type {
	case DiscountPercentage:
		discount = orderAmount.Mul(o.Value).Div(hundred)
	case DiscountFixed:
		discount = o.Value
	default:
		return decimal.Zero
	}

	if o.MaximumDiscount != nil && discount.GreaterThan(*o.MaximumDiscount) {
		discount = *o.MaximumDiscount
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	// Rounding half-up can push the value past a sub-cent order amount, so
	// the order-amount clamp must come after the rounding step.
	return decimal.Min(discount.Round(2), orderAmount)
}
