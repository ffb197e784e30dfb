package venue

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// Venue price rule: at most five significant figures.
const priceSigFigs = 5

func limitOrderWire(asset int, isBuy bool, size, price decimal.Decimal, reduceOnly bool, tif Tif) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	if !size.IsPositive() {
		return OrderWire{}, errors.New("size must be positive")
	}
	if !price.IsPositive() {
		return OrderWire{}, errors.New("price must be positive")
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price.String(),
		Size:       size.String(),
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
	}, nil
}

// aggressivePrice pads the mark by the slippage fraction in the crossing
// direction so an immediate-or-cancel order fills like a market order.
func aggressivePrice(mark decimal.Decimal, isBuy bool, slippage decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	var padded decimal.Decimal
	if isBuy {
		padded = mark.Mul(one.Add(slippage))
	} else {
		padded = mark.Mul(one.Sub(slippage))
	}
	return roundSigFigs(padded, priceSigFigs)
}

func roundSigFigs(d decimal.Decimal, figs int32) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	f, _ := d.Abs().Float64()
	magnitude := int32(math.Floor(math.Log10(f)))
	return d.Round(figs - 1 - magnitude)
}
