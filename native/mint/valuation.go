package mint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"stablemint/oracle"
)

// Protocol constants. Values are fixed for the engine's lifetime and exposed
// read-only through Params.
var (
	// precision is the engine's internal fixed point: 18 decimal places.
	precision = mustBigInt("1000000000000000000")
	// additionalFeedPrecision rescales the canonical 8-decimal USD feeds up to
	// the internal fixed point.
	additionalFeedPrecision = mustBigInt("10000000000")
	// minHealthFactor is the lowest factor a position with outstanding debt
	// may hold after a self-initiated mutation.
	minHealthFactor = mustBigInt("1000000000000000000")
	// maxHealthFactor is the sentinel reported for debt-free positions. It is
	// the maximum representable 256-bit value so every comparison against it
	// treats the position as healthy.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const (
	// liquidationThreshold counts only half of raw collateral value toward
	// the health factor, a 2x overcollateralization requirement.
	liquidationThreshold = 50
	liquidationPrecision = 100
	// liquidationBonus is the extra collateral share paid to liquidators.
	liquidationBonus = 10
	// maxFeedDecimals bounds the fixed-point precision accepted from feeds.
	maxFeedDecimals = 18
)

var (
	// ErrNonPositivePrice rejects valuations against a zero or negative
	// oracle price; division by zero must never silently proceed.
	ErrNonPositivePrice = errors.New("mint: oracle price must be positive")
	// ErrFeedPrecision rejects feeds reporting more than 18 decimal places.
	ErrFeedPrecision = errors.New("mint: unsupported feed precision")
	// ErrValueOverflow rejects conversions whose intermediates exceed 256
	// bits rather than wrapping.
	ErrValueOverflow = errors.New("mint: value conversion overflow")
)

// Params reports the fixed protocol constants.
type Params struct {
	Precision               *big.Int `json:"precision"`
	AdditionalFeedPrecision *big.Int `json:"additionalFeedPrecision"`
	LiquidationThreshold    uint64   `json:"liquidationThreshold"`
	LiquidationPrecision    uint64   `json:"liquidationPrecision"`
	LiquidationBonus        uint64   `json:"liquidationBonus"`
	MinHealthFactor         *big.Int `json:"minHealthFactor"`
}

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// normalisedPrice rescales the feed's native fixed point up to the engine's
// 18-decimal representation.
func normalisedPrice(point oracle.PricePoint) (*uint256.Int, error) {
	if point.Price == nil || point.Price.Sign() <= 0 {
		return nil, ErrNonPositivePrice
	}
	if point.Decimals > maxFeedDecimals {
		return nil, ErrFeedPrecision
	}
	price, overflow := uint256.FromBig(point.Price)
	if overflow {
		return nil, ErrValueOverflow
	}
	scale := new(uint256.Int).Exp(
		uint256.NewInt(10),
		uint256.NewInt(uint64(maxFeedDecimals-point.Decimals)),
	)
	normalised, overflow := new(uint256.Int).MulOverflow(price, scale)
	if overflow {
		return nil, ErrValueOverflow
	}
	if normalised.IsZero() {
		return nil, ErrNonPositivePrice
	}
	return normalised, nil
}

// quantityToValue converts an asset quantity into an 18-decimal USD value:
// value = quantity * normalisedPrice / precision. Arithmetic runs in bounded
// 256-bit intermediates; overflow is rejected, never wrapped.
func quantityToValue(point oracle.PricePoint, quantity *big.Int) (*big.Int, error) {
	if quantity == nil || quantity.Sign() == 0 {
		return big.NewInt(0), nil
	}
	normalised, err := normalisedPrice(point)
	if err != nil {
		return nil, err
	}
	qty, overflow := uint256.FromBig(quantity)
	if overflow {
		return nil, ErrValueOverflow
	}
	prec, _ := uint256.FromBig(precision)
	product, overflow := new(uint256.Int).MulOverflow(qty, normalised)
	if overflow {
		return nil, ErrValueOverflow
	}
	return new(uint256.Int).Div(product, prec).ToBig(), nil
}

// valueToQuantity is the exact inverse of quantityToValue using floor
// division: quantity = value * precision / normalisedPrice. Round-tripping an
// arbitrary value may lose a sub-unit rounding remainder; that is accepted.
func valueToQuantity(point oracle.PricePoint, value *big.Int) (*big.Int, error) {
	if value == nil || value.Sign() == 0 {
		return big.NewInt(0), nil
	}
	normalised, err := normalisedPrice(point)
	if err != nil {
		return nil, err
	}
	val, overflow := uint256.FromBig(value)
	if overflow {
		return nil, ErrValueOverflow
	}
	prec, _ := uint256.FromBig(precision)
	product, overflow := new(uint256.Int).MulOverflow(val, prec)
	if overflow {
		return nil, ErrValueOverflow
	}
	return new(uint256.Int).Div(product, normalised).ToBig(), nil
}
