package mint

import (
	"math/big"

	"stablemint/crypto"
	"stablemint/oracle"
)

// Read-only query surface. None of these mutate state; persisted positions
// commit atomically so concurrent reads observe either the pre- or post-state
// of any in-flight operation.

// Assets returns the fixed collateral registry in registration order.
func (e *Engine) Assets() []CollateralAsset {
	out := make([]CollateralAsset, len(e.assets))
	copy(out, e.assets)
	return out
}

// OracleFor reports the feed identifier registered for the asset.
func (e *Engine) OracleFor(symbol string) (string, error) {
	asset, err := e.lookupAsset(symbol)
	if err != nil {
		return "", err
	}
	return asset.FeedID, nil
}

// Params reports the fixed protocol constants.
func (e *Engine) Params() Params {
	return Params{
		Precision:               new(big.Int).Set(precision),
		AdditionalFeedPrecision: new(big.Int).Set(additionalFeedPrecision),
		LiquidationThreshold:    liquidationThreshold,
		LiquidationPrecision:    liquidationPrecision,
		LiquidationBonus:        liquidationBonus,
		MinHealthFactor:         new(big.Int).Set(minHealthFactor),
	}
}

// Deposited returns the account's deposited quantity of the asset.
func (e *Engine) Deposited(addr crypto.Address, symbol string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	asset, err := e.lookupAsset(symbol)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	return pos.Deposited(asset.Symbol), nil
}

// Debt returns the account's outstanding synthetic debt.
func (e *Engine) Debt(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(pos.Debt), nil
}

// CollateralValue returns the account's aggregate collateral value at live
// prices.
func (e *Engine) CollateralValue(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	return e.collateralValue(pos)
}

// HealthFactor returns the account's live health factor; debt-free accounts
// report the maximum sentinel.
func (e *Engine) HealthFactor(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	return e.positionHealthFactor(pos)
}

// AccountInformation returns the account's debt and collateral value in one
// consistent read.
func (e *Engine) AccountInformation(addr crypto.Address) (debt, collateralValue *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, nil, err
	}
	value, err := e.collateralValue(pos)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(pos.Debt), value, nil
}

// Position returns a copy of the account's full position.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// ToValue converts an asset quantity into an 18-decimal value at the live
// price.
func (e *Engine) ToValue(symbol string, quantity *big.Int) (*big.Int, error) {
	asset, err := e.lookupAsset(symbol)
	if err != nil {
		return nil, err
	}
	point, err := e.prices.LatestPrice(asset.FeedID, asset.Symbol)
	if err != nil {
		return nil, err
	}
	return quantityToValue(point, quantity)
}

// FromValue converts an 18-decimal value into an asset quantity at the live
// price.
func (e *Engine) FromValue(symbol string, value *big.Int) (*big.Int, error) {
	asset, err := e.lookupAsset(symbol)
	if err != nil {
		return nil, err
	}
	point, err := e.prices.LatestPrice(asset.FeedID, asset.Symbol)
	if err != nil {
		return nil, err
	}
	return valueToQuantity(point, value)
}

// Price reports the live feed observation for the asset.
func (e *Engine) Price(symbol string) (oracle.PricePoint, error) {
	asset, err := e.lookupAsset(symbol)
	if err != nil {
		return oracle.PricePoint{}, err
	}
	return e.prices.LatestPrice(asset.FeedID, asset.Symbol)
}
