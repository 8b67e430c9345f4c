package mint

import (
	"math/big"
)

// healthFactor derives the scalar solvency gate from outstanding debt and
// aggregate collateral value. A debt-free position reports the maximum
// sentinel so every comparison treats it as healthy; otherwise only the
// threshold-adjusted share of collateral counts:
//
//	factor = (collateralValue * threshold / thresholdPrecision) * precision / debt
func healthFactor(debt, collateralValue *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	if collateralValue == nil || collateralValue.Sign() <= 0 {
		return big.NewInt(0)
	}
	adjusted := new(big.Int).Mul(collateralValue, big.NewInt(liquidationThreshold))
	adjusted.Quo(adjusted, big.NewInt(liquidationPrecision))
	factor := adjusted.Mul(adjusted, precision)
	factor.Quo(factor, debt)
	if factor.Cmp(maxHealthFactor) > 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	return factor
}

// collateralValue sums the live valuation of every registered asset in
// registration order. Assets the position holds none of still go through the
// feed read and contribute zero, so one stale feed fails the valuation
// deterministically instead of depending on the caller's holdings.
func (e *Engine) collateralValue(pos *Position) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range e.assets {
		quantity := pos.Deposited(asset.Symbol)
		point, err := e.prices.LatestPrice(asset.FeedID, asset.Symbol)
		if err != nil {
			return nil, err
		}
		value, err := quantityToValue(point, quantity)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// positionHealthFactor computes the live health factor for the position.
func (e *Engine) positionHealthFactor(pos *Position) (*big.Int, error) {
	value, err := e.collateralValue(pos)
	if err != nil {
		return nil, err
	}
	return healthFactor(pos.Debt, value), nil
}
