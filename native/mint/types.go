package mint

import (
	"math/big"

	"stablemint/crypto"
)

// CollateralAsset identifies one accepted deposit asset. The set of assets is
// fixed at engine construction; there is no add/remove path afterwards.
type CollateralAsset struct {
	// Symbol is the canonical upper-case asset identifier.
	Symbol string `json:"symbol"`
	// FeedID names the preferred price feed registered in the oracle aggregator.
	FeedID string `json:"feedId"`
	// Decimals is the asset's fixed-point precision. Quantities are expressed
	// as integers scaled by 10^Decimals.
	Decimals uint8 `json:"decimals"`
}

// Position maintains the collateral and debt for an individual account.
// Positions are created implicitly on first deposit and never destroyed; a
// position with zero collateral and zero debt is indistinguishable from a
// never-used one.
type Position struct {
	// Address is the unique account identifier.
	Address crypto.Address `json:"address"`
	// Collateral maps asset symbol to the deposited quantity.
	Collateral map[string]*big.Int `json:"collateral"`
	// Debt is the outstanding synthetic-unit balance minted by the account.
	Debt *big.Int `json:"debt"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address, Collateral: make(map[string]*big.Int, len(p.Collateral))}
	for symbol, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[symbol] = new(big.Int).Set(amount)
		}
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return clone
}

// Deposited returns the quantity of the asset held by the position, zero when
// the asset was never touched.
func (p *Position) Deposited(symbol string) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	amount := p.Collateral[symbol]
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func (p *Position) creditCollateral(symbol string, amount *big.Int) {
	if p.Collateral == nil {
		p.Collateral = make(map[string]*big.Int)
	}
	current := p.Collateral[symbol]
	if current == nil {
		current = big.NewInt(0)
	}
	p.Collateral[symbol] = new(big.Int).Add(current, amount)
}

// debitCollateral decrements the deposited quantity, reporting false when the
// decrement would underflow. Balances never go negative.
func (p *Position) debitCollateral(symbol string, amount *big.Int) bool {
	if p.Collateral == nil {
		return false
	}
	current := p.Collateral[symbol]
	if current == nil || current.Cmp(amount) < 0 {
		return false
	}
	p.Collateral[symbol] = new(big.Int).Sub(current, amount)
	return true
}
