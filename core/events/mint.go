package events

import (
	"math/big"

	"stablemint/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral enters engine custody.
	TypeCollateralDeposited = "mint.collateral.deposited"
	// TypeCollateralRedeemed is emitted whenever collateral leaves a position,
	// both for self-redemption (From == To) and liquidation seizure.
	TypeCollateralRedeemed = "mint.collateral.redeemed"
	// TypeSynthMinted is emitted when new synthetic units are issued against a
	// position.
	TypeSynthMinted = "mint.synth.minted"
	// TypeSynthBurned is emitted when synthetic units are repaid.
	TypeSynthBurned = "mint.synth.burned"
	// TypePositionLiquidated is emitted after a successful liquidation.
	TypePositionLiquidated = "mint.position.liquidated"
)

// CollateralDeposited records a collateral deposit.
type CollateralDeposited struct {
	Account crypto.Address `json:"account"`
	Asset   string         `json:"asset"`
	Amount  *big.Int       `json:"amount"`
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

// CollateralRedeemed records collateral leaving a position. From and To differ
// when the redemption was a liquidation seizure.
type CollateralRedeemed struct {
	From   crypto.Address `json:"from"`
	To     crypto.Address `json:"to"`
	Asset  string         `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

// SynthMinted records synthetic units issued to an account.
type SynthMinted struct {
	Account crypto.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

func (SynthMinted) EventType() string { return TypeSynthMinted }

// SynthBurned records synthetic units repaid. Payer names the balance the
// burned units were drawn from, which differs from Account during liquidation.
type SynthBurned struct {
	Account crypto.Address `json:"account"`
	Payer   crypto.Address `json:"payer"`
	Amount  *big.Int       `json:"amount"`
}

func (SynthBurned) EventType() string { return TypeSynthBurned }

// PositionLiquidated summarises a completed liquidation.
type PositionLiquidated struct {
	Liquidator  crypto.Address `json:"liquidator"`
	Target      crypto.Address `json:"target"`
	Asset       string         `json:"asset"`
	DebtCovered *big.Int       `json:"debtCovered"`
	Seized      *big.Int       `json:"seized"`
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }
