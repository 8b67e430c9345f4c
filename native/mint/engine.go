package mint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"stablemint/core/events"
	"stablemint/crypto"
	"stablemint/oracle"
)

var (
	// ErrNilState is returned when the engine was not wired to a ledger.
	ErrNilState = errors.New("mint engine: state not configured")
	// ErrAmountZero rejects zero quantity arguments on every entry point.
	ErrAmountZero = errors.New("mint engine: amount must be positive")
	// ErrAssetNotAllowed rejects assets outside the fixed collateral registry.
	ErrAssetNotAllowed = errors.New("mint engine: collateral asset not registered")
	// ErrTransferFailed surfaces a collateral transfer collaborator failure.
	ErrTransferFailed = errors.New("mint engine: collateral transfer failed")
	// ErrMintFailed surfaces a synthetic-token mint failure.
	ErrMintFailed = errors.New("mint engine: synthetic mint failed")
	// ErrBurnFailed surfaces a synthetic-token burn failure.
	ErrBurnFailed = errors.New("mint engine: synthetic burn failed")
	// ErrInsufficientCollateral rejects redemptions and seizures exceeding the
	// deposited quantity; balances never underflow.
	ErrInsufficientCollateral = errors.New("mint engine: insufficient collateral")
	// ErrInsufficientDebt rejects burns exceeding the outstanding debt; debt
	// is never clamped.
	ErrInsufficientDebt = errors.New("mint engine: burn exceeds outstanding debt")
	// ErrHealthFactorOK rejects liquidation of a healthy position.
	ErrHealthFactorOK = errors.New("mint engine: target position not liquidatable")
	// ErrHealthNotImproved rejects liquidations that failed to repair the
	// target's solvency.
	ErrHealthNotImproved = errors.New("mint engine: liquidation did not improve health factor")
	// ErrHalted is returned while the circuit breaker is active.
	ErrHalted = errors.New("mint engine: halted by circuit breaker")
)

// BreaksHealthFactorError reports a self-initiated mutation that would leave
// the caller's position below the minimum health factor. The computed factor
// is carried for diagnostics.
type BreaksHealthFactorError struct {
	Factor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("mint engine: operation breaks health factor %s", e.Factor)
}

// engineState is the persistence boundary for positions.
type engineState interface {
	// GetPosition returns nil when the account never held a position.
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(pos *Position) error
}

// CollateralBank is the external fungible-asset transfer collaborator.
type CollateralBank interface {
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
}

// SynthAuthority is the exclusive mint/burn capability over the synthetic
// token, claimed by the engine at construction and never handed back.
type SynthAuthority interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
}

// PriceSource resolves the live feed observation for a registered asset.
type PriceSource interface {
	LatestPrice(feedID, symbol string) (oracle.PricePoint, error)
}

// Engine orchestrates deposits, issuance, redemption and liquidation for the
// synthetic unit. Every state-mutating operation runs to completion under the
// engine mutex: it either commits in full or leaves no observable effect.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	assets  []CollateralAsset
	index   map[string]int
	prices  PriceSource
	bank    CollateralBank
	synth   SynthAuthority
	custody crypto.Address
	emitter events.Emitter
	halted  bool
}

// NewEngine constructs an engine over the fixed collateral registry. The
// registry order is preserved and duplicate or blank symbols are rejected.
func NewEngine(assets []CollateralAsset, prices PriceSource, bank CollateralBank, synth SynthAuthority, custody crypto.Address) (*Engine, error) {
	if len(assets) == 0 {
		return nil, errors.New("mint engine: at least one collateral asset required")
	}
	if prices == nil || bank == nil || synth == nil {
		return nil, errors.New("mint engine: price source, bank and synth authority required")
	}
	registry := make([]CollateralAsset, 0, len(assets))
	index := make(map[string]int, len(assets))
	for _, asset := range assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		feed := strings.ToLower(strings.TrimSpace(asset.FeedID))
		if symbol == "" || feed == "" {
			return nil, fmt.Errorf("mint engine: asset symbol and feed required, got %q/%q", asset.Symbol, asset.FeedID)
		}
		if _, exists := index[symbol]; exists {
			return nil, fmt.Errorf("mint engine: duplicate collateral asset %s", symbol)
		}
		index[symbol] = len(registry)
		registry = append(registry, CollateralAsset{Symbol: symbol, FeedID: feed, Decimals: asset.Decimals})
	}
	return &Engine{
		assets:  registry,
		index:   index,
		prices:  prices,
		bank:    bank,
		synth:   synth,
		custody: custody,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter wires the engine's event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetHalted toggles the circuit breaker. While active every mutating entry
// point fails before touching state.
func (e *Engine) SetHalted(halted bool) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.halted = halted
	e.mu.Unlock()
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.halted {
		return ErrHalted
	}
	return nil
}

func (e *Engine) lookupAsset(symbol string) (CollateralAsset, error) {
	idx, ok := e.index[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return CollateralAsset{}, fmt.Errorf("%w: %s", ErrAssetNotAllowed, symbol)
	}
	return e.assets[idx], nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Address: addr}
	}
	if pos.Collateral == nil {
		pos.Collateral = make(map[string]*big.Int)
	}
	if pos.Debt == nil {
		pos.Debt = big.NewInt(0)
	}
	return pos, nil
}

// requireHealthy fails with BreaksHealthFactorError when the position's live
// factor is below the minimum. This is the single gate consulted before
// committing any action that increases debt or decreases collateral.
func (e *Engine) requireHealthy(pos *Position) error {
	factor, err := e.positionHealthFactor(pos)
	if err != nil {
		return err
	}
	if factor.Cmp(minHealthFactor) < 0 {
		return &BreaksHealthFactorError{Factor: factor}
	}
	return nil
}

// DepositCollateral transfers amount of the asset from the caller into engine
// custody and credits the caller's position. Deposits can only improve health
// so no factor check is required.
func (e *Engine) DepositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	registered, err := e.lookupAsset(asset)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if err := e.bank.Transfer(registered.Symbol, caller, e.custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	pos.creditCollateral(registered.Symbol, amount)
	if err := e.state.PutPosition(pos); err != nil {
		// Undo the custody transfer so the failed call leaves no effect.
		_ = e.bank.Transfer(registered.Symbol, e.custody, caller, amount)
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{Account: caller, Asset: registered.Symbol, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint issues amount synthetic units against the caller's collateral,
// rejecting the mint when it would break the caller's health factor.
func (e *Engine) Mint(caller crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	pos.Debt = new(big.Int).Add(pos.Debt, amount)
	if err := e.requireHealthy(pos); err != nil {
		return err
	}
	if err := e.synth.Mint(caller, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	if err := e.state.PutPosition(pos); err != nil {
		_ = e.synth.Burn(caller, amount)
		return err
	}
	e.emitter.Emit(events.SynthMinted{Account: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// DepositAndMint composes DepositCollateral and Mint into one conceptual
// transaction: either both take effect or neither does.
func (e *Engine) DepositAndMint(caller crypto.Address, asset string, amount, mintAmount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 || mintAmount == nil || mintAmount.Sign() <= 0 {
		return ErrAmountZero
	}
	registered, err := e.lookupAsset(asset)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if err := e.bank.Transfer(registered.Symbol, caller, e.custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	undoTransfer := func() {
		_ = e.bank.Transfer(registered.Symbol, e.custody, caller, amount)
	}
	pos.creditCollateral(registered.Symbol, amount)
	pos.Debt = new(big.Int).Add(pos.Debt, mintAmount)
	if err := e.requireHealthy(pos); err != nil {
		undoTransfer()
		return err
	}
	if err := e.synth.Mint(caller, mintAmount); err != nil {
		undoTransfer()
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	if err := e.state.PutPosition(pos); err != nil {
		_ = e.synth.Burn(caller, mintAmount)
		undoTransfer()
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{Account: caller, Asset: registered.Symbol, Amount: new(big.Int).Set(amount)})
	e.emitter.Emit(events.SynthMinted{Account: caller, Amount: new(big.Int).Set(mintAmount)})
	return nil
}

// RedeemCollateral releases amount of the asset back to the caller, rejecting
// the redemption if the remaining position would be unhealthy. A debt-free
// position can redeem everything unconditionally.
func (e *Engine) RedeemCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	registered, err := e.lookupAsset(asset)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if err := e.redeemCollateral(pos, caller, registered.Symbol, amount); err != nil {
		return err
	}
	if err := e.requireHealthy(pos); err != nil {
		_ = e.bank.Transfer(registered.Symbol, caller, e.custody, amount)
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		_ = e.bank.Transfer(registered.Symbol, caller, e.custody, amount)
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{From: caller, To: caller, Asset: registered.Symbol, Amount: new(big.Int).Set(amount)})
	return nil
}

// redeemCollateral is the internal redemption primitive shared by
// self-redemption and liquidation seizure: it debits the position and moves
// the asset out of custody to the recipient, which need not be the position
// owner. The position is mutated but not persisted; callers decide when the
// mutation commits.
func (e *Engine) redeemCollateral(pos *Position, to crypto.Address, symbol string, amount *big.Int) error {
	if !pos.debitCollateral(symbol, amount) {
		return ErrInsufficientCollateral
	}
	if err := e.bank.Transfer(symbol, e.custody, to, amount); err != nil {
		pos.creditCollateral(symbol, amount)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Burn repays amount of the caller's debt. Burning can only improve health so
// no factor check is required; burning more than the outstanding debt is
// rejected, never clamped.
func (e *Engine) Burn(caller crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if pos.Debt.Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}
	if err := e.synth.Burn(caller, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	pos.Debt = new(big.Int).Sub(pos.Debt, amount)
	if err := e.state.PutPosition(pos); err != nil {
		_ = e.synth.Mint(caller, amount)
		return err
	}
	e.emitter.Emit(events.SynthBurned{Account: caller, Payer: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// RedeemForSynth burns synthAmount of the caller's debt and then redeems
// collateralAmount of the asset, composed atomically.
func (e *Engine) RedeemForSynth(caller crypto.Address, asset string, collateralAmount, synthAmount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 || synthAmount == nil || synthAmount.Sign() <= 0 {
		return ErrAmountZero
	}
	registered, err := e.lookupAsset(asset)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if pos.Debt.Cmp(synthAmount) < 0 {
		return ErrInsufficientDebt
	}
	if pos.Deposited(registered.Symbol).Cmp(collateralAmount) < 0 {
		return ErrInsufficientCollateral
	}
	if err := e.synth.Burn(caller, synthAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	pos.Debt = new(big.Int).Sub(pos.Debt, synthAmount)
	if err := e.redeemCollateral(pos, caller, registered.Symbol, collateralAmount); err != nil {
		_ = e.synth.Mint(caller, synthAmount)
		return err
	}
	undo := func() {
		_ = e.bank.Transfer(registered.Symbol, caller, e.custody, collateralAmount)
		_ = e.synth.Mint(caller, synthAmount)
	}
	if err := e.requireHealthy(pos); err != nil {
		undo()
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		undo()
		return err
	}
	e.emitter.Emit(events.SynthBurned{Account: caller, Payer: caller, Amount: new(big.Int).Set(synthAmount)})
	e.emitter.Emit(events.CollateralRedeemed{From: caller, To: caller, Asset: registered.Symbol, Amount: new(big.Int).Set(collateralAmount)})
	return nil
}

// Liquidate lets a third party repay debtToCover of an undercollateralized
// target's debt in exchange for the equivalent collateral plus a bonus share.
// The repayment burns synthetic units from the liquidator's own balance; the
// engine never mints debt relief out of nothing. The seized collateral is
// returned for downstream accounting.
func (e *Engine) Liquidate(liquidator crypto.Address, asset string, target crypto.Address, debtToCover *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, ErrAmountZero
	}
	registered, err := e.lookupAsset(asset)
	if err != nil {
		return nil, err
	}
	targetPos, err := e.loadPosition(target)
	if err != nil {
		return nil, err
	}
	startingFactor, err := e.positionHealthFactor(targetPos)
	if err != nil {
		return nil, err
	}
	if startingFactor.Cmp(minHealthFactor) >= 0 {
		return nil, ErrHealthFactorOK
	}

	// How much of the named collateral the covered debt is nominally worth,
	// plus the liquidation incentive.
	point, err := e.prices.LatestPrice(registered.FeedID, registered.Symbol)
	if err != nil {
		return nil, err
	}
	seized, err := valueToQuantity(point, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(seized, big.NewInt(liquidationBonus))
	bonus.Quo(bonus, big.NewInt(liquidationPrecision))
	totalSeized := new(big.Int).Add(seized, bonus)

	if err := e.redeemCollateral(targetPos, liquidator, registered.Symbol, totalSeized); err != nil {
		return nil, err
	}
	undoSeizure := func() {
		_ = e.bank.Transfer(registered.Symbol, liquidator, e.custody, totalSeized)
	}
	// The liquidator repays out of their own balance; the burn also bounds
	// debtToCover implicitly, there is no separate upfront cap check.
	if err := e.synth.Burn(liquidator, debtToCover); err != nil {
		undoSeizure()
		return nil, fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	if targetPos.Debt.Cmp(debtToCover) < 0 {
		_ = e.synth.Mint(liquidator, debtToCover)
		undoSeizure()
		return nil, ErrInsufficientDebt
	}
	targetPos.Debt = new(big.Int).Sub(targetPos.Debt, debtToCover)
	undo := func() {
		_ = e.synth.Mint(liquidator, debtToCover)
		undoSeizure()
	}

	// The target's factor is intentionally not rechecked between seizure and
	// repayment; the whole call is one atomic step. It must strictly improve.
	endingFactor, err := e.positionHealthFactor(targetPos)
	if err != nil {
		undo()
		return nil, err
	}
	if endingFactor.Cmp(startingFactor) <= 0 {
		undo()
		return nil, ErrHealthNotImproved
	}

	// Liquidators who minted fresh debt to fund the repayment must themselves
	// remain healthy. A self-liquidation is judged on the resulting position,
	// not the persisted pre-liquidation snapshot.
	liquidatorPos := targetPos
	if !liquidator.Equal(target) {
		liquidatorPos, err = e.loadPosition(liquidator)
		if err != nil {
			undo()
			return nil, err
		}
	}
	if err := e.requireHealthy(liquidatorPos); err != nil {
		undo()
		return nil, err
	}

	if err := e.state.PutPosition(targetPos); err != nil {
		undo()
		return nil, err
	}
	e.emitter.Emit(events.CollateralRedeemed{From: target, To: liquidator, Asset: registered.Symbol, Amount: new(big.Int).Set(totalSeized)})
	e.emitter.Emit(events.SynthBurned{Account: target, Payer: liquidator, Amount: new(big.Int).Set(debtToCover)})
	e.emitter.Emit(events.PositionLiquidated{
		Liquidator:  liquidator,
		Target:      target,
		Asset:       registered.Symbol,
		DebtCovered: new(big.Int).Set(debtToCover),
		Seized:      totalSeized,
	})
	return new(big.Int).Set(totalSeized), nil
}
