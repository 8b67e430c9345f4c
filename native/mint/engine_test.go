package mint

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"stablemint/crypto"
	"stablemint/oracle"
)

func makeAddress(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func amt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid amount: " + value)
	}
	return v
}

type mockEngineState struct {
	positions map[string]*Position
	failPut   bool
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{positions: make(map[string]*Position)}
}

func (m *mockEngineState) key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) GetPosition(addr crypto.Address) (*Position, error) {
	pos, ok := m.positions[m.key(addr)]
	if !ok {
		return nil, nil
	}
	return pos.Clone(), nil
}

func (m *mockEngineState) PutPosition(pos *Position) error {
	if m.failPut {
		return errors.New("put rejected")
	}
	m.positions[m.key(pos.Address)] = pos.Clone()
	return nil
}

type mockBank struct {
	balances map[string]map[string]*big.Int
	failNext bool
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[string]map[string]*big.Int)}
}

func (m *mockBank) credit(symbol string, addr crypto.Address, amount *big.Int) {
	if m.balances[symbol] == nil {
		m.balances[symbol] = make(map[string]*big.Int)
	}
	key := string(addr.Bytes())
	current := m.balances[symbol][key]
	if current == nil {
		current = big.NewInt(0)
	}
	m.balances[symbol][key] = new(big.Int).Add(current, amount)
}

func (m *mockBank) balance(symbol string, addr crypto.Address) *big.Int {
	current := m.balances[symbol][string(addr.Bytes())]
	if current == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(current)
}

func (m *mockBank) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	if m.failNext {
		m.failNext = false
		return errors.New("transfer rejected")
	}
	current := m.balance(symbol, from)
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance", symbol)
	}
	m.balances[symbol][string(from.Bytes())] = current.Sub(current, amount)
	m.credit(symbol, to, amount)
	return nil
}

type mockSynth struct {
	balances map[string]*big.Int
	failMint bool
	failBurn bool
}

func newMockSynth() *mockSynth {
	return &mockSynth{balances: make(map[string]*big.Int)}
}

func (m *mockSynth) balance(addr crypto.Address) *big.Int {
	current := m.balances[string(addr.Bytes())]
	if current == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(current)
}

func (m *mockSynth) Mint(to crypto.Address, amount *big.Int) error {
	if m.failMint {
		return errors.New("mint rejected")
	}
	m.balances[string(to.Bytes())] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

func (m *mockSynth) Burn(from crypto.Address, amount *big.Int) error {
	if m.failBurn {
		return errors.New("burn rejected")
	}
	current := m.balance(from)
	if current.Cmp(amount) < 0 {
		return errors.New("insufficient synth balance")
	}
	m.balances[string(from.Bytes())] = current.Sub(current, amount)
	return nil
}

type stubPrices struct {
	points map[string]oracle.PricePoint
	errs   map[string]error
}

func newStubPrices() *stubPrices {
	return &stubPrices{points: make(map[string]oracle.PricePoint), errs: make(map[string]error)}
}

func (s *stubPrices) set(symbol string, price *big.Int, decimals uint8) {
	s.points[symbol] = oracle.PricePoint{Price: price, Decimals: decimals, Timestamp: time.Now()}
}

func (s *stubPrices) LatestPrice(_, symbol string) (oracle.PricePoint, error) {
	if err := s.errs[symbol]; err != nil {
		return oracle.PricePoint{}, err
	}
	point, ok := s.points[symbol]
	if !ok {
		return oracle.PricePoint{}, oracle.ErrUnknownAsset
	}
	return point, nil
}

type testHarness struct {
	engine  *Engine
	state   *mockEngineState
	bank    *mockBank
	synth   *mockSynth
	prices  *stubPrices
	custody crypto.Address
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	custody := makeAddress(0x01)
	prices := newStubPrices()
	prices.set("WETH", amt("200000000000"), 8) // 2000 USD, 8-decimal feed
	bank := newMockBank()
	synth := newMockSynth()
	engine, err := NewEngine([]CollateralAsset{
		{Symbol: "WETH", FeedID: "manual", Decimals: 18},
	}, prices, bank, synth, custody)
	if err != nil {
		t.Fatalf("construct engine: %v", err)
	}
	state := newMockEngineState()
	engine.SetState(state)
	return &testHarness{engine: engine, state: state, bank: bank, synth: synth, prices: prices, custody: custody}
}

func TestDepositCollateralCreditsPosition(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))

	if err := h.engine.DepositCollateral(caller, "weth", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	deposited, err := h.engine.Deposited(caller, "WETH")
	if err != nil {
		t.Fatalf("deposited: %v", err)
	}
	if deposited.Cmp(amt("10000000000000000000")) != 0 {
		t.Fatalf("unexpected deposit: %s", deposited)
	}
	if h.bank.balance("WETH", h.custody).Cmp(amt("10000000000000000000")) != 0 {
		t.Fatalf("unexpected custody balance: %s", h.bank.balance("WETH", h.custody))
	}
	if h.bank.balance("WETH", caller).Sign() != 0 {
		t.Fatalf("unexpected caller balance: %s", h.bank.balance("WETH", caller))
	}
}

func TestDepositRejectsUnregisteredAsset(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	if err := h.engine.DepositCollateral(caller, "DOGE", big.NewInt(1)); !errors.Is(err, ErrAssetNotAllowed) {
		t.Fatalf("expected ErrAssetNotAllowed, got %v", err)
	}
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	if err := h.engine.DepositCollateral(caller, "WETH", big.NewInt(0)); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero, got %v", err)
	}
	if err := h.engine.DepositCollateral(caller, "WETH", nil); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero for nil, got %v", err)
	}
}

func TestDepositUndoneWhenPersistFails(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("1000000000000000000"))
	h.state.failPut = true

	if err := h.engine.DepositCollateral(caller, "WETH", amt("1000000000000000000")); err == nil {
		t.Fatal("expected persist failure")
	}
	if h.bank.balance("WETH", caller).Cmp(amt("1000000000000000000")) != 0 {
		t.Fatalf("caller balance not restored: %s", h.bank.balance("WETH", caller))
	}
	if h.bank.balance("WETH", h.custody).Sign() != 0 {
		t.Fatalf("custody balance not restored: %s", h.bank.balance("WETH", h.custody))
	}
}

func TestMintAtExactThreshold(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 10 WETH at 2000 USD is 20000 USD of collateral; the 50% threshold
	// supports exactly 10000 synthetic units at a 1.0 health factor.
	if err := h.engine.Mint(caller, amt("10000000000000000000000")); err != nil {
		t.Fatalf("mint at threshold: %v", err)
	}
	factor, err := h.engine.HealthFactor(caller)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(amt("1000000000000000000")) != 0 {
		t.Fatalf("expected factor exactly 1e18, got %s", factor)
	}
	if h.synth.balance(caller).Cmp(amt("10000000000000000000000")) != 0 {
		t.Fatalf("unexpected synth balance: %s", h.synth.balance(caller))
	}
}

func TestMintBeyondThresholdBreaksHealthFactor(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := h.engine.Mint(caller, amt("10000000000000000000001"))
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactorError, got %v", err)
	}
	if breaks.Factor.Cmp(amt("1000000000000000000")) >= 0 {
		t.Fatalf("reported factor should be below 1e18, got %s", breaks.Factor)
	}
	if h.synth.balance(caller).Sign() != 0 {
		t.Fatalf("no synth should be minted, got %s", h.synth.balance(caller))
	}
	debt, err := h.engine.Debt(caller)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("debt should remain zero, got %s", debt)
	}
}

func TestMintWithoutCollateralRejected(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	err := h.engine.Mint(caller, big.NewInt(1))
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactorError, got %v", err)
	}
	if breaks.Factor.Sign() != 0 {
		t.Fatalf("expected zero factor, got %s", breaks.Factor)
	}
}

func TestMintUndoneWhenPersistFails(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.state.failPut = true

	if err := h.engine.Mint(caller, amt("1000000000000000000000")); err == nil {
		t.Fatal("expected persist failure")
	}
	if h.synth.balance(caller).Sign() != 0 {
		t.Fatalf("minted supply not burned back, got %s", h.synth.balance(caller))
	}
}

func TestDepositAndMintAtomicOnHealthFailure(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("1000000000000000000"))

	// 1 WETH supports 1000 units; asking for more must unwind the deposit too.
	err := h.engine.DepositAndMint(caller, "WETH", amt("1000000000000000000"), amt("1000000000000000001000"))
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactorError, got %v", err)
	}
	if h.bank.balance("WETH", caller).Cmp(amt("1000000000000000000")) != 0 {
		t.Fatalf("deposit not unwound: %s", h.bank.balance("WETH", caller))
	}
	deposited, err := h.engine.Deposited(caller, "WETH")
	if err != nil {
		t.Fatalf("deposited: %v", err)
	}
	if deposited.Sign() != 0 {
		t.Fatalf("position should be untouched, got %s", deposited)
	}
}

func TestDepositAndMintSucceeds(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("2000000000000000000"))

	if err := h.engine.DepositAndMint(caller, "WETH", amt("2000000000000000000"), amt("1500000000000000000000")); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if h.synth.balance(caller).Cmp(amt("1500000000000000000000")) != 0 {
		t.Fatalf("unexpected synth balance: %s", h.synth.balance(caller))
	}
	debt, err := h.engine.Debt(caller)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(amt("1500000000000000000000")) != 0 {
		t.Fatalf("unexpected debt: %s", debt)
	}
}

func TestRedeemCollateralRequiresHealthyRemainder(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.Mint(caller, amt("10000000000000000000000")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// The position sits exactly at the threshold; removing any collateral
	// breaks it and must be rejected with no observable effect.
	err := h.engine.RedeemCollateral(caller, "WETH", amt("1000000000000000000"))
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactorError, got %v", err)
	}
	deposited, err := h.engine.Deposited(caller, "WETH")
	if err != nil {
		t.Fatalf("deposited: %v", err)
	}
	if deposited.Cmp(amt("10000000000000000000")) != 0 {
		t.Fatalf("collateral should be untouched, got %s", deposited)
	}
	if h.bank.balance("WETH", caller).Sign() != 0 {
		t.Fatalf("caller should hold no collateral, got %s", h.bank.balance("WETH", caller))
	}
}

func TestRedeemAllWhenDebtFree(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := h.engine.RedeemCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if h.bank.balance("WETH", caller).Cmp(amt("10000000000000000000")) != 0 {
		t.Fatalf("collateral not returned: %s", h.bank.balance("WETH", caller))
	}
}

func TestRedeemBeyondDepositRejected(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("1000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("1000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.RedeemCollateral(caller, "WETH", amt("1000000000000000001")); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestBurnReducesDebt(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.Mint(caller, amt("4000000000000000000000")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := h.engine.Burn(caller, amt("1500000000000000000000")); err != nil {
		t.Fatalf("burn: %v", err)
	}
	debt, err := h.engine.Debt(caller)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(amt("2500000000000000000000")) != 0 {
		t.Fatalf("unexpected debt: %s", debt)
	}
	if h.synth.balance(caller).Cmp(amt("2500000000000000000000")) != 0 {
		t.Fatalf("unexpected synth balance: %s", h.synth.balance(caller))
	}
}

func TestBurnBeyondDebtRejected(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.Mint(caller, amt("1000000000000000000000")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.engine.Burn(caller, amt("1000000000000000000001")); !errors.Is(err, ErrInsufficientDebt) {
		t.Fatalf("expected ErrInsufficientDebt, got %v", err)
	}
}

func TestRedeemForSynthComposes(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.Mint(caller, amt("5000000000000000000000")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := h.engine.RedeemForSynth(caller, "WETH", amt("2000000000000000000"), amt("2000000000000000000000")); err != nil {
		t.Fatalf("redeem for synth: %v", err)
	}
	debt, err := h.engine.Debt(caller)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(amt("3000000000000000000000")) != 0 {
		t.Fatalf("unexpected debt: %s", debt)
	}
	deposited, err := h.engine.Deposited(caller, "WETH")
	if err != nil {
		t.Fatalf("deposited: %v", err)
	}
	if deposited.Cmp(amt("8000000000000000000")) != 0 {
		t.Fatalf("unexpected collateral: %s", deposited)
	}
	if h.bank.balance("WETH", caller).Cmp(amt("2000000000000000000")) != 0 {
		t.Fatalf("collateral not returned: %s", h.bank.balance("WETH", caller))
	}
}

func TestRedeemForSynthUnwindsOnHealthFailure(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("10000000000000000000"))
	if err := h.engine.DepositCollateral(caller, "WETH", amt("10000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.Mint(caller, amt("10000000000000000000000")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Burning 1000 units frees 1 WETH of headroom; withdrawing 2 breaks it.
	err := h.engine.RedeemForSynth(caller, "WETH", amt("2000000000000000000"), amt("1000000000000000000000"))
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactorError, got %v", err)
	}
	if h.synth.balance(caller).Cmp(amt("10000000000000000000000")) != 0 {
		t.Fatalf("burn not unwound: %s", h.synth.balance(caller))
	}
	debt, err := h.engine.Debt(caller)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(amt("10000000000000000000000")) != 0 {
		t.Fatalf("debt should be unchanged: %s", debt)
	}
	if h.bank.balance("WETH", caller).Sign() != 0 {
		t.Fatalf("collateral should remain in custody, got %s", h.bank.balance("WETH", caller))
	}
}

func TestHaltBlocksMutations(t *testing.T) {
	h := newTestHarness(t)
	caller := makeAddress(0x20)
	h.bank.credit("WETH", caller, amt("1000000000000000000"))
	h.engine.SetHalted(true)

	if err := h.engine.DepositCollateral(caller, "WETH", amt("1000000000000000000")); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
	if err := h.engine.Mint(caller, big.NewInt(1)); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}

	h.engine.SetHalted(false)
	if err := h.engine.DepositCollateral(caller, "WETH", amt("1000000000000000000")); err != nil {
		t.Fatalf("deposit after resume: %v", err)
	}
}

func TestEngineRequiresState(t *testing.T) {
	prices := newStubPrices()
	prices.set("WETH", amt("200000000000"), 8)
	engine, err := NewEngine([]CollateralAsset{{Symbol: "WETH", FeedID: "manual", Decimals: 18}}, prices, newMockBank(), newMockSynth(), makeAddress(0x01))
	if err != nil {
		t.Fatalf("construct engine: %v", err)
	}
	if err := engine.Mint(makeAddress(0x20), big.NewInt(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestEngineRejectsDuplicateAssets(t *testing.T) {
	prices := newStubPrices()
	_, err := NewEngine([]CollateralAsset{
		{Symbol: "WETH", FeedID: "manual", Decimals: 18},
		{Symbol: "weth", FeedID: "coingecko", Decimals: 18},
	}, prices, newMockBank(), newMockSynth(), makeAddress(0x01))
	if err == nil {
		t.Fatal("expected duplicate asset rejection")
	}
}

func TestEngineRejectsEmptyRegistry(t *testing.T) {
	if _, err := NewEngine(nil, newStubPrices(), newMockBank(), newMockSynth(), makeAddress(0x01)); err == nil {
		t.Fatal("expected empty registry rejection")
	}
}

func TestStaleFeedFailsValuationRegardlessOfHoldings(t *testing.T) {
	custody := makeAddress(0x01)
	prices := newStubPrices()
	prices.set("WETH", amt("200000000000"), 8)
	prices.errs["WBTC"] = oracle.ErrStalePrice
	bank := newMockBank()
	synth := newMockSynth()
	engine, err := NewEngine([]CollateralAsset{
		{Symbol: "WETH", FeedID: "manual", Decimals: 18},
		{Symbol: "WBTC", FeedID: "manual", Decimals: 18},
	}, prices, bank, synth, custody)
	if err != nil {
		t.Fatalf("construct engine: %v", err)
	}
	engine.SetState(newMockEngineState())

	caller := makeAddress(0x20)
	bank.credit("WETH", caller, amt("1000000000000000000"))
	if err := engine.DepositCollateral(caller, "WETH", amt("1000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// The position holds no WBTC, but its stale feed still fails valuation.
	if err := engine.Mint(caller, big.NewInt(1)); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}
