package token

import (
	"errors"
	"math/big"
	"sync"

	"stablemint/crypto"
)

var (
	errSynthAmount    = errors.New("synthetic token: amount must be positive")
	errSynthBalance   = errors.New("synthetic token: insufficient balance")
	errAuthorityTaken = errors.New("synthetic token: mint authority already claimed")
)

// Synthetic is the pegged-unit ledger. It exposes standard fungible balance
// and transfer semantics; issuing and destroying supply is reserved to the
// single MintAuthority claimed at deployment.
type Synthetic struct {
	mu          sync.RWMutex
	symbol      string
	balances    map[string]*big.Int
	totalSupply *big.Int
	claimed     bool
}

// NewSynthetic constructs an empty synthetic-unit ledger.
func NewSynthetic(symbol string) *Synthetic {
	return &Synthetic{
		symbol:      normaliseSymbol(symbol),
		balances:    make(map[string]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

// Symbol returns the ledger's display symbol.
func (s *Synthetic) Symbol() string {
	return s.symbol
}

// ClaimAuthority hands out the token's mint/burn capability exactly once.
// There is deliberately no way to release or re-issue it afterwards.
func (s *Synthetic) ClaimAuthority() (*MintAuthority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return nil, errAuthorityTaken
	}
	s.claimed = true
	return &MintAuthority{token: s}, nil
}

// Transfer moves synthetic units between accounts.
func (s *Synthetic) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errSynthAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fromKey := addressKey(from)
	fromBal := s.balances[fromKey]
	if fromBal == nil || fromBal.Cmp(amount) < 0 {
		return errSynthBalance
	}
	toKey := addressKey(to)
	toBal := s.balances[toKey]
	if toBal == nil {
		toBal = big.NewInt(0)
	}
	s.balances[fromKey] = new(big.Int).Sub(fromBal, amount)
	s.balances[toKey] = new(big.Int).Add(toBal, amount)
	return nil
}

// BalanceOf returns the synthetic balance for the account, zero when unknown.
func (s *Synthetic) BalanceOf(addr crypto.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance := s.balances[addressKey(addr)]
	if balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// TotalSupply returns the outstanding synthetic supply.
func (s *Synthetic) TotalSupply() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.totalSupply)
}

// MintAuthority is the capability object controlling supply. The issuance
// engine holds the only instance.
type MintAuthority struct {
	token *Synthetic
}

// Mint issues amount to the recipient account.
func (a *MintAuthority) Mint(to crypto.Address, amount *big.Int) error {
	if a == nil || a.token == nil {
		return errors.New("synthetic token: authority not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return errSynthAmount
	}
	s := a.token
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addressKey(to)
	balance := s.balances[key]
	if balance == nil {
		balance = big.NewInt(0)
	}
	s.balances[key] = new(big.Int).Add(balance, amount)
	s.totalSupply = new(big.Int).Add(s.totalSupply, amount)
	return nil
}

// Burn destroys amount from the holder's balance, failing without side
// effects when the balance is insufficient.
func (a *MintAuthority) Burn(from crypto.Address, amount *big.Int) error {
	if a == nil || a.token == nil {
		return errors.New("synthetic token: authority not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return errSynthAmount
	}
	s := a.token
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addressKey(from)
	balance := s.balances[key]
	if balance == nil || balance.Cmp(amount) < 0 {
		return errSynthBalance
	}
	s.balances[key] = new(big.Int).Sub(balance, amount)
	s.totalSupply = new(big.Int).Sub(s.totalSupply, amount)
	return nil
}
