package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"stablemint/crypto"
)

var (
	errBankAmount       = errors.New("token bank: amount must be positive")
	errBankBalance      = errors.New("token bank: insufficient balance")
	errBankUnknownAsset = errors.New("token bank: asset not registered")
)

// Bank is the fungible-asset transfer collaborator holding collateral token
// balances. The engine debits depositors into its custody account and credits
// them back on redemption.
type Bank struct {
	mu       sync.RWMutex
	balances map[string]map[string]*big.Int
}

// NewBank constructs a bank tracking balances for the provided asset symbols.
func NewBank(symbols []string) *Bank {
	balances := make(map[string]map[string]*big.Int, len(symbols))
	for _, symbol := range symbols {
		canonical := normaliseSymbol(symbol)
		if canonical == "" {
			continue
		}
		balances[canonical] = make(map[string]*big.Int)
	}
	return &Bank{balances: balances}
}

// Credit mints balance out of band, used for genesis funding and tests.
func (b *Bank) Credit(symbol string, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errBankAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.balances[normaliseSymbol(symbol)]
	if !ok {
		return fmt.Errorf("%w: %s", errBankUnknownAsset, symbol)
	}
	key := addressKey(to)
	current := book[key]
	if current == nil {
		current = big.NewInt(0)
	}
	book[key] = new(big.Int).Add(current, amount)
	return nil
}

// Transfer moves amount of the asset from one account to another, failing
// without side effects when the sender balance is insufficient.
func (b *Bank) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errBankAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.balances[normaliseSymbol(symbol)]
	if !ok {
		return fmt.Errorf("%w: %s", errBankUnknownAsset, symbol)
	}
	fromKey := addressKey(from)
	fromBal := book[fromKey]
	if fromBal == nil || fromBal.Cmp(amount) < 0 {
		return errBankBalance
	}
	toKey := addressKey(to)
	toBal := book[toKey]
	if toBal == nil {
		toBal = big.NewInt(0)
	}
	book[fromKey] = new(big.Int).Sub(fromBal, amount)
	book[toKey] = new(big.Int).Add(toBal, amount)
	return nil
}

// BalanceOf returns the current balance for the account, zero when unknown.
func (b *Bank) BalanceOf(symbol string, addr crypto.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	book, ok := b.balances[normaliseSymbol(symbol)]
	if !ok {
		return big.NewInt(0)
	}
	balance := book[addressKey(addr)]
	if balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

func addressKey(addr crypto.Address) string {
	return string(addr.Prefix()) + ":" + string(addr.Bytes())
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
