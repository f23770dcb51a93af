package transfer

import (
	"errors"

	"github.com/calyxpay/lib-offers/offers/safe"
)

// Ledger maps accounts to spendable balances.
//
// Balances are never negative. Total supply changes only through Mint and
// Burn; every other mutation preserves the sum of balances plus the escrow
// held in pending offers.
type Ledger struct {
	balances map[Account]int64
	supply   int64
}

// NewLedger creates an empty ledger with zero supply.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[Account]int64)}
}

// BalanceOf returns the spendable balance of an account. Unknown accounts
// hold zero.
func (l *Ledger) BalanceOf(account Account) int64 {
	return l.balances[account]
}

// TotalSupply returns the sum of all balances plus all escrowed amounts.
func (l *Ledger) TotalSupply() int64 {
	return l.supply
}

// Debit removes amount from the account's balance.
func (l *Ledger) Debit(account Account, amount int64) error {
	if amount <= 0 {
		return NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	current := l.balances[account]
	if amount > current {
		return NewDomainError(ErrorInsufficientBalance, "amount", "amount exceeds spendable balance")
	}

	l.balances[account] = current - amount

	return nil
}

// Credit adds amount to the account's balance.
func (l *Ledger) Credit(account Account, amount int64) error {
	if amount <= 0 {
		return NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	next, err := safe.AddInt64(l.balances[account], amount)
	if err != nil {
		if errors.Is(err, safe.ErrOverflow) {
			return NewDomainError(ErrorOverflow, "amount", "credit would overflow balance")
		}

		return err
	}

	l.balances[account] = next

	return nil
}

// Mint credits an account and grows total supply. Supply operations belong
// to the hosting environment, not to the offer protocol.
func (l *Ledger) Mint(account Account, amount int64) error {
	if amount <= 0 {
		return NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	supply, err := safe.AddInt64(l.supply, amount)
	if err != nil {
		return NewDomainError(ErrorOverflow, "amount", "mint would overflow total supply")
	}

	if err := l.Credit(account, amount); err != nil {
		return err
	}

	l.supply = supply

	return nil
}

// Burn debits an account and shrinks total supply.
func (l *Ledger) Burn(account Account, amount int64) error {
	if err := l.Debit(account, amount); err != nil {
		return err
	}

	l.supply -= amount

	return nil
}

// BalanceSum returns the sum of all spendable balances. Used together with
// Store.EscrowTotal to verify conservation: balances + escrow == supply.
func (l *Ledger) BalanceSum() int64 {
	var sum int64
	for _, balance := range l.balances {
		sum += balance
	}

	return sum
}

// allowanceKey identifies a delegated spending grant.
type allowanceKey struct {
	owner   Account
	spender Account
}

// AllowanceRegistry maps (owner, spender) pairs to delegated spending caps.
type AllowanceRegistry struct {
	allowances map[allowanceKey]int64
}

// NewAllowanceRegistry creates an empty allowance registry.
func NewAllowanceRegistry() *AllowanceRegistry {
	return &AllowanceRegistry{allowances: make(map[allowanceKey]int64)}
}

// Approve sets, overwriting, the cap the spender may draw from the owner.
func (r *AllowanceRegistry) Approve(owner, spender Account, amount int64) error {
	if amount < 0 {
		return NewDomainError(ErrorInvalidInput, "amount", "allowance must not be negative")
	}

	r.allowances[allowanceKey{owner: owner, spender: spender}] = amount

	return nil
}

// AllowanceOf returns the remaining cap for the (owner, spender) pair.
func (r *AllowanceRegistry) AllowanceOf(owner, spender Account) int64 {
	return r.allowances[allowanceKey{owner: owner, spender: spender}]
}

// Consume decrements the cap by amount.
func (r *AllowanceRegistry) Consume(owner, spender Account, amount int64) error {
	if amount <= 0 {
		return NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	key := allowanceKey{owner: owner, spender: spender}

	current := r.allowances[key]
	if amount > current {
		return NewDomainError(ErrorAllowanceExceeded, "amount", "amount exceeds remaining allowance")
	}

	r.allowances[key] = current - amount

	return nil
}

// refund restores previously consumed allowance after a failed delegated
// offer. Internal: only the engine's rollback path may call it.
func (r *AllowanceRegistry) refund(owner, spender Account, amount int64) {
	r.allowances[allowanceKey{owner: owner, spender: spender}] += amount
}
