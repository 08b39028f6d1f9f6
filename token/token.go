package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when the owner balance cannot cover a
	// transfer.
	ErrInsufficientFunds = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a pull-payment exceeds the
	// allowance granted to the recipient.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Ledger is the narrow fungible-asset interface the marketplace depends on.
// The engine never inspects the ledger's internal accounting; it only moves
// value through the two transfer paths. A failed transfer must return a
// non-nil error and leave balances untouched.
type Ledger interface {
	// TransferFrom is the pull-payment path: the recipient withdraws amount
	// from owner against an allowance the owner granted to the recipient.
	TransferFrom(owner, recipient [20]byte, amount *big.Int) error
	// Transfer is the push-payment path moving amount from sender to
	// recipient.
	Transfer(sender, recipient [20]byte, amount *big.Int) error
	// BalanceOf reports the current balance of the supplied account.
	BalanceOf(owner [20]byte) *big.Int
}

type allowanceKey struct {
	owner   [20]byte
	spender [20]byte
}

// MemoryLedger is an in-process Ledger with explicit approve/allowance
// semantics. It backs the development daemon and the engine tests; production
// deployments substitute a real settlement ledger behind the same interface.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[[20]byte]*big.Int
	allowances map[allowanceKey]*big.Int
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Mint credits freshly created units to the supplied account.
func (l *MemoryLedger) Mint(owner [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative mint amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = new(big.Int).Add(l.balanceLocked(owner), amt)
	return nil
}

// Approve sets the allowance the spender may pull from owner.
func (l *MemoryLedger) Approve(owner, spender [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative allowance")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner: owner, spender: spender}] = amt
	return nil
}

// Allowance reports the remaining amount the spender may pull from owner.
func (l *MemoryLedger) Allowance(owner, spender [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(existing)
	}
	return big.NewInt(0)
}

// TransferFrom implements the Ledger pull-payment path.
func (l *MemoryLedger) TransferFrom(owner, recipient [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{owner: owner, spender: recipient}
	allowed, ok := l.allowances[key]
	if !ok || allowed.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.moveLocked(owner, recipient, amt); err != nil {
		return err
	}
	l.allowances[key] = new(big.Int).Sub(allowed, amt)
	return nil
}

// Transfer implements the Ledger push-payment path.
func (l *MemoryLedger) Transfer(sender, recipient [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(sender, recipient, amt)
}

// BalanceOf implements the Ledger interface.
func (l *MemoryLedger) BalanceOf(owner [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(owner))
}

func (l *MemoryLedger) balanceLocked(owner [20]byte) *big.Int {
	if existing, ok := l.balances[owner]; ok && existing != nil {
		return existing
	}
	return big.NewInt(0)
}

func (l *MemoryLedger) moveLocked(from, to [20]byte, amt *big.Int) error {
	fromBal := l.balanceLocked(from)
	if fromBal.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	l.balances[from] = new(big.Int).Sub(fromBal, amt)
	l.balances[to] = new(big.Int).Add(l.balanceLocked(to), amt)
	return nil
}
