package fees

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"tradepost/storage"
)

const bpsDenominator = 10_000

var (
	// ErrFeeOverflow is returned when the computed fee would exceed the price
	// it is charged on. This is only reachable with a rate above 10000 bps.
	ErrFeeOverflow = errors.New("fees: fee exceeds price")
	// ErrRateTooHigh rejects a rate above the configured cap.
	ErrRateTooHigh = errors.New("fees: rate above configured cap")
	// ErrNothingAccrued is returned by Withdraw when the accrued balance is
	// zero.
	ErrNothingAccrued = errors.New("fees: no accrued balance")
)

var (
	rateKey    = []byte("fees/rate")
	accruedKey = []byte("fees/accrued")
)

// Compute returns price * bps / 10000 with floor division, guarding against
// the degenerate case where the fee would exceed the price.
func Compute(price *big.Int, bps uint32) (*big.Int, error) {
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("fees: price must be non-negative")
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(bps)))
	fee.Div(fee, big.NewInt(bpsDenominator))
	if fee.Cmp(price) > 0 {
		return nil, ErrFeeOverflow
	}
	return fee, nil
}

type snapshot struct {
	RateBps uint32 `json:"rateBps"`
	Accrued string `json:"accrued"`
}

// Ledger tracks the current fee rate and the accumulated-but-unwithdrawn fee
// balance. Accrual is fungible: no per-listing fee tracking is kept.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	rateBps uint32
	maxBps  uint32
	accrued *big.Int
}

// NewLedger builds a fee ledger with the supplied initial rate and cap. A nil
// database disables persistence. A maxBps of zero defaults the cap to the full
// 10000 bps range.
func NewLedger(db storage.Database, rateBps, maxBps uint32) (*Ledger, error) {
	if maxBps == 0 {
		maxBps = bpsDenominator
	}
	if rateBps > maxBps {
		return nil, fmt.Errorf("%w: %d > %d", ErrRateTooHigh, rateBps, maxBps)
	}
	return &Ledger{db: db, rateBps: rateBps, maxBps: maxBps, accrued: big.NewInt(0)}, nil
}

// Load restores the persisted rate and accrued balance, if any.
func (l *Ledger) Load() error {
	if l.db == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.db.Get(accruedKey)
	if err == nil {
		var snap snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("fees: decode snapshot: %w", err)
		}
		accrued, ok := new(big.Int).SetString(snap.Accrued, 10)
		if !ok {
			return fmt.Errorf("fees: invalid accrued balance %q", snap.Accrued)
		}
		if accrued.Sign() < 0 {
			return fmt.Errorf("fees: negative accrued balance")
		}
		if snap.RateBps > l.maxBps {
			return fmt.Errorf("%w: persisted rate %d", ErrRateTooHigh, snap.RateBps)
		}
		l.rateBps = snap.RateBps
		l.accrued = accrued
		return nil
	}
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (l *Ledger) persistLocked() error {
	if l.db == nil {
		return nil
	}
	snap := snapshot{RateBps: l.rateBps, Accrued: l.accrued.String()}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := l.db.Put(accruedKey, raw); err != nil {
		return err
	}
	// The rate is duplicated under its own key so operators can inspect it
	// without decoding the snapshot.
	return l.db.Put(rateKey, []byte(fmt.Sprintf("%d", l.rateBps)))
}

// Rate returns the fee rate currently in effect, in basis points.
func (l *Ledger) Rate() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rateBps
}

// MaxRate returns the configured upper bound for SetRate.
func (l *Ledger) MaxRate() uint32 {
	return l.maxBps
}

// SetRate overwrites the fee rate. Rates above the configured cap are
// rejected.
func (l *Ledger) SetRate(bps uint32) error {
	if bps > l.maxBps {
		return fmt.Errorf("%w: %d > %d", ErrRateTooHigh, bps, l.maxBps)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rateBps = bps
	return l.persistLocked()
}

// ComputeAtCurrentRate computes the fee owed on price at the rate in effect
// right now.
func (l *Ledger) ComputeAtCurrentRate(price *big.Int) (*big.Int, error) {
	return Compute(price, l.Rate())
}

// Accrue adds amount to the platform's unwithdrawn fee balance.
func (l *Ledger) Accrue(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("fees: accrual must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accrued = new(big.Int).Add(l.accrued, amount)
	return l.persistLocked()
}

// Deduct subtracts amount from the accrued balance. It is the rollback
// counterpart of Accrue for operations that fail after accrual.
func (l *Ledger) Deduct(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("fees: deduction must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accrued.Cmp(amount) < 0 {
		return fmt.Errorf("fees: deduction exceeds accrued balance")
	}
	l.accrued = new(big.Int).Sub(l.accrued, amount)
	return l.persistLocked()
}

// Collected returns the accumulated-but-unwithdrawn fee balance.
func (l *Ledger) Collected() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.accrued)
}

// Withdraw zeroes the accrued balance and returns the amount that was held.
// Callers transfer the returned amount out of custody and must call Accrue to
// restore it if the transfer fails.
func (l *Ledger) Withdraw() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accrued.Sign() == 0 {
		return nil, ErrNothingAccrued
	}
	amount := l.accrued
	l.accrued = big.NewInt(0)
	if err := l.persistLocked(); err != nil {
		l.accrued = amount
		return nil, err
	}
	return amount, nil
}
