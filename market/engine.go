package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"tradepost/access"
	"tradepost/events"
	"tradepost/fees"
	"tradepost/token"
)

var (
	errNilStore  = errors.New("market engine: store not configured")
	errNilLedger = errors.New("market engine: token ledger not configured")
	errNilGate   = errors.New("market engine: access gate not configured")
	errNilFees   = errors.New("market engine: fee ledger not configured")
	errNilVault  = errors.New("market engine: vault address not configured")

	// ErrInvalidPrice rejects non-positive or above-maximum prices.
	ErrInvalidPrice = errors.New("market: invalid price")
	// ErrInvalidTitle rejects empty or oversized titles.
	ErrInvalidTitle = errors.New("market: invalid title")
	// ErrInvalidStatus signals an operation attempted in the wrong lifecycle
	// state.
	ErrInvalidStatus = errors.New("market: invalid listing status")
	// ErrSelfPurchase rejects a seller buying their own listing.
	ErrSelfPurchase = errors.New("market: seller cannot buy own listing")
	// ErrNotSeller signals the caller is not the listing's seller.
	ErrNotSeller = errors.New("market: caller is not the seller")
	// ErrNotBuyer signals the caller is not the listing's buyer.
	ErrNotBuyer = errors.New("market: caller is not the buyer")
	// ErrNotParticipant signals the caller is neither buyer nor seller.
	ErrNotParticipant = errors.New("market: caller is not a party to the listing")
	// ErrListingExpired signals the listing's expiry window has lapsed.
	ErrListingExpired = errors.New("market: listing expired")
	// ErrListingNotExpired signals a relist attempt on a live listing.
	ErrListingNotExpired = errors.New("market: listing not expired")
	// ErrAlreadyReleased signals the escrow's funds have already been
	// transferred once this purchase cycle.
	ErrAlreadyReleased = errors.New("market: escrow already released")
	// ErrNoActiveEscrow signals a release path invoked with no funds in
	// custody.
	ErrNoActiveEscrow = errors.New("market: no active escrow")
	// ErrLockNotElapsed signals a timed release before the lock period ends.
	ErrLockNotElapsed = errors.New("market: lock period not elapsed")
	// ErrListingBusy signals another operation currently holds the listing.
	// Callers resubmit; the engine never retries internally.
	ErrListingBusy = errors.New("market: listing busy")
	// ErrPaused signals the marketplace is administratively paused.
	ErrPaused = errors.New("market: module paused")
	// ErrTransferFailed wraps a token collaborator failure. The operation's
	// local state has been rolled back when this is returned.
	ErrTransferFailed = errors.New("market: token transfer failed")
)

// Params carries the business-level timers and the policy knobs whose values
// differ between deployments.
type Params struct {
	// ListingDuration is the fixed lifetime of a listing, in seconds.
	ListingDuration int64
	// LockPeriod is the minimum custody duration before the seller may force
	// release without buyer confirmation, in seconds.
	LockPeriod int64
	// AllowExpiredBuy permits purchases of lapsed listings when true.
	AllowExpiredBuy bool
	// CollectDisputeFee keeps the platform fee on buyer-favored dispute
	// outcomes when true. The default makes the buyer whole.
	CollectDisputeFee bool
}

const (
	DefaultListingDuration = int64(30 * 24 * time.Hour / time.Second)
	DefaultLockPeriod      = int64(7 * 24 * time.Hour / time.Second)
)

func (p Params) normalized() Params {
	if p.ListingDuration <= 0 {
		p.ListingDuration = DefaultListingDuration
	}
	if p.LockPeriod <= 0 {
		p.LockPeriod = DefaultLockPeriod
	}
	return p
}

// Engine orchestrates the listing/escrow lifecycle: it validates via the
// access gate and expiry clock, mutates the listing store, computes via the
// fee ledger, and finally invokes the external token ledger. Every mutating
// call commits entirely or has zero effect.
type Engine struct {
	store   *Store
	ledger  token.Ledger
	gate    *access.Gate
	fees    *fees.Ledger
	emitter events.Emitter
	nowFn   func() int64
	vault   [20]byte
	params  Params

	mu     sync.Mutex
	locks  map[uint64]*sync.Mutex
	paused bool
}

// NewEngine wires the marketplace engine. The vault is the engine's custody
// identity on the token ledger.
func NewEngine(store *Store, ledger token.Ledger, gate *access.Gate, feeLedger *fees.Ledger, vault [20]byte, params Params) (*Engine, error) {
	if store == nil {
		return nil, errNilStore
	}
	if ledger == nil {
		return nil, errNilLedger
	}
	if gate == nil {
		return nil, errNilGate
	}
	if feeLedger == nil {
		return nil, errNilFees
	}
	if vault == ([20]byte{}) {
		return nil, errNilVault
	}
	return &Engine{
		store:   store,
		ledger:  ledger,
		gate:    gate,
		fees:    feeLedger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		vault:   vault,
		params:  params.normalized(),
		locks:   make(map[uint64]*sync.Mutex),
	}, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Vault returns the engine's custody address on the token ledger.
func (e *Engine) Vault() [20]byte { return e.vault }

// Gate exposes the access gate for the administrative surface.
func (e *Engine) Gate() *access.Gate { return e.gate }

func (e *Engine) emit(record *events.Record) {
	if e == nil || e.emitter == nil || record == nil {
		return
	}
	e.emitter.Emit(record)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockListing acquires the per-listing execution lock. The lock is held for
// the full operation including the external token call, so a reentrant or
// concurrent attempt on the same listing fails fast with ErrListingBusy
// instead of observing partially committed state. Cross-listing calls are not
// serialized against each other.
func (e *Engine) lockListing(id uint64) (func(), error) {
	e.mu.Lock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	e.mu.Unlock()
	if !lock.TryLock() {
		return nil, ErrListingBusy
	}
	return lock.Unlock, nil
}

func (e *Engine) guard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return ErrPaused
	}
	return nil
}

// Pause halts all mutating listing operations. Admin only.
func (e *Engine) Pause(caller [20]byte) error {
	if !e.gate.HasRole(access.RoleAdmin, caller) {
		return access.ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

// Resume lifts an administrative pause. Admin only.
func (e *Engine) Resume(caller [20]byte) error {
	if !e.gate.HasRole(access.RoleAdmin, caller) {
		return access.ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	return nil
}

func isExpiredAt(l *Listing, now int64) bool {
	return l != nil && l.Status == StatusListed && now > l.ExpiresAt
}

// CreateListing validates the offer and appends a new listing. The caller
// becomes the seller. No escrow is armed yet.
func (e *Engine) CreateListing(caller [20]byte, price *big.Int, title string) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if caller == ([20]byte{}) {
		return 0, fmt.Errorf("market: seller address required")
	}
	if price == nil || price.Sign() <= 0 {
		return 0, fmt.Errorf("%w: price must be positive", ErrInvalidPrice)
	}
	if price.Cmp(MaxPrice) > 0 {
		return 0, fmt.Errorf("%w: price above maximum", ErrInvalidPrice)
	}
	trimmed := strings.TrimSpace(title)
	if trimmed == "" || len(trimmed) > MaxTitleLen {
		return 0, fmt.Errorf("%w: length must be 1..%d", ErrInvalidTitle, MaxTitleLen)
	}
	fee, err := e.fees.ComputeAtCurrentRate(price)
	if err != nil {
		return 0, err
	}
	now := e.now()
	listing := &Listing{
		Seller:    caller,
		Price:     cloneAmount(price),
		Title:     trimmed,
		Fee:       fee,
		Status:    StatusListed,
		CreatedAt: now,
		ExpiresAt: now + e.params.ListingDuration,
	}
	id, err := e.store.Append(listing)
	if err != nil {
		return 0, err
	}
	listing.ID = id
	e.emit(NewListingCreatedEvent(listing))
	return id, nil
}

// IsExpired reports whether the listing has lapsed. Only Listed items can
// expire; once bought, an item is immune regardless of elapsed time.
func (e *Engine) IsExpired(id uint64) (bool, error) {
	listing, err := e.store.Get(id)
	if err != nil {
		return false, err
	}
	return isExpiredAt(listing, e.now()), nil
}

// GetListing returns the listing with the derived Expired overlay applied.
// The stored status is never mutated by this query.
func (e *Engine) GetListing(id uint64) (*Listing, error) {
	listing, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if isExpiredAt(listing, e.now()) {
		listing.Status = StatusExpired
	}
	return listing, nil
}

// GetAllListings returns every listing in id order with the derived Expired
// overlay applied.
func (e *Engine) GetAllListings() []*Listing {
	now := e.now()
	listings := e.store.All()
	for _, l := range listings {
		if isExpiredAt(l, now) {
			l.Status = StatusExpired
		}
	}
	return listings
}

// GetListingCount returns the number of listings ever created.
func (e *Engine) GetListingCount() uint64 {
	return e.store.Count()
}

// GetEscrowInfo returns the listing's embedded escrow record.
func (e *Engine) GetEscrowInfo(id uint64) (Escrow, error) {
	listing, err := e.store.Get(id)
	if err != nil {
		return Escrow{}, err
	}
	return listing.Escrow, nil
}

// Relist puts an expired listing back on the market with a fresh expiry
// window, recomputing the fee at the current rate. Seller only.
func (e *Engine) Relist(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	unlock, err := e.lockListing(id)
	if err != nil {
		return err
	}
	defer unlock()
	listing, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	now := e.now()
	if !isExpiredAt(listing, now) {
		return ErrListingNotExpired
	}
	fee, err := e.fees.ComputeAtCurrentRate(listing.Price)
	if err != nil {
		return err
	}
	listing.Fee = fee
	listing.ExpiresAt = now + e.params.ListingDuration
	listing.Status = StatusListed
	if err := e.store.Put(listing); err != nil {
		return err
	}
	e.emit(NewListingRelistedEvent(listing))
	return nil
}

// InitiateBuy pulls price+fee from the caller into custody and moves the
// listing to BuyerPaid. Escrow fields commit before the pull-transfer; if the
// transfer fails the whole operation is rolled back.
func (e *Engine) InitiateBuy(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller == ([20]byte{}) {
		return fmt.Errorf("market: buyer address required")
	}
	unlock, err := e.lockListing(id)
	if err != nil {
		return err
	}
	defer unlock()
	listing, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if listing.Status != StatusListed {
		return fmt.Errorf("%w: cannot buy in status %s", ErrInvalidStatus, listing.Status)
	}
	now := e.now()
	if isExpiredAt(listing, now) && !e.params.AllowExpiredBuy {
		e.emit(NewListingExpiredEvent(listing))
		return ErrListingExpired
	}
	if listing.Seller == caller {
		return ErrSelfPurchase
	}
	snapshot := listing.Clone()
	total := new(big.Int).Add(listing.Price, listing.Fee)
	listing.Buyer = caller
	listing.Status = StatusBuyerPaid
	listing.Escrow = Escrow{
		Amount:     cloneAmount(listing.Price),
		Fee:        cloneAmount(listing.Fee),
		LockedTime: now,
		Released:   false,
	}
	if err := e.store.Put(listing); err != nil {
		return err
	}
	if err := e.ledger.TransferFrom(caller, e.vault, total); err != nil {
		if restoreErr := e.store.Put(snapshot); restoreErr != nil {
			return fmt.Errorf("market: rollback failed after transfer error %v: %w", err, restoreErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(NewBuyerSetEvent(listing))
	e.emit(NewEscrowLockedEvent(listing))
	e.emit(NewStatusUpdatedEvent(listing))
	return nil
}

// ConfirmTransaction releases escrowed funds to the seller on the buyer's
// confirmation. Buyer only.
func (e *Engine) ConfirmTransaction(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	unlock, err := e.lockListing(id)
	if err != nil {
		return err
	}
	defer unlock()
	listing, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if listing.Status != StatusBuyerPaid {
		return fmt.Errorf("%w: cannot confirm in status %s", ErrInvalidStatus, listing.Status)
	}
	if listing.Buyer != caller {
		return ErrNotBuyer
	}
	if listing.Escrow.Released {
		return ErrAlreadyReleased
	}
	return e.settleToSeller(listing)
}

// RequestEscrowRelease is the seller's safety valve for an unresponsive
// buyer: after the lock period it has the same effect as a confirmation.
func (e *Engine) RequestEscrowRelease(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	unlock, err := e.lockListing(id)
	if err != nil {
		return err
	}
	defer unlock()
	listing, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if listing.Status != StatusBuyerPaid {
		return fmt.Errorf("%w: cannot release in status %s", ErrInvalidStatus, listing.Status)
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	if listing.Escrow.Released {
		return ErrAlreadyReleased
	}
	if e.now() < listing.Escrow.LockedTime+e.params.LockPeriod {
		return ErrLockNotElapsed
	}
	return e.settleToSeller(listing)
}

// MarkDispute flags a paid listing as contested. Buyer or seller only.
func (e *Engine) MarkDispute(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	unlock, err := e.lockListing(id)
	if err != nil {
		return err
	}
	defer unlock()
	listing, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if listing.Status != StatusBuyerPaid {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidStatus, listing.Status)
	}
	if caller != listing.Buyer && caller != listing.Seller {
		return ErrNotParticipant
	}
	listing.Status = StatusDispute
	if err := e.store.Put(listing); err != nil {
		return err
	}
	e.emit(NewStatusUpdatedEvent(listing))
	return nil
}

// HandleDispute settles a contested escrow. Dispute handler only. Exactly one
// disposition occurs: a refund returns principal+fee to the buyer and puts
// the listing back on the market; otherwise the seller is paid out as if
// confirmed.
func (e *Engine) HandleDispute(id uint64, caller [20]byte, refundBuyer bool) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !e.gate.HasRole(access.RoleDisputeHandler, caller) {
		return access.ErrUnauthorized
	}
	unlock, err := e.lockListing(id)
	if err != nil {
		return err
	}
	defer unlock()
	listing, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if listing.Escrow.Released {
		return ErrAlreadyReleased
	}
	if !listing.Escrow.Armed() || !listing.HasBuyer() {
		return ErrNoActiveEscrow
	}
	if !refundBuyer {
		if err := e.settleToSeller(listing); err != nil {
			return err
		}
		e.emit(NewDisputeResolvedEvent(listing, false))
		return nil
	}

	snapshot := listing.Clone()
	buyer := listing.Buyer
	refund := cloneAmount(listing.Escrow.Amount)
	fee := cloneAmount(listing.Escrow.Fee)
	keepFee := e.params.CollectDisputeFee
	if !keepFee {
		refund = refund.Add(refund, fee)
	}
	// The listing re-enters the market: buyer cleared, escrow zeroed and
	// rearmed for the next purchase cycle. State commits before the outbound
	// transfer so a reentrant call sees the already-settled record.
	listing.Buyer = [20]byte{}
	listing.Status = StatusListed
	listing.Escrow = Escrow{}
	if err := e.store.Put(listing); err != nil {
		return err
	}
	if keepFee {
		if err := e.fees.Accrue(fee); err != nil {
			_ = e.store.Put(snapshot)
			return err
		}
	}
	if err := e.ledger.Transfer(e.vault, buyer, refund); err != nil {
		if keepFee {
			_ = e.fees.Deduct(fee)
		}
		if restoreErr := e.store.Put(snapshot); restoreErr != nil {
			return fmt.Errorf("market: rollback failed after transfer error %v: %w", err, restoreErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(NewDisputeResolvedEvent(listing, true))
	e.emit(NewFundsReleasedEvent(listing, buyer))
	e.emit(NewStatusUpdatedEvent(listing))
	return nil
}

// settleToSeller drains the escrow toward the seller and finalizes the
// listing. The released flag and status commit before the outbound transfer;
// a transfer failure rolls back both the record and the fee accrual.
func (e *Engine) settleToSeller(listing *Listing) error {
	snapshot := listing.Clone()
	amount := cloneAmount(listing.Escrow.Amount)
	fee := cloneAmount(listing.Escrow.Fee)
	listing.Escrow.Released = true
	listing.Status = StatusFinalized
	if err := e.store.Put(listing); err != nil {
		return err
	}
	if err := e.fees.Accrue(fee); err != nil {
		_ = e.store.Put(snapshot)
		return err
	}
	if err := e.ledger.Transfer(e.vault, listing.Seller, amount); err != nil {
		_ = e.fees.Deduct(fee)
		if restoreErr := e.store.Put(snapshot); restoreErr != nil {
			return fmt.Errorf("market: rollback failed after transfer error %v: %w", err, restoreErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(NewFundsReleasedEvent(listing, listing.Seller))
	e.emit(NewStatusUpdatedEvent(listing))
	return nil
}

// SetFee overwrites the platform fee rate. Fee admin only.
func (e *Engine) SetFee(caller [20]byte, bps uint32) error {
	if !e.gate.HasRole(access.RoleFeeAdmin, caller) {
		return access.ErrUnauthorized
	}
	if err := e.fees.SetRate(bps); err != nil {
		return err
	}
	e.emit(NewFeeSetEvent(bps))
	return nil
}

// GetFee returns the fee rate currently in effect, in basis points.
func (e *Engine) GetFee() uint32 {
	return e.fees.Rate()
}

// ViewCollectedFee returns the accrued-but-unwithdrawn platform fee balance.
func (e *Engine) ViewCollectedFee() *big.Int {
	return e.fees.Collected()
}

// WithdrawFee zeroes the accrued fee balance and transfers it to the caller.
// Fee admin only; fails when the balance is zero.
func (e *Engine) WithdrawFee(caller [20]byte) (*big.Int, error) {
	if !e.gate.HasRole(access.RoleFeeAdmin, caller) {
		return nil, access.ErrUnauthorized
	}
	amount, err := e.fees.Withdraw()
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(e.vault, caller, amount); err != nil {
		if restoreErr := e.fees.Accrue(amount); restoreErr != nil {
			return nil, fmt.Errorf("market: rollback failed after transfer error %v: %w", err, restoreErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(NewFeeWithdrawnEvent(caller, amount.String()))
	return amount, nil
}
