package market

import (
	"fmt"
	"math/big"
	"strings"
)

// ListingStatus represents the lifecycle states of a marketplace listing.
type ListingStatus uint8

const (
	StatusListed ListingStatus = iota
	StatusBuyerPaid
	StatusFinalized
	StatusDispute
	// StatusExpired is a derived overlay: queries report it for a Listed
	// item past its expiry, but it is never persisted. The stored status
	// stays Listed until a mutating call touches the record.
	StatusExpired
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case StatusListed, StatusBuyerPaid, StatusFinalized, StatusDispute, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s ListingStatus) String() string {
	switch s {
	case StatusListed:
		return "listed"
	case StatusBuyerPaid:
		return "buyer_paid"
	case StatusFinalized:
		return "finalized"
	case StatusDispute:
		return "dispute"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MaxTitleLen bounds listing titles.
const MaxTitleLen = 200

// MaxPrice bounds listing prices. The cap exists to reject abusive listings;
// fee arithmetic itself is arbitrary precision.
var MaxPrice = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// Escrow is the per-listing record of locked funds. It is embedded in the
// listing, zeroed until a purchase arms it, and cleared again when a dispute
// refund returns the listing to the market.
type Escrow struct {
	Amount     *big.Int
	Fee        *big.Int
	LockedTime int64
	// Released flips false to true exactly once per purchase cycle. It is
	// the single source of truth across all three release paths.
	Released bool
}

// Clone returns a deep copy of the escrow record.
func (e Escrow) Clone() Escrow {
	clone := e
	clone.Amount = cloneAmount(e.Amount)
	clone.Fee = cloneAmount(e.Fee)
	return clone
}

// Armed reports whether funds are currently held for this escrow.
func (e Escrow) Armed() bool {
	return e.LockedTime > 0 && e.Amount != nil && e.Amount.Sign() > 0
}

// Listing is a seller's fixed-price offer. The id is assigned once at
// creation and never reused; seller, price and title are immutable after
// creation.
type Listing struct {
	ID        uint64
	Seller    [20]byte
	Buyer     [20]byte
	Price     *big.Int
	Title     string
	Fee       *big.Int
	Status    ListingStatus
	CreatedAt int64
	ExpiresAt int64
	Escrow    Escrow
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Price = cloneAmount(l.Price)
	clone.Fee = cloneAmount(l.Fee)
	clone.Escrow = l.Escrow.Clone()
	return &clone
}

// HasBuyer reports whether a purchaser is currently recorded.
func (l *Listing) HasBuyer() bool {
	return l != nil && l.Buyer != ([20]byte{})
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// SanitizeListing validates and normalises a listing record, returning a
// cloned instance with non-nil amounts. The original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("market: listing id must be assigned")
	}
	if clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("market: listing seller must be set")
	}
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("market: listing price must be positive")
	}
	if clone.Price.Cmp(MaxPrice) > 0 {
		return nil, fmt.Errorf("market: listing price above maximum")
	}
	title := strings.TrimSpace(clone.Title)
	if title == "" || len(title) > MaxTitleLen {
		return nil, fmt.Errorf("market: listing title length out of range")
	}
	clone.Title = title
	if clone.Fee.Cmp(clone.Price) > 0 {
		return nil, fmt.Errorf("market: listing fee exceeds price")
	}
	if clone.HasBuyer() && clone.Buyer == clone.Seller {
		return nil, fmt.Errorf("market: buyer equals seller")
	}
	if !clone.Status.Valid() || clone.Status == StatusExpired {
		return nil, fmt.Errorf("market: invalid stored status: %d", clone.Status)
	}
	return clone, nil
}
