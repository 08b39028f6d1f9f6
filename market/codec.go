package market

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"tradepost/storage"
)

// Stored records use a flat JSON shape with decimal-string amounts and
// hex-encoded addresses so snapshots stay inspectable with standard tooling.
type listingRecord struct {
	ID        uint64       `json:"id"`
	Seller    string       `json:"seller"`
	Buyer     string       `json:"buyer,omitempty"`
	Price     string       `json:"price"`
	Title     string       `json:"title"`
	Fee       string       `json:"fee"`
	Status    uint8        `json:"status"`
	CreatedAt int64        `json:"createdAt"`
	ExpiresAt int64        `json:"expiresAt"`
	Escrow    escrowRecord `json:"escrow"`
}

type escrowRecord struct {
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	LockedTime int64  `json:"lockedTime"`
	Released   bool   `json:"released"`
}

func listingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("market/listing/%d", id))
}

var countKey = []byte("market/count")

func encodeListing(l *Listing) ([]byte, error) {
	record := listingRecord{
		ID:        l.ID,
		Seller:    hex.EncodeToString(l.Seller[:]),
		Price:     cloneAmount(l.Price).String(),
		Title:     l.Title,
		Fee:       cloneAmount(l.Fee).String(),
		Status:    uint8(l.Status),
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
		Escrow: escrowRecord{
			Amount:     cloneAmount(l.Escrow.Amount).String(),
			Fee:        cloneAmount(l.Escrow.Fee).String(),
			LockedTime: l.Escrow.LockedTime,
			Released:   l.Escrow.Released,
		},
	}
	if l.HasBuyer() {
		record.Buyer = hex.EncodeToString(l.Buyer[:])
	}
	return json.Marshal(record)
}

func decodeListing(raw []byte) (*Listing, error) {
	var record listingRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	seller, err := decodeAddress(record.Seller)
	if err != nil {
		return nil, fmt.Errorf("seller: %w", err)
	}
	listing := &Listing{
		ID:        record.ID,
		Seller:    seller,
		Title:     record.Title,
		Status:    ListingStatus(record.Status),
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
	}
	if record.Buyer != "" {
		buyer, err := decodeAddress(record.Buyer)
		if err != nil {
			return nil, fmt.Errorf("buyer: %w", err)
		}
		listing.Buyer = buyer
	}
	if listing.Price, err = decodeAmount(record.Price); err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	if listing.Fee, err = decodeAmount(record.Fee); err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}
	if listing.Escrow.Amount, err = decodeAmount(record.Escrow.Amount); err != nil {
		return nil, fmt.Errorf("escrow amount: %w", err)
	}
	if listing.Escrow.Fee, err = decodeAmount(record.Escrow.Fee); err != nil {
		return nil, fmt.Errorf("escrow fee: %w", err)
	}
	listing.Escrow.LockedTime = record.Escrow.LockedTime
	listing.Escrow.Released = record.Escrow.Released
	return SanitizeListing(listing)
}

func decodeAddress(encoded string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func decodeAmount(encoded string) (*big.Int, error) {
	if encoded == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(encoded, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", encoded)
	}
	return amount, nil
}

func persistListing(db storage.Database, l *Listing) error {
	raw, err := encodeListing(l)
	if err != nil {
		return err
	}
	return db.Put(listingKey(l.ID), raw)
}

func loadListing(db storage.Database, id uint64) (*Listing, error) {
	raw, err := db.Get(listingKey(id))
	if err != nil {
		return nil, err
	}
	return decodeListing(raw)
}

func persistCount(db storage.Database, count uint64) error {
	return db.Put(countKey, []byte(fmt.Sprintf("%d", count)))
}

func loadCount(db storage.Database) (uint64, error) {
	raw, err := db.Get(countKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var count uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &count); err != nil {
		return 0, fmt.Errorf("market: invalid listing count: %w", err)
	}
	return count, nil
}
