package market

import (
	"errors"
	"math/big"
	"testing"

	"tradepost/storage"
)

func sampleListing(seller byte) *Listing {
	return &Listing{
		Seller:    newTestAddress(seller),
		Price:     big.NewInt(1_000),
		Title:     "Sample",
		Fee:       big.NewInt(25),
		Status:    StatusListed,
		CreatedAt: 1_700_000_000,
		ExpiresAt: 1_700_000_000 + DefaultListingDuration,
	}
}

func TestStoreAssignsMonotonicIDs(t *testing.T) {
	store := NewStore(nil)
	for want := uint64(1); want <= 3; want++ {
		id, err := store.Append(sampleListing(byte(want)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if id != want {
			t.Fatalf("id = %d, want %d", id, want)
		}
	}
	if got := store.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	all := store.All()
	for i, l := range all {
		if l.ID != uint64(i)+1 {
			t.Fatalf("all[%d].ID = %d, want %d", i, l.ID, i+1)
		}
	}
}

func TestStoreGetUnknown(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.Get(0); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("get 0: got %v, want ErrListingNotFound", err)
	}
	if _, err := store.Get(1); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("get 1: got %v, want ErrListingNotFound", err)
	}
}

func TestStoreReturnsClones(t *testing.T) {
	store := NewStore(nil)
	id, err := store.Append(sampleListing(0x01))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	first, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.Price.SetInt64(999_999)
	first.Status = StatusFinalized
	second, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second.Price.Cmp(big.NewInt(1_000)) != 0 || second.Status != StatusListed {
		t.Fatal("mutating a returned clone leaked into the store")
	}
}

func TestStorePutRejectsUnknownID(t *testing.T) {
	store := NewStore(nil)
	listing := sampleListing(0x01)
	listing.ID = 7
	if err := store.Put(listing); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("put unknown: got %v, want ErrListingNotFound", err)
	}
}

func TestStorePersistenceRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)

	listed := sampleListing(0x01)
	if _, err := store.Append(listed); err != nil {
		t.Fatalf("append: %v", err)
	}
	bought := sampleListing(0x02)
	id, err := store.Append(bought)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	record, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	record.Buyer = newTestAddress(0x03)
	record.Status = StatusBuyerPaid
	record.Escrow = Escrow{
		Amount:     big.NewInt(1_000),
		Fee:        big.NewInt(25),
		LockedTime: 1_700_000_100,
	}
	if err := store.Put(record); err != nil {
		t.Fatalf("put: %v", err)
	}

	restored := NewStore(db)
	if err := restored.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := restored.Count(); got != 2 {
		t.Fatalf("restored count = %d, want 2", got)
	}
	roundTripped, err := restored.Get(id)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if roundTripped.Status != StatusBuyerPaid {
		t.Fatalf("restored status = %s, want buyer_paid", roundTripped.Status)
	}
	if roundTripped.Buyer != newTestAddress(0x03) {
		t.Fatal("restored buyer mismatch")
	}
	if !roundTripped.Escrow.Armed() {
		t.Fatal("restored escrow should be armed")
	}
	if roundTripped.Escrow.Amount.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("restored escrow amount = %s, want 1000", roundTripped.Escrow.Amount)
	}
	if roundTripped.Title != "Sample" {
		t.Fatalf("restored title = %q", roundTripped.Title)
	}
}
