package market

import (
	"math/big"
	"strings"
	"testing"
)

func validListing() *Listing {
	return &Listing{
		ID:        1,
		Seller:    newTestAddress(0x01),
		Price:     big.NewInt(1_000),
		Title:     "Sample",
		Fee:       big.NewInt(25),
		Status:    StatusListed,
		CreatedAt: 1_700_000_000,
		ExpiresAt: 1_700_000_000 + DefaultListingDuration,
	}
}

func TestSanitizeListing(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Listing)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Listing) {}},
		{name: "missing id", mutate: func(l *Listing) { l.ID = 0 }, wantErr: true},
		{name: "missing seller", mutate: func(l *Listing) { l.Seller = [20]byte{} }, wantErr: true},
		{name: "zero price", mutate: func(l *Listing) { l.Price = big.NewInt(0) }, wantErr: true},
		{name: "price above maximum", mutate: func(l *Listing) { l.Price = new(big.Int).Add(MaxPrice, big.NewInt(1)) }, wantErr: true},
		{name: "empty title", mutate: func(l *Listing) { l.Title = "  " }, wantErr: true},
		{name: "oversized title", mutate: func(l *Listing) { l.Title = strings.Repeat("x", MaxTitleLen+1) }, wantErr: true},
		{name: "fee above price", mutate: func(l *Listing) { l.Fee = big.NewInt(1_001) }, wantErr: true},
		{name: "buyer equals seller", mutate: func(l *Listing) { l.Buyer = l.Seller }, wantErr: true},
		{name: "stored expired status", mutate: func(l *Listing) { l.Status = StatusExpired }, wantErr: true},
		{name: "out of range status", mutate: func(l *Listing) { l.Status = ListingStatus(42) }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			listing := validListing()
			tc.mutate(listing)
			_, err := SanitizeListing(listing)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSanitizeDoesNotMutateOriginal(t *testing.T) {
	listing := validListing()
	listing.Title = "  padded  "
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Title != "padded" {
		t.Fatalf("sanitized title = %q, want %q", sanitized.Title, "padded")
	}
	if listing.Title != "  padded  " {
		t.Fatal("sanitize mutated the original")
	}
}

func TestCloneIsDeep(t *testing.T) {
	listing := validListing()
	listing.Escrow = Escrow{Amount: big.NewInt(500), Fee: big.NewInt(10), LockedTime: 5}
	clone := listing.Clone()
	clone.Price.SetInt64(9)
	clone.Escrow.Amount.SetInt64(9)
	if listing.Price.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatal("clone shares price")
	}
	if listing.Escrow.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatal("clone shares escrow amount")
	}
}

func TestStatusStrings(t *testing.T) {
	pairs := map[ListingStatus]string{
		StatusListed:    "listed",
		StatusBuyerPaid: "buyer_paid",
		StatusFinalized: "finalized",
		StatusDispute:   "dispute",
		StatusExpired:   "expired",
		StatusCancelled: "cancelled",
	}
	for status, want := range pairs {
		if got := status.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", status, got, want)
		}
		if !status.Valid() {
			t.Fatalf("%q should be valid", want)
		}
	}
	if ListingStatus(42).Valid() {
		t.Fatal("42 should be invalid")
	}
}
