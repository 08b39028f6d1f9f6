package fees

import (
	"errors"
	"math/big"
	"testing"

	"tradepost/storage"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		name    string
		price   *big.Int
		bps     uint32
		want    *big.Int
		wantErr error
	}{
		{name: "two and a half percent", price: big.NewInt(1_000_000), bps: 250, want: big.NewInt(25_000)},
		{name: "floor division", price: big.NewInt(39), bps: 250, want: big.NewInt(0)},
		{name: "zero rate", price: big.NewInt(1_000_000), bps: 0, want: big.NewInt(0)},
		{name: "full rate", price: big.NewInt(100), bps: 10_000, want: big.NewInt(100)},
		{name: "overflow rate", price: big.NewInt(100), bps: 10_001, wantErr: ErrFeeOverflow},
		{name: "overflow rate zero price", price: big.NewInt(0), bps: 10_001, want: big.NewInt(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(tc.price, tc.bps)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("got %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("fee = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSetRateCap(t *testing.T) {
	ledger, err := NewLedger(nil, 250, 100)
	if !errors.Is(err, ErrRateTooHigh) {
		t.Fatalf("expected ErrRateTooHigh at construction, got %v", err)
	}
	ledger, err = NewLedger(nil, 50, 100)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := ledger.SetRate(101); !errors.Is(err, ErrRateTooHigh) {
		t.Fatalf("expected ErrRateTooHigh, got %v", err)
	}
	if err := ledger.SetRate(100); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if got := ledger.Rate(); got != 100 {
		t.Fatalf("rate = %d, want 100", got)
	}
}

func TestAccrueWithdraw(t *testing.T) {
	ledger, err := NewLedger(nil, 250, 0)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := ledger.Withdraw(); !errors.Is(err, ErrNothingAccrued) {
		t.Fatalf("expected ErrNothingAccrued, got %v", err)
	}
	if err := ledger.Accrue(big.NewInt(25_000)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := ledger.Accrue(big.NewInt(5_000)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if got := ledger.Collected(); got.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("collected = %s, want 30000", got)
	}
	amount, err := ledger.Withdraw()
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("withdrawn = %s, want 30000", amount)
	}
	if got := ledger.Collected(); got.Sign() != 0 {
		t.Fatalf("collected after withdraw = %s, want 0", got)
	}
}

func TestDeductRollsBackAccrual(t *testing.T) {
	ledger, err := NewLedger(nil, 250, 0)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := ledger.Accrue(big.NewInt(100)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := ledger.Deduct(big.NewInt(101)); err == nil {
		t.Fatal("expected error deducting more than accrued")
	}
	if err := ledger.Deduct(big.NewInt(100)); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if got := ledger.Collected(); got.Sign() != 0 {
		t.Fatalf("collected = %s, want 0", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	ledger, err := NewLedger(db, 250, 0)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := ledger.SetRate(300); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if err := ledger.Accrue(big.NewInt(42)); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	restored, err := NewLedger(db, 250, 0)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := restored.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := restored.Rate(); got != 300 {
		t.Fatalf("restored rate = %d, want 300", got)
	}
	if got := restored.Collected(); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("restored accrued = %s, want 42", got)
	}
}
