package token

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
)

func addr(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, 20))
	return out
}

func TestTransferMovesBalance(t *testing.T) {
	ledger := NewMemoryLedger()
	alice := addr(0x01)
	bob := addr(0x02)
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("alice balance = %s, want 60", got)
	}
	if got := ledger.BalanceOf(bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("bob balance = %s, want 40", got)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ledger := NewMemoryLedger()
	alice := addr(0x01)
	bob := addr(0x02)
	if err := ledger.Mint(alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.Transfer(alice, bob, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed transfer mutated balance: %s", got)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger := NewMemoryLedger()
	owner := addr(0x01)
	vault := addr(0xAA)
	if err := ledger.Mint(owner, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(owner, vault, big.NewInt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(owner, vault, big.NewInt(300)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := ledger.Allowance(owner, vault); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("allowance = %s, want 200", got)
	}
	if err := ledger.TransferFrom(owner, vault, big.NewInt(201)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if got := ledger.BalanceOf(vault); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("vault balance = %s, want 300", got)
	}
}

func TestTransferFromWithoutApproval(t *testing.T) {
	ledger := NewMemoryLedger()
	owner := addr(0x01)
	vault := addr(0xAA)
	if err := ledger.Mint(owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(owner, vault, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestZeroAmountTransfersAreNoops(t *testing.T) {
	ledger := NewMemoryLedger()
	alice := addr(0x01)
	bob := addr(0x02)
	if err := ledger.Transfer(alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if err := ledger.TransferFrom(alice, bob, nil); err != nil {
		t.Fatalf("nil transferFrom: %v", err)
	}
}
