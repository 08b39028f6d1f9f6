package access

import (
	"bytes"
	"errors"
	"testing"
)

func testAddr(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, 20))
	return out
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	gate, err := NewGate(testAddr(0x01), testAddr(0x02), testAddr(0x03), testAddr(0xAA))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate
}

func TestNewGateValidations(t *testing.T) {
	var zero [20]byte
	cases := []struct {
		name    string
		admin   [20]byte
		dispute [20]byte
		feeAdm  [20]byte
		vault   [20]byte
		wantErr error
	}{
		{name: "zero admin", admin: zero, dispute: testAddr(0x02), feeAdm: testAddr(0x03), wantErr: ErrZeroAddress},
		{name: "zero dispute", admin: testAddr(0x01), dispute: zero, feeAdm: testAddr(0x03), wantErr: ErrZeroAddress},
		{name: "zero fee admin", admin: testAddr(0x01), dispute: testAddr(0x02), feeAdm: zero, wantErr: ErrZeroAddress},
		{name: "dispute equals fee admin", admin: testAddr(0x01), dispute: testAddr(0x02), feeAdm: testAddr(0x02), wantErr: ErrRoleCollision},
		{name: "role collides with vault", admin: testAddr(0x01), dispute: testAddr(0x02), feeAdm: testAddr(0x03), vault: testAddr(0x02), wantErr: ErrRoleCollision},
		{name: "valid", admin: testAddr(0x01), dispute: testAddr(0x02), feeAdm: testAddr(0x03), vault: testAddr(0xAA)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGate(tc.admin, tc.dispute, tc.feeAdm, tc.vault)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	gate := newTestGate(t)
	if !gate.HasRole(RoleAdmin, testAddr(0x01)) {
		t.Fatal("admin should hold ROLE_ADMIN")
	}
	if !gate.HasRole(RoleDisputeHandler, testAddr(0x02)) {
		t.Fatal("dispute handler should hold ROLE_DISPUTE_HANDLER")
	}
	if gate.HasRole(RoleFeeAdmin, testAddr(0x02)) {
		t.Fatal("dispute handler must not hold ROLE_FEE_ADMIN")
	}
	if gate.HasRole("ROLE_BOGUS", testAddr(0x01)) {
		t.Fatal("unknown role must not match")
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	gate := newTestGate(t)
	if err := gate.Grant(testAddr(0x02), RoleFeeAdmin, testAddr(0x04)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := gate.Grant(testAddr(0x01), RoleFeeAdmin, testAddr(0x04)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !gate.HasRole(RoleFeeAdmin, testAddr(0x04)) {
		t.Fatal("granted role not visible")
	}
}

func TestGrantPreservesDisjointness(t *testing.T) {
	gate := newTestGate(t)
	admin := testAddr(0x01)
	if err := gate.Grant(admin, RoleDisputeHandler, testAddr(0x03)); !errors.Is(err, ErrRoleCollision) {
		t.Fatalf("expected ErrRoleCollision, got %v", err)
	}
	if err := gate.Grant(admin, RoleFeeAdmin, testAddr(0x02)); !errors.Is(err, ErrRoleCollision) {
		t.Fatalf("expected ErrRoleCollision, got %v", err)
	}
	if err := gate.Grant(admin, RoleFeeAdmin, testAddr(0xAA)); !errors.Is(err, ErrRoleCollision) {
		t.Fatalf("expected vault collision, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	gate := newTestGate(t)
	admin := testAddr(0x01)
	if err := gate.Revoke(admin, RoleDisputeHandler, testAddr(0x02)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if gate.HasRole(RoleDisputeHandler, testAddr(0x02)) {
		t.Fatal("revoked role still visible")
	}
	if err := gate.Revoke(admin, RoleAdmin, admin); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin, got %v", err)
	}
	if err := gate.Grant(admin, RoleAdmin, testAddr(0x05)); err != nil {
		t.Fatalf("grant second admin: %v", err)
	}
	if err := gate.Revoke(admin, RoleAdmin, admin); err != nil {
		t.Fatalf("revoke with remaining admin: %v", err)
	}
}
