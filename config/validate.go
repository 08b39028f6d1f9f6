package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidAddress reports a role or vault field that is not a valid
	// 0x-prefixed hex address.
	ErrInvalidAddress = errors.New("config: invalid address")
	// ErrMissingAddress reports a required role or vault field left empty.
	ErrMissingAddress = errors.New("config: missing address")
	// ErrFeeBounds reports an initial fee rate above the configured cap.
	ErrFeeBounds = errors.New("config: fee rate above cap")
)

// Validate checks the structural constraints the wiring layer depends on.
// Role disjointness itself is enforced by the access gate at startup; here we
// only guarantee the fields parse.
func (c *Config) Validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Admin", c.Admin},
		{"DisputeHandler", c.DisputeHandler},
		{"FeeAdmin", c.FeeAdmin},
		{"Vault", c.Vault},
	} {
		trimmed := strings.TrimSpace(field.value)
		if trimmed == "" {
			return fmt.Errorf("%w: %s", ErrMissingAddress, field.name)
		}
		if !common.IsHexAddress(trimmed) {
			return fmt.Errorf("%w: %s=%q", ErrInvalidAddress, field.name, field.value)
		}
	}
	if c.FeeBps > c.MaxFeeBps {
		return fmt.Errorf("%w: %d > %d", ErrFeeBounds, c.FeeBps, c.MaxFeeBps)
	}
	return nil
}

// Address parses one of the validated address fields into its byte form.
func Address(field string) [20]byte {
	return common.HexToAddress(strings.TrimSpace(field))
}
