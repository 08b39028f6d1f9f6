package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validAddrs = `
Admin = "0x1111111111111111111111111111111111111111"
DisputeHandler = "0x2222222222222222222222222222222222222222"
FeeAdmin = "0x3333333333333333333333333333333333333333"
Vault = "0x4444444444444444444444444444444444444444"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validAddrs))
	require.NoError(t, err)
	require.Equal(t, ":8547", cfg.RPCAddress)
	require.Equal(t, uint32(10_000), cfg.MaxFeeBps)
	require.Positive(t, cfg.ListingDuration)
	require.Positive(t, cfg.LockPeriod)
	require.Positive(t, cfg.RateLimitPerMinute)
	require.False(t, cfg.AllowExpiredBuy)
	require.False(t, cfg.CollectDisputeFee)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(250), cfg.FeeBps)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestValidateRejectsMissingRole(t *testing.T) {
	_, err := Load(writeConfig(t, `
Admin = "0x1111111111111111111111111111111111111111"
DisputeHandler = "0x2222222222222222222222222222222222222222"
FeeAdmin = "0x3333333333333333333333333333333333333333"
`))
	require.ErrorIs(t, err, ErrMissingAddress)
}

func TestValidateRejectsBadAddress(t *testing.T) {
	_, err := Load(writeConfig(t, `
Admin = "not-an-address"
DisputeHandler = "0x2222222222222222222222222222222222222222"
FeeAdmin = "0x3333333333333333333333333333333333333333"
Vault = "0x4444444444444444444444444444444444444444"
`))
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestValidateRejectsFeeAboveCap(t *testing.T) {
	_, err := Load(writeConfig(t, validAddrs+`
FeeBps = 600
MaxFeeBps = 500
`))
	require.ErrorIs(t, err, ErrFeeBounds)
}

func TestAddressParsing(t *testing.T) {
	addr := Address("0x1111111111111111111111111111111111111111")
	var want [20]byte
	for i := range want {
		want[i] = 0x11
	}
	require.Equal(t, want, addr)
}

func TestUnknownErrorPropagates(t *testing.T) {
	_, err := Load(writeConfig(t, "RPCAddress = 42"))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrMissingAddress))
}
