package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("ENCRYPTION_KEY", "enc")
	t.Setenv("PORT", "9090")
	t.Setenv("PIOGOLD_RPC_URL", "http://localhost:8545")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(56), cfg.Chains.BSC.ChainID)
	assert.Equal(t, int64(42357), cfg.Chains.PioGold.ChainID)
	assert.Equal(t, "http://localhost:8545", cfg.Chains.PioGold.RPC)
	assert.Equal(t, 30, cfg.Chains.BSC.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Chains.BSC.PollInterval)
	assert.Equal(t, uint64(21000), cfg.Chains.PioGold.GasLimit)
	assert.True(t, cfg.Referral.Required)
	assert.Equal(t, "50", cfg.Purchase.MinUSDT)
	assert.Contains(t, cfg.Database.URL, "piogold_ico")
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENCRYPTION_KEY", "")
	_, err := Load()
	assert.Error(t, err)
}
