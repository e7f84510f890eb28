package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			AllowedPrefix:    "ONBOARD:",
			HashLength:       8,
			ChallengeTTL:     900 * time.Second,
			VerifiedTTL:      3600 * time.Second,
			RateWindow:       60 * time.Second,
			CountThreshold:   5,
			AllowedCountries: []string{"+91", "+44"},
			SyncURL:          "http://backend/sync",
			RecoveryURL:      "http://backend/recovery",
		},
	}
}

func TestDefault(t *testing.T) {
	snap := Default(testConfig())

	assert.Equal(t, 0, snap.Version)
	assert.Equal(t, "ONBOARD:", snap.AllowedPrefix)
	assert.Equal(t, 8, snap.HashLength)
	assert.Equal(t, 900*time.Second, snap.ChallengeTTL)
	assert.True(t, snap.Checks.Format)
	assert.True(t, snap.Checks.Blacklist)
}

func TestFromPayload(t *testing.T) {
	base := Default(testConfig())

	t.Run("partial overlay keeps base values", func(t *testing.T) {
		snap, err := FromPayload(base, 3, []byte(`{"count_threshold": 10}`))
		require.NoError(t, err)

		assert.Equal(t, 3, snap.Version)
		assert.Equal(t, 10, snap.CountThreshold)
		assert.Equal(t, "ONBOARD:", snap.AllowedPrefix)
		assert.Equal(t, 900*time.Second, snap.ChallengeTTL)
	})

	t.Run("ttl seconds become durations", func(t *testing.T) {
		snap, err := FromPayload(base, 4, []byte(`{"ttl_hash_seconds": 300, "rate_window_seconds": 120}`))
		require.NoError(t, err)

		assert.Equal(t, 300*time.Second, snap.ChallengeTTL)
		assert.Equal(t, 120*time.Second, snap.RateWindow)
	})

	t.Run("toggles replace as a whole", func(t *testing.T) {
		snap, err := FromPayload(base, 5, []byte(`{"checks": {"count_check_enabled": true}}`))
		require.NoError(t, err)

		assert.True(t, snap.Checks.Count)
		assert.False(t, snap.Checks.Format, "unnamed toggles default to off in an explicit checks block")
	})

	t.Run("base snapshot is untouched", func(t *testing.T) {
		_, err := FromPayload(base, 6, []byte(`{"count_threshold": 99}`))
		require.NoError(t, err)
		assert.Equal(t, 5, base.CountThreshold)
	})

	t.Run("invalid json rejected", func(t *testing.T) {
		_, err := FromPayload(base, 7, []byte(`{`))
		assert.Error(t, err)
	})
}

func TestStoreSwap(t *testing.T) {
	base := Default(testConfig())
	store := NewStore(base)

	held := store.Current()
	assert.Equal(t, 0, held.Version)

	next, err := FromPayload(base, 1, []byte(`{"count_threshold": 7}`))
	require.NoError(t, err)
	store.Swap(next)

	assert.Equal(t, 1, store.Current().Version)
	assert.Equal(t, 7, store.Current().CountThreshold)
	// A reader that loaded before the swap keeps its coherent view.
	assert.Equal(t, 0, held.Version)
	assert.Equal(t, 5, held.CountThreshold)
}

func TestCountryAllowed(t *testing.T) {
	snap := Default(testConfig())

	assert.True(t, snap.CountryAllowed("+91"))
	assert.True(t, snap.CountryAllowed("+44"))
	assert.False(t, snap.CountryAllowed("+1"))
	assert.False(t, snap.CountryAllowed(""))
}
