package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTunablesMatchSpec(t *testing.T) {
	d := DefaultTunables()
	assert.Equal(t, time.Second, d.TickInterval)
	assert.Equal(t, 15, d.BaselineMinSamples)
	assert.Equal(t, 50, d.BaselineSpan)
	assert.Equal(t, 2.5, d.SentinelThreshold)
	assert.Equal(t, 0.30, d.FleetWideThreshold)
	assert.Equal(t, 0.15, d.PartialThreshold)
	assert.Equal(t, 6.0, d.SevereDeviation)
	assert.Equal(t, 5.0, d.ApprovalThreshold)
	assert.Equal(t, 3, d.SuspectTicks)
	assert.Equal(t, 30*time.Second, d.DrainTimeout)
	assert.Equal(t, 10, d.ProbationTicks)
	assert.NoError(t, d.Validate())
}

func TestLoadTunablesFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("IMMUNE_TICK_INTERVAL", "2s")
	t.Setenv("IMMUNE_SUSPECT_TICKS", "5")
	t.Setenv("IMMUNE_SENTINEL_THRESHOLD", "3.0")

	tn, err := LoadTunablesFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, tn.TickInterval)
	assert.Equal(t, 5, tn.SuspectTicks)
	assert.Equal(t, 3.0, tn.SentinelThreshold)
}

func TestLoadTunablesFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("IMMUNE_TICK_INTERVAL", "not-a-duration")
	_, err := LoadTunablesFromEnv()
	assert.Error(t, err)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	tn := DefaultTunables()
	tn.FleetWideThreshold = 0.1
	tn.PartialThreshold = 0.2
	assert.Error(t, tn.Validate())
}

func TestValidateRejectsSevereBelowSentinel(t *testing.T) {
	tn := DefaultTunables()
	tn.SevereDeviation = 1.0
	tn.SentinelThreshold = 2.5
	assert.Error(t, tn.Validate())
}

func TestValidateRejectsNonPositiveTick(t *testing.T) {
	tn := DefaultTunables()
	tn.TickInterval = 0
	assert.Error(t, tn.Validate())
}
