package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
)

func TestLimitSet_Empty(t *testing.T) {
	assert.True(t, LimitSet{}.Empty())
	assert.False(t, LimitSet{RPMLimit: Limit(10)}.Empty())
	assert.False(t, LimitSet{RPMLimit: Limit(0)}.Empty(), "zero is configured, not absent")

	// Model overrides configure a different scope.
	withOverrides := LimitSet{ModelLimits: map[string]LimitSet{"gpt-4o": {RPMLimit: Limit(1)}}}
	assert.True(t, withOverrides.Empty())
}

func TestLimitSet_ForModel(t *testing.T) {
	ls := LimitSet{
		RPMLimit: Limit(100),
		ModelLimits: map[string]LimitSet{
			"gpt-4o": {RPMLimit: Limit(5)},
		},
	}

	override, ok := ls.ForModel("gpt-4o")
	require.True(t, ok)
	assert.EqualValues(t, 5, *override.RPMLimit)

	_, ok = ls.ForModel("claude-sonnet")
	assert.False(t, ok, "no override means the per-model scope is not evaluated")

	_, ok = ls.ForModel("")
	assert.False(t, ok)
}

func TestLimitSet_ValidateRejectsNegatives(t *testing.T) {
	tests := []struct {
		name  string
		ls    LimitSet
		field string
	}{
		{"negative parallel", LimitSet{MaxParallelRequests: Limit(-1)}, "max_parallel_requests"},
		{"negative rpm", LimitSet{RPMLimit: Limit(-10)}, "rpm_limit"},
		{"negative tpm", LimitSet{TPMLimit: Limit(-100)}, "tpm_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ls.Validate()
			var cfgErr *gwerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLimitSet_ValidateAcceptsZeroAndUnset(t *testing.T) {
	assert.NoError(t, LimitSet{}.Validate())
	assert.NoError(t, LimitSet{RPMLimit: Limit(0)}.Validate())
	assert.NoError(t, LimitSet{
		MaxParallelRequests: Limit(1),
		RPMLimit:            Limit(60),
		TPMLimit:            Limit(10000),
	}.Validate())
}

func TestLimitSet_ValidateRecursesIntoModelOverrides(t *testing.T) {
	ls := LimitSet{
		ModelLimits: map[string]LimitSet{
			"gpt-4o": {TPMLimit: Limit(-1)},
		},
	}
	err := ls.Validate()
	var cfgErr *gwerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Field, "model_limits.gpt-4o")
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	assert.NoError(t, valid.Validate())

	negative := DefaultConfig()
	negative.Batch.FlushInterval = -time.Second
	assert.Error(t, negative.Validate())

	badGate := DefaultConfig()
	badGate.Gate = GateConfig{Enabled: true, MaxInFlight: -1}
	assert.Error(t, badGate.Validate())

	badFallback := DefaultConfig()
	badFallback.Fallback = FallbackConfig{Enabled: true}
	assert.Error(t, badFallback.Validate(), "enabled fallback needs a positive rate")
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultFlushInterval, cfg.Batch.FlushInterval)
	assert.Equal(t, DefaultCounterTTL, cfg.Batch.CounterTTL)
	assert.Equal(t, DefaultPoolSize, cfg.Redis.PoolSize)

	// Explicit settings survive defaulting.
	custom := &Config{Batch: BatchConfig{FlushInterval: 50 * time.Millisecond}}
	custom.ApplyDefaults()
	assert.Equal(t, 50*time.Millisecond, custom.Batch.FlushInterval)
}
