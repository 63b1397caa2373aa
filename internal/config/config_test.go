package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesSettlementServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "SETTLEMENT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "SETTLEMENT_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_SeedFeeDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "D1_FEE_PERCENT")
	unsetEnvWithCleanup(t, "D15_FEE_PERCENT")
	unsetEnvWithCleanup(t, "D30_FEE_PERCENT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.D1FeePercent != 8.0 || cfg.D15FeePercent != 5.0 || cfg.D30FeePercent != 2.5 {
		t.Fatalf("expected default fee percents 8/5/2.5, got %f/%f/%f", cfg.D1FeePercent, cfg.D15FeePercent, cfg.D30FeePercent)
	}
	if cfg.D1FeeFixed != 0.50 {
		t.Fatalf("expected default fixed fee 0.50, got %f", cfg.D1FeeFixed)
	}
}

func TestLoadConfig_CoercesOutOfRangeSeedFees(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "D1_FEE_PERCENT", "150")
	setEnvWithCleanup(t, "D15_FEE_PERCENT", "-3")
	setEnvWithCleanup(t, "D30_FEE_FIXED", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.D1FeePercent != 100 {
		t.Fatalf("expected percent capped at 100, got %f", cfg.D1FeePercent)
	}
	if cfg.D15FeePercent != 0 {
		t.Fatalf("expected negative percent coerced to 0, got %f", cfg.D15FeePercent)
	}
	if cfg.D30FeeFixed != 0 {
		t.Fatalf("expected negative fixed fee coerced to 0, got %f", cfg.D30FeeFixed)
	}
}

func TestLoadConfig_SweepIntervalFallsBackToDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "RELEASE_SWEEP_INTERVAL_SECONDS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ReleaseSweepIntervalSeconds != 60 {
		t.Fatalf("expected sweep interval fallback of 60s, got %d", cfg.ReleaseSweepIntervalSeconds)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
