package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_NAME", "earnhub_test")
	cfg := LoadConfig()

	assert.Equal(t, "earnhub_test", cfg.DBName)
	assert.Equal(t, "0.015", cfg.DailyProfitRate.String())
	assert.Equal(t, "80", cfg.QualifyingDeposit.String())
	assert.Equal(t, 24*time.Hour, cfg.RoundDuration)
	assert.Equal(t, "auto", cfg.StoreTransactions)
	assert.True(t, cfg.SchedulerEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DAILY_PROFIT_RATE", "0.02")
	t.Setenv("ROUND_DURATION", "90m")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("STORE_TRANSACTIONS", "OFF")
	t.Setenv("SCHEDULER_ALLOWED_CIDRS", "192.168.0.0/16, 10.1.0.0/16,")
	t.Setenv("ADMIN_CHAT_ID", "-100123")
	cfg := LoadConfig()

	assert.Equal(t, "0.02", cfg.DailyProfitRate.String())
	assert.Equal(t, 90*time.Minute, cfg.RoundDuration)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, "off", cfg.StoreTransactions)
	assert.Equal(t, []string{"192.168.0.0/16", "10.1.0.0/16"}, cfg.SchedulerAllowedCIDRs)
	assert.Equal(t, int64(-100123), cfg.AdminChatID)
}

func TestLoadConfigInvalidFallsBack(t *testing.T) {
	t.Setenv("DAILY_PROFIT_RATE", "-1")
	t.Setenv("ROUND_GAP", "soon")
	t.Setenv("REDIS_DB", "x")
	cfg := LoadConfig()

	assert.Equal(t, "0.015", cfg.DailyProfitRate.String())
	assert.Equal(t, time.Duration(0), cfg.RoundGap)
	assert.Equal(t, 0, cfg.RedisDB)
}
