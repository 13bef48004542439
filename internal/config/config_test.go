package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("CI", "")
	t.Setenv("JEWELRY_USE_FALLBACK_CATALOG", "")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.CookieSecure)
	assert.False(t, cfg.UseFallbackCatalog)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SITE_URL", "https://shop.example.com/")
	t.Setenv("CI", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("JEWELRY_ADMIN_EMAILS", "Owner@Example.com, ops@example.com")
	t.Setenv("ANALYTICS_BATCH_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, "https://shop.example.com", cfg.SiteURL)
	assert.True(t, cfg.UseFallbackCatalog)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 20, cfg.AnalyticsBatchSize)
	assert.True(t, cfg.IsAdminEmail(" owner@example.com "))
	assert.False(t, cfg.IsAdminEmail("someone@example.com"))
}
