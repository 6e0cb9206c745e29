package cli

import (
	"context"
	"testing"

	"complyhub/internal/config"
	"complyhub/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(name string) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:cli_" + name + "?mode=memory&cache=shared"
	return cfg
}

func TestNewApp_SQLiteWiring(t *testing.T) {
	cfg := sqliteConfig("wiring")
	cfg.Automation.Dedup.Enabled = true
	cfg.Automation.Dedup.Backend = "database"

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	wm, err := a.watermark()
	require.NoError(t, err)
	assert.IsType(t, &services.DBWatermark{}, wm)
	assert.Len(t, a.scanners(), 2)
	assert.Equal(t, services.ScanCertificateExpiration, a.certificates.Kind())

	rules, err := a.automation.InstallTemplates(context.Background(), "t1", "cli")
	require.NoError(t, err)
	assert.Len(t, rules, len(services.ListTemplates()))
}

func TestNewApp_RedisDedupNeedsRedis(t *testing.T) {
	cfg := sqliteConfig("redis_dedup")
	cfg.Automation.Dedup.Enabled = true
	cfg.Automation.Dedup.Backend = "redis"

	_, err := newApp(context.Background(), cfg)
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestNewApp_DedupOffMeansNoWatermark(t *testing.T) {
	a, err := newApp(context.Background(), sqliteConfig("dedup_off"))
	require.NoError(t, err)
	defer a.close()
	wm, err := a.watermark()
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"owner", "admin"}, splitList(" owner, ,admin "))
	assert.Nil(t, splitList(""))
}
