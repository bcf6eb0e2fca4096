package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamefinish/stockbot/internal/config"
	"github.com/flamefinish/stockbot/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Store.SQLite.Path = filepath.Join(dir, "stockbot.db")
	cfg.Twilio.AccountSID = "AC123"
	cfg.Twilio.AuthToken = "token"
	cfg.Twilio.FromNumber = "whatsapp:+14155238886"
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "primary", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1},
	}
	// Ephemeral port so parallel test runs do not collide.
	cfg.Webhook.Port = 0
	cfg.Logging.File = ""
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestNewInitializesComponents(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, d.queue)
	assert.NotNil(t, d.recordStore)
	assert.NotNil(t, d.toolExecutor)
	assert.NotNil(t, d.conversations)
	assert.NotNil(t, d.agentRunner)
	assert.NotNil(t, d.inboundHandler)
	assert.NotNil(t, d.webhookServer)

	assert.ElementsMatch(t,
		[]string{"lookup_products", "update_stock", "update_price", "log_sale"},
		d.toolExecutor.ListTools())

	status := d.Status()
	assert.False(t, status.Running)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "postgres"

	_, err := New(cfg, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}

func TestNewRejectsMissingProfiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Profiles = nil

	_, err := New(cfg, testLogger(t))
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "second start should fail")

	status := d.Status()
	assert.True(t, status.Running)

	pidData, err := os.ReadFile(filepath.Join(cfg.DataDir, "stockbot.pid"))
	require.NoError(t, err)
	assert.NotEmpty(t, pidData)

	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop(), "second stop should fail")

	_, err = os.Stat(filepath.Join(cfg.DataDir, "stockbot.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestConvertAuthProfiles(t *testing.T) {
	profiles := convertAuthProfiles([]config.AIProfile{
		{ID: "a", Provider: "anthropic", APIKey: "k1", Priority: 1},
		{ID: "b", Provider: "openai", APIKey: "k2", Priority: 2},
	})

	require.Len(t, profiles, 2)
	assert.Equal(t, "anthropic", profiles[0].Provider)
	assert.Equal(t, 2, profiles[1].Priority)
}
