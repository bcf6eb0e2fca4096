package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Twilio.AccountSID = "AC123"
	cfg.Twilio.AuthToken = "token"
	cfg.Twilio.FromNumber = "whatsapp:+14155238886"
	cfg.AI.Profiles = []AIProfile{
		{ID: "primary", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "twiml", cfg.Twilio.ReplyMode)
	assert.Equal(t, 10, cfg.Agent.MaxRounds)
	assert.Equal(t, 30, cfg.Agent.ConversationTTLMin)
	assert.Equal(t, 20, cfg.Agent.MaxHistoryTurns)
	assert.Equal(t, 3000, cfg.Webhook.Port)
	assert.True(t, cfg.Logging.Redaction)
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateStoreBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store backend")

	cfg = validConfig()
	cfg.Store.Backend = "notion"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")

	cfg.Store.Notion.APIKey = "ntn_test"
	cfg.Store.Notion.ProductsDB = "db1"
	cfg.Store.Notion.SalesDB = "db2"
	assert.NoError(t, cfg.Validate())
}

func TestValidateTwilio(t *testing.T) {
	cfg := validConfig()
	cfg.Twilio.AuthToken = ""
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Twilio.FromNumber = ""
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Twilio.ReplyMode = "smoke-signal"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reply_mode")
}

func TestValidateAIProfiles(t *testing.T) {
	cfg := validConfig()
	cfg.AI.Profiles = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI profile")

	cfg = validConfig()
	cfg.AI.Profiles[0].Provider = "gemini"
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.AI.Profiles[0].APIKey = ""
	require.Error(t, cfg.Validate())
}

func TestValidateAgent(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.Model = ""
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Agent.Temperature = 1.5
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Agent.MaxRounds = 0
	require.Error(t, cfg.Validate())
}

func TestValidateWebhookPort(t *testing.T) {
	cfg := validConfig()
	cfg.Webhook.Port = 0
	require.Error(t, cfg.Validate())

	cfg.Webhook.Port = 70000
	require.Error(t, cfg.Validate())
}
