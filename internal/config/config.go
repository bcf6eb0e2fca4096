package config

import (
	"encoding/json"
	"fmt"
)

// Config is the full stockbot configuration.
type Config struct {
	// Store selects and configures the inventory backend.
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Twilio holds the WhatsApp channel credentials.
	Twilio TwilioConfig `json:"twilio" mapstructure:"twilio"`

	// Agent configures the conversation loop.
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// AI holds LLM provider credentials.
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Webhook configures the inbound HTTP server.
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`

	// Logging configures log output.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is where the bot keeps its files (sqlite db, logs, allowlist).
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// StoreConfig selects the inventory backend.
type StoreConfig struct {
	// Backend is "notion" or "sqlite".
	Backend string `json:"backend" mapstructure:"backend"`

	Notion NotionConfig `json:"notion" mapstructure:"notion"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// NotionConfig holds the Notion integration settings.
type NotionConfig struct {
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	ProductsDB string `json:"products_db" mapstructure:"products_db"`
	SalesDB    string `json:"sales_db" mapstructure:"sales_db"`
	TimeoutSec int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// SQLiteConfig holds the local database settings.
type SQLiteConfig struct {
	// Path defaults to <data_dir>/stockbot.db.
	Path string `json:"path" mapstructure:"path"`
}

// TwilioConfig holds the WhatsApp channel settings.
type TwilioConfig struct {
	AccountSID string `json:"account_sid" mapstructure:"account_sid"`
	AuthToken  string `json:"auth_token" mapstructure:"auth_token"`

	// FromNumber is the shop's WhatsApp number, e.g. "whatsapp:+14155238886".
	FromNumber string `json:"from_number" mapstructure:"from_number"`

	// ReplyMode is "twiml" or "rest".
	ReplyMode string `json:"reply_mode" mapstructure:"reply_mode"`

	// AllowlistPath points at the file of permitted senders. Empty allows
	// everyone.
	AllowlistPath string `json:"allowlist_path" mapstructure:"allowlist_path"`

	// SkipSignatureCheck disables X-Twilio-Signature validation. Local
	// development only.
	SkipSignatureCheck bool `json:"skip_signature_check" mapstructure:"skip_signature_check"`
}

// AgentConfig configures the conversation loop.
type AgentConfig struct {
	Model        string  `json:"model" mapstructure:"model"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRounds    int     `json:"max_rounds" mapstructure:"max_rounds"`

	// ConversationTTLMin is the idle minutes before a conversation resets.
	ConversationTTLMin int `json:"conversation_ttl_minutes" mapstructure:"conversation_ttl_minutes"`

	// MaxHistoryTurns caps the turns kept per conversation.
	MaxHistoryTurns int `json:"max_history_turns" mapstructure:"max_history_turns"`

	ProviderTimeoutSec int `json:"provider_timeout" mapstructure:"provider_timeout"` // seconds
	ToolTimeoutSec     int `json:"tool_timeout" mapstructure:"tool_timeout"`         // seconds
}

// AIConfig holds LLM provider credentials.
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile is one provider credential. Profiles are tried in priority order
// when a call fails.
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// WebhookConfig configures the inbound HTTP server.
type WebhookConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`

	// PublicURL is the externally visible base URL Twilio signs against.
	PublicURL string `json:"public_url" mapstructure:"public_url"`

	RateLimitPerMinute int `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	TimeoutSec         int `json:"timeout" mapstructure:"timeout"` // seconds
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
			Notion: NotionConfig{
				TimeoutSec: 15,
			},
		},
		Twilio: TwilioConfig{
			ReplyMode: "twiml",
		},
		Agent: AgentConfig{
			Model:              "claude-sonnet-4-5",
			Temperature:        0.2,
			MaxTokens:          1024,
			MaxRounds:          10,
			ConversationTTLMin: 30,
			MaxHistoryTurns:    20,
			ProviderTimeoutSec: 60,
			ToolTimeoutSec:     30,
		},
		Webhook: WebhookConfig{
			Host:               "0.0.0.0",
			Port:               3000,
			RateLimitPerMinute: 60,
			TimeoutSec:         30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns an indented JSON rendering. Credentials are not masked here;
// the log redactor handles that.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the configuration for startup-blocking problems.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
	case "notion":
		if c.Store.Notion.APIKey == "" {
			return fmt.Errorf("store.notion.api_key is required for the notion backend")
		}
		if c.Store.Notion.ProductsDB == "" || c.Store.Notion.SalesDB == "" {
			return fmt.Errorf("store.notion.products_db and sales_db are required for the notion backend")
		}
	default:
		return fmt.Errorf("invalid store backend %q (must be: sqlite, notion)", c.Store.Backend)
	}

	if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
		return fmt.Errorf("twilio account_sid and auth_token are required")
	}
	if c.Twilio.FromNumber == "" {
		return fmt.Errorf("twilio from_number is required")
	}
	if c.Twilio.ReplyMode != "twiml" && c.Twilio.ReplyMode != "rest" {
		return fmt.Errorf("invalid twilio reply_mode %q (must be: twiml, rest)", c.Twilio.ReplyMode)
	}

	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: id is required", i)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		return fmt.Errorf("agent temperature must be between 0 and 1")
	}
	if c.Agent.MaxRounds <= 0 {
		return fmt.Errorf("agent max_rounds must be positive")
	}

	if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
		return fmt.Errorf("invalid webhook port %d", c.Webhook.Port)
	}

	return nil
}
