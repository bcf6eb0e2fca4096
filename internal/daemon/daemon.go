package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flamefinish/stockbot/internal/config"
	"github.com/flamefinish/stockbot/internal/logger"
	"github.com/flamefinish/stockbot/internal/observability"
	"github.com/flamefinish/stockbot/internal/tracing"
	"github.com/flamefinish/stockbot/internal/whatsapp"
	"github.com/flamefinish/stockbot/pkg/agent"
	"github.com/flamefinish/stockbot/pkg/commandqueue"
	"github.com/flamefinish/stockbot/pkg/conversation"
	"github.com/flamefinish/stockbot/pkg/inventorytools"
	"github.com/flamefinish/stockbot/pkg/store"
	"github.com/flamefinish/stockbot/pkg/toolexecutor"
	"github.com/flamefinish/stockbot/pkg/webhook"
)

// Daemon wires the stockbot service together: inventory store, tool
// executor, conversation state, agent runner, WhatsApp channel, and the
// webhook server that receives Twilio callbacks.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	queue         *commandqueue.CommandQueue
	recordStore   store.RecordStore
	toolExecutor  *toolexecutor.ToolExecutor
	conversations *conversation.Store
	agentRunner   *agent.Runner

	allowlist      *whatsapp.Allowlist
	twilioClient   *whatsapp.Client
	inboundHandler *whatsapp.Handler
	webhookServer  *webhook.Server

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes the daemon's runtime state.
type Status struct {
	Running             bool
	StartTime           time.Time
	Uptime              time.Duration
	ActiveConversations int
	QueueStats          map[string]map[string]int
}

// New creates a daemon instance with all components initialized but not yet
// started.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	tracingEnabled := false
	if err := tracing.InitOpenTelemetry("stockbot"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		tracingEnabled = true
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: tracingEnabled,
	}

	if err := d.initialize(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initialize builds components in dependency order.
func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	if d.config.DataDir != "" {
		auditPath := filepath.Join(d.config.DataDir, "audit.log")
		if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := observability.InitAuditLogger(auditPath); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
		}
	}

	d.queue = commandqueue.New()
	d.logger.Info().Msg("Command queue initialized")

	recordStore, err := d.buildRecordStore(zl)
	if err != nil {
		return err
	}
	d.recordStore = recordStore
	d.logger.Info().Str("backend", d.config.Store.Backend).Msg("Inventory store initialized")

	d.toolExecutor = toolexecutor.New()
	if err := inventorytools.RegisterInventoryTools(d.toolExecutor, inventorytools.Options{
		Store: d.recordStore,
	}); err != nil {
		return fmt.Errorf("failed to register inventory tools: %w", err)
	}
	d.logger.Info().Strs("tools", d.toolExecutor.ListTools()).Msg("Inventory tools registered")

	d.conversations = conversation.NewStore(
		time.Duration(d.config.Agent.ConversationTTLMin)*time.Minute,
		d.config.Agent.MaxHistoryTurns,
	)
	d.logger.Info().
		Int("ttl_minutes", d.config.Agent.ConversationTTLMin).
		Int("max_turns", d.config.Agent.MaxHistoryTurns).
		Msg("Conversation store initialized")

	runner, err := agent.NewRunner(agent.Config{
		Conversations:   d.conversations,
		ToolExecutor:    d.toolExecutor,
		CommandQueue:    d.queue,
		Logger:          zl,
		AuthProfiles:    convertAuthProfiles(d.config.AI.Profiles),
		Model:           d.config.Agent.Model,
		SystemPrompt:    d.config.Agent.SystemPrompt,
		Temperature:     d.config.Agent.Temperature,
		MaxTokens:       d.config.Agent.MaxTokens,
		MaxRounds:       d.config.Agent.MaxRounds,
		ProviderTimeout: time.Duration(d.config.Agent.ProviderTimeoutSec) * time.Second,
		ToolTimeout:     time.Duration(d.config.Agent.ToolTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	d.agentRunner = runner
	d.logger.Info().Str("model", d.config.Agent.Model).Msg("Agent runner initialized")

	allowlist, err := whatsapp.NewAllowlist(d.config.Twilio.AllowlistPath, zl)
	if err != nil {
		return fmt.Errorf("failed to load allowlist: %w", err)
	}
	d.allowlist = allowlist

	client, err := whatsapp.NewClient(
		d.config.Twilio.AccountSID,
		d.config.Twilio.AuthToken,
		d.config.Twilio.FromNumber,
		zl,
	)
	if err != nil {
		return fmt.Errorf("failed to create twilio client: %w", err)
	}
	d.twilioClient = client

	handler, err := whatsapp.NewHandler(
		d.agentRunner,
		d.allowlist,
		d.twilioClient,
		whatsapp.ReplyMode(d.config.Twilio.ReplyMode),
		zl,
	)
	if err != nil {
		return fmt.Errorf("failed to create whatsapp handler: %w", err)
	}
	d.inboundHandler = handler
	d.logger.Info().Str("reply_mode", d.config.Twilio.ReplyMode).Msg("WhatsApp channel initialized")

	d.webhookServer = webhook.NewServer(webhook.ServerOptions{
		Host:               d.config.Webhook.Host,
		Port:               d.config.Webhook.Port,
		PublicURL:          d.config.Webhook.PublicURL,
		RateLimitPerMinute: d.config.Webhook.RateLimitPerMinute,
		RequestTimeout:     time.Duration(d.config.Webhook.TimeoutSec) * time.Second,
	}, zl)

	var verifier webhook.Verifier
	if d.config.Twilio.SkipSignatureCheck {
		d.logger.Warn().Msg("Twilio signature verification is disabled")
	} else {
		verifier = whatsapp.SignatureVerifier(d.config.Twilio.AuthToken)
	}
	if err := d.webhookServer.Register(webhook.Route{
		Method:   http.MethodPost,
		Path:     "/webhook",
		Handler:  d.inboundHandler.HandleWebhook,
		Verifier: verifier,
	}); err != nil {
		return fmt.Errorf("failed to register webhook route: %w", err)
	}
	d.logger.Info().Int("port", d.config.Webhook.Port).Msg("Webhook server initialized")

	return nil
}

func (d *Daemon) buildRecordStore(zl zerolog.Logger) (store.RecordStore, error) {
	switch d.config.Store.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(d.config.Store.SQLite.Path, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	case "notion":
		s, err := store.NewNotionStore(store.NotionOptions{
			APIKey:     d.config.Store.Notion.APIKey,
			ProductsDB: d.config.Store.Notion.ProductsDB,
			SalesDB:    d.config.Store.Notion.SalesDB,
			Timeout:    time.Duration(d.config.Store.Notion.TimeoutSec) * time.Second,
			Logger:     zl,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create notion store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", d.config.Store.Backend)
	}
}

// Start brings the daemon up. The webhook listener runs in the background;
// use Wait to block until a shutdown signal arrives.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting stockbot daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.webhookServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Webhook server exited with error")
		}
	}()

	logger.Info().Msg("Daemon started successfully")
	return nil
}

// Stop shuts the daemon down gracefully: stop accepting webhooks, drain the
// command queue, then release everything else.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping stockbot daemon")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.webhookServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop webhook server")
	}

	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}
	logger.Info().Msg("Command queue drained")

	if err := d.allowlist.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close allowlist watcher")
	}

	if closer, ok := d.recordStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close inventory store")
		}
	}

	d.cancel()
	d.wg.Wait()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		traceCtx, traceCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(traceCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		traceCancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Status returns the daemon's runtime state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
		status.ActiveConversations = d.conversations.ActiveCount()
		status.QueueStats = d.queue.Stats()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetAgentRunner returns the agent runner.
func (d *Daemon) GetAgentRunner() *agent.Runner {
	return d.agentRunner
}

// GetRecordStore returns the inventory store.
func (d *Daemon) GetRecordStore() store.RecordStore {
	return d.recordStore
}

// GetQueue returns the command queue.
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// convertAuthProfiles maps config credentials into the agent's profile type.
func convertAuthProfiles(profiles []config.AIProfile) []agent.AuthProfile {
	result := make([]agent.AuthProfile, len(profiles))
	for i, p := range profiles {
		result[i] = agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		}
	}
	return result
}
