package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/flamefinish/stockbot/internal/observability"
	"github.com/flamefinish/stockbot/internal/tracing"
	"github.com/flamefinish/stockbot/pkg/commandqueue"
	"github.com/flamefinish/stockbot/pkg/conversation"
	"github.com/flamefinish/stockbot/pkg/toolexecutor"
)

const (
	DefaultMaxRounds       = 10
	DefaultMaxTokens       = 1024
	DefaultMaxRetries      = 3
	DefaultProviderTimeout = 60 * time.Second
	DefaultToolTimeout     = 30 * time.Second
)

// User-visible replies for runs that cannot produce a model answer.
const (
	emptyReply       = "Sorry, I couldn't process that."
	roundsAbortReply = "Sorry, I couldn't complete that request. Please try again, or break it into smaller steps."
	failureReply     = "Sorry, something went wrong while processing your message. Please try again in a moment."
)

// DefaultSystemPrompt steers the model toward the inventory workflow.
const DefaultSystemPrompt = `You are the inventory assistant for Flame & Finish Marketing Corp,
an import business in Cebu, Philippines that sells SPC flooring and WPC wall panels.

Your job:
- Answer stock and price queries by looking up the inventory database.
- Record sales by deducting from stock when the owner reports a sale.
- Log every sale to the sales log for transaction history.
- Update prices when the owner tells you to.

Rules:
- NEVER guess stock numbers. Always use the lookup tool first.
- Reply in concise, friendly English by default.
- Understand and accept messages in Cebuano, Tagalog, or English - but always respond in English.
- Always show the peso sign for prices.
- When processing a sale: (1) lookup the product, (2) update stock, (3) log the sale. Always do all three steps.
- When updating stock after a sale, confirm the old stock, the deduction, and the new stock.
- If a product isn't found, say so clearly and ask for clarification.
- Keep replies short - this is WhatsApp, not email.`

// Runner orchestrates agent loops.
type Runner struct {
	conversations   *conversation.Store
	toolExecutor    *toolexecutor.ToolExecutor
	commandQueue    *commandqueue.CommandQueue
	logger          zerolog.Logger
	providerFactory ProviderCreator

	model           string
	systemPrompt    string
	temperature     float64
	maxTokens       int
	maxRounds       int
	maxRetries      int
	providerTimeout time.Duration
	toolTimeout     time.Duration

	authProfiles []AuthProfile
	authMu       sync.RWMutex

	// Active runs for abort capability, keyed by sender.
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Config holds runner configuration.
type Config struct {
	Conversations   *conversation.Store
	ToolExecutor    *toolexecutor.ToolExecutor
	CommandQueue    *commandqueue.CommandQueue
	Logger          zerolog.Logger
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator

	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	MaxRounds    int
	MaxRetries   int

	ProviderTimeout time.Duration
	ToolTimeout     time.Duration
}

// NewRunner creates an agent runner.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Conversations == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if cfg.ToolExecutor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.CommandQueue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	providerTimeout := cfg.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}

	return &Runner{
		conversations:   cfg.Conversations,
		toolExecutor:    cfg.ToolExecutor,
		commandQueue:    cfg.CommandQueue,
		logger:          cfg.Logger,
		providerFactory: providerFactory,
		model:           cfg.Model,
		systemPrompt:    systemPrompt,
		temperature:     cfg.Temperature,
		maxTokens:       maxTokens,
		maxRounds:       maxRounds,
		maxRetries:      maxRetries,
		providerTimeout: providerTimeout,
		toolTimeout:     toolTimeout,
		authProfiles:    cfg.AuthProfiles,
		activeRuns:      make(map[string]context.CancelFunc),
	}, nil
}

// HandleMessage runs the full agent loop for one inbound message and returns
// the reply to send back. The run is enqueued on the sender's lane, so a
// second message from the same sender waits until this one finishes all its
// rounds. Abort conditions still produce a user-visible reply with a nil
// error; a non-nil error means no reply could be produced at all.
func (r *Runner) HandleMessage(ctx context.Context, sender, text string) (string, error) {
	if sender == "" {
		return "", fmt.Errorf("sender is required")
	}
	if text == "" {
		return "", fmt.Errorf("message text is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSender(ctx, sender)

	ctx, span := tracing.StartSpan(ctx, "stockbot.agent", "agent.handle_message")
	defer span.End()

	opts := &commandqueue.TaskOptions{
		RequestID: tracing.GetMessageID(ctx),
	}

	result, err := r.commandQueue.EnqueueWithContext(ctx, sender, func(taskCtx context.Context) (interface{}, error) {
		return r.runLoop(taskCtx, sender, text)
	}, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return result.(string), nil
}

// Abort cancels the sender's running loop, if any.
func (r *Runner) Abort(sender string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	if cancel, exists := r.activeRuns[sender]; exists {
		r.logger.Info().Str("sender", sender).Msg("Aborting agent run")
		cancel()
		delete(r.activeRuns, sender)
	}
}

// IsRunning reports whether a loop is currently executing for the sender.
func (r *Runner) IsRunning(sender string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[sender]
	return exists
}

// runLoop executes the bounded round loop for one message. It always returns
// a reply string; only a cancelled context surfaces as an error.
func (r *Runner) runLoop(ctx context.Context, sender, text string) (string, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[sender] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, sender)
		r.runsMu.Unlock()
	}()

	startTime := time.Now()
	rounds := 0
	providerName := ""

	// Seed the transcript from surviving history, then record the new turn.
	messages := r.seedMessages(sender)
	messages = append(messages, AgentMessage{Role: "user", Content: text})
	r.conversations.Append(sender, conversation.Turn{Role: conversation.RoleUser, Content: text})

	tools := r.toolExecutor.Schemas()

	for rounds < r.maxRounds {
		select {
		case <-runCtx.Done():
			return "", runCtx.Err()
		default:
		}

		rounds++

		response, name, err := r.converse(runCtx, messages, tools)
		providerName = name
		if err != nil {
			logger.Error().Err(err).Int("round", rounds).Msg("Model call failed, aborting run")
			r.conversations.Append(sender, conversation.Turn{
				Role:    conversation.RoleAbort,
				Content: "provider failure: " + err.Error(),
			})
			observability.RecordAgentRun(providerName, time.Since(startTime), rounds, false)
			return failureReply, nil
		}

		if len(response.ToolCalls) == 0 {
			reply := response.Text
			if reply == "" {
				reply = emptyReply
			}
			r.conversations.Append(sender, conversation.Turn{
				Role:    conversation.RoleAssistant,
				Content: reply,
			})
			logger.Info().
				Int("rounds", rounds).
				Dur("duration", time.Since(startTime)).
				Msg("Agent run completed")
			observability.RecordAgentRun(providerName, time.Since(startTime), rounds, true)
			return reply, nil
		}

		messages = append(messages, AgentMessage{
			Role:      "assistant",
			Content:   response.Text,
			ToolCalls: response.ToolCalls,
		})

		// Execute the calls in the order the model requested them.
		for _, toolCall := range response.ToolCalls {
			r.conversations.Append(sender, conversation.Turn{
				Role:    conversation.RoleToolCall,
				Content: describeToolCall(toolCall),
			})

			toolStart := time.Now()
			result := r.toolExecutor.Execute(runCtx, toolCall.Name, toolCall.Parameters, &toolexecutor.ExecutionContext{
				Sender:  sender,
				Timeout: r.toolTimeout,
			})
			observability.RecordToolExecution(toolCall.Name, time.Since(toolStart), result.Success)

			content := result.Error
			if result.Success {
				content = encodeToolOutput(result.Output)
			}

			r.conversations.Append(sender, conversation.Turn{
				Role:    conversation.RoleToolResult,
				Content: content,
			})
			messages = append(messages, AgentMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: toolCall.ID,
			})
		}
	}

	logger.Warn().
		Int("rounds", rounds).
		Msg("Round budget exhausted, aborting run")
	r.conversations.Append(sender, conversation.Turn{
		Role:    conversation.RoleAbort,
		Content: fmt.Sprintf("round budget of %d exhausted", r.maxRounds),
	})
	observability.RecordAgentRun(providerName, time.Since(startTime), rounds, false)
	return roundsAbortReply, nil
}

// seedMessages rebuilds the provider transcript from surviving history.
// Only user and assistant text turns are replayed; tool turns stay in the
// thread for the record but are not resent.
func (r *Runner) seedMessages(sender string) []AgentMessage {
	messages := []AgentMessage{}
	for _, turn := range r.conversations.History(sender) {
		switch turn.Role {
		case conversation.RoleUser:
			messages = append(messages, AgentMessage{Role: "user", Content: turn.Content})
		case conversation.RoleAssistant:
			messages = append(messages, AgentMessage{Role: "assistant", Content: turn.Content})
		}
	}
	return messages
}

// converse calls the model with per-profile failover and retry. It returns
// the provider name that answered (or last tried) for metrics.
func (r *Runner) converse(ctx context.Context, messages []AgentMessage, tools []map[string]interface{}) (*ConverseResponse, string, error) {
	r.authMu.RLock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	r.authMu.RUnlock()

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	logger := tracing.LoggerFromContext(ctx, r.logger)

	var lastErr error
	lastProvider := ""

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			logger.Debug().Str("profileId", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}
		lastProvider = provider.Name()

		request := ConverseRequest{
			Model:        r.model,
			SystemPrompt: r.systemPrompt,
			Messages:     messages,
			Tools:        tools,
			Temperature:  r.temperature,
			MaxTokens:    r.maxTokens,
		}

		response, err := r.converseWithRetry(ctx, provider, request)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			return response, lastProvider, nil
		}

		lastErr = err
		r.updateProfileFailure(profile.ID)
		logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Auth profile failed")

		if !IsRetryableError(err) {
			return nil, lastProvider, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no usable auth profile")
	}
	return nil, lastProvider, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// converseWithRetry retries retryable provider errors with exponential
// backoff, bounding each attempt with the provider timeout.
func (r *Runner) converseWithRetry(ctx context.Context, provider LLMProvider, request ConverseRequest) (*ConverseResponse, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
		response, err := provider.Converse(callCtx, request)
		cancel()
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == r.maxRetries-1 {
			break
		}

		// 1s, 2s, 4s, ...
		delay := time.Duration(1<<attempt) * time.Second
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

// updateProfileSuccess resets failure state for a profile.
func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			break
		}
	}
}

// updateProfileFailure marks a profile failed and extends its cooldown.
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			cooldown := time.Now().UnixMilli() + int64(60000*r.authProfiles[i].FailureCount)
			r.authProfiles[i].CooldownUntil = &cooldown
			break
		}
	}
}

// describeToolCall renders a tool call for the thread record.
func describeToolCall(toolCall ToolCall) string {
	params, err := json.Marshal(toolCall.Parameters)
	if err != nil {
		return toolCall.Name
	}
	return fmt.Sprintf("%s %s", toolCall.Name, params)
}

// encodeToolOutput renders a tool output for the model.
func encodeToolOutput(output interface{}) string {
	encoded, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(encoded)
}
