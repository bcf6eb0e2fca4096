package whatsapp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flamefinish/stockbot/internal/observability"
	"github.com/flamefinish/stockbot/internal/tracing"
	"github.com/flamefinish/stockbot/pkg/webhook"
)

// ReplyMode selects how the handler delivers the agent's reply.
type ReplyMode string

const (
	// ReplyTwiML returns the reply inline in the webhook response. Twilio
	// keeps the HTTP connection open while the agent runs, so this only
	// suits fast models.
	ReplyTwiML ReplyMode = "twiml"

	// ReplyREST sends the reply through the Messages API and acknowledges
	// the webhook with an empty TwiML document. The agent still runs
	// before the webhook response is written.
	ReplyREST ReplyMode = "rest"
)

// MessageRunner is the slice of the agent runner the handler needs.
type MessageRunner interface {
	HandleMessage(ctx context.Context, sender, text string) (string, error)
}

// Sender delivers outbound messages, satisfied by *Client.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Handler turns Twilio inbound-message webhooks into agent runs.
type Handler struct {
	runner    MessageRunner
	allowlist *Allowlist
	sender    Sender
	replyMode ReplyMode
	logger    zerolog.Logger
}

// NewHandler wires the inbound pipeline. sender may be nil when replyMode is
// ReplyTwiML.
func NewHandler(runner MessageRunner, allowlist *Allowlist, sender Sender, replyMode ReplyMode, logger zerolog.Logger) (*Handler, error) {
	if runner == nil {
		return nil, fmt.Errorf("message runner is required")
	}
	if allowlist == nil {
		return nil, fmt.Errorf("allowlist is required")
	}
	switch replyMode {
	case ReplyTwiML:
	case ReplyREST:
		if sender == nil {
			return nil, fmt.Errorf("rest reply mode requires a sender client")
		}
	default:
		return nil, fmt.Errorf("unknown reply mode %q", replyMode)
	}

	return &Handler{
		runner:    runner,
		allowlist: allowlist,
		sender:    sender,
		replyMode: replyMode,
		logger:    logger.With().Str("component", "whatsapp").Logger(),
	}, nil
}

// HandleWebhook is the webhook.Handler for Twilio's inbound message callback.
func (h *Handler) HandleWebhook(ctx context.Context, req webhook.Request) (webhook.Response, error) {
	from := req.Form["From"]
	body := strings.TrimSpace(req.Form["Body"])
	messageSID := req.Form["MessageSid"]

	logger := tracing.LoggerFromContext(ctx, h.logger)

	if from == "" {
		observability.RecordMessageRejected("missing_sender")
		return webhook.Response{Status: http.StatusBadRequest, Body: "missing From"}, nil
	}

	if !h.allowlist.Allowed(from) {
		observability.RecordMessageRejected("not_allowlisted")
		observability.RecordSecurityAudit(ctx, "sender_rejected", from, "denied", map[string]interface{}{
			"message_sid": messageSID,
		})
		logger.Warn().Str("from", from).Msg("sender not allowlisted")
		// 200 with empty TwiML: a 4xx would make Twilio retry and page the
		// shop owner about a stranger texting the bot.
		return emptyTwiML(), nil
	}

	if body == "" {
		observability.RecordMessageRejected("empty_body")
		return messageTwiML("Please send a text message."), nil
	}

	ctx = tracing.WithSender(ctx, from)
	if messageSID != "" {
		ctx = tracing.WithMessageID(ctx, messageSID)
	}
	ctx, span := tracing.StartSpan(ctx, "stockbot.whatsapp", "whatsapp.inbound",
		attribute.String("message.sid", messageSID),
	)
	defer span.End()

	logger.Info().
		Str("from", from).
		Str("message_sid", messageSID).
		Int("length", len(body)).
		Msg("inbound message")

	reply, err := h.runner.HandleMessage(ctx, from, body)
	if err != nil {
		return webhook.Response{}, fmt.Errorf("agent run failed: %w", err)
	}

	if h.replyMode == ReplyTwiML {
		return messageTwiML(reply), nil
	}

	if err := h.sender.SendMessage(ctx, from, reply); err != nil {
		return webhook.Response{}, fmt.Errorf("failed to send reply: %w", err)
	}
	return emptyTwiML(), nil
}

// twimlResponse is the minimal messaging TwiML document.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

func messageTwiML(message string) webhook.Response {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	// Marshal cannot fail for a struct of strings.
	out, _ := xml.Marshal(twimlResponse{Message: message})
	buf.Write(out)
	return webhook.Response{
		Status:      http.StatusOK,
		ContentType: "text/xml",
		Body:        buf.String(),
	}
}

func emptyTwiML() webhook.Response {
	return messageTwiML("")
}
