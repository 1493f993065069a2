package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/config"
)

// AnthropicNarrator generates text with the Anthropic Messages API.
type AnthropicNarrator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewAnthropicNarrator creates a narrator from cfg. Extra client options are appended
// after the ones derived from cfg.
//
// Precondition: cfg.Model must be non-empty and cfg.MaxTokens > 0; logger must be non-nil.
// Postcondition: Returns a narrator, or an error if cfg is incomplete.
func NewAnthropicNarrator(cfg config.LLMConfig, logger *zap.Logger, opts ...option.RequestOption) (*AnthropicNarrator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic narrator: model must not be empty")
	}
	if cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("anthropic narrator: max_tokens must be > 0")
	}
	var base []option.RequestOption
	if cfg.APIKey != "" {
		base = append(base, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	base = append(base, option.WithMaxRetries(cfg.MaxRetries))
	return &AnthropicNarrator{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		logger:    logger,
	}, nil
}

// Narrate sends req as a single user message and joins the text blocks of the reply.
func (n *AnthropicNarrator) Narrate(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(n.model),
		MaxTokens: n.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := n.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	n.logger.Debug("narration received",
		zap.String("model", n.model),
		zap.String("stop_reason", string(msg.StopReason)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
