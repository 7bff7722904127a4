package tools

import (
	"context"
	"fmt"
	"strings"

	"zapdesk/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 1024

// AnthropicReplier asks Claude for the next message of the conversation.
type AnthropicReplier struct {
	client       anthropic.Client
	model        string
	systemPrompt string
}

// NewAnthropicReplier builds a replier; extra options are passed to the SDK
// client (base URL, HTTP client).
func NewAnthropicReplier(apiKey, model, systemPrompt string, opts ...option.RequestOption) *AnthropicReplier {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicReplier{
		client:       anthropic.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
	}
}

func (a *AnthropicReplier) GenerateReply(ctx context.Context, history []models.HistoryEntry) (string, error) {
	messages := anthropicMessages(history)
	if len(messages) == 0 {
		return "", fmt.Errorf("history has no user message")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  messages,
	}
	if a.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: a.systemPrompt},
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty response from anthropic")
	}
	return text, nil
}

// anthropicMessages merges consecutive entries of the same sender, since the
// Messages API wants alternating roles starting with the user.
func anthropicMessages(history []models.HistoryEntry) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var lastRole anthropic.MessageParamRole
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, anthropic.MessageParam{
			Role: lastRole,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(strings.Join(buf, "\n")),
			},
		})
		buf = nil
	}

	for _, e := range history {
		role := anthropic.MessageParamRoleUser
		if e.Sender == models.SenderBot {
			role = anthropic.MessageParamRoleAssistant
		}
		if len(out) == 0 && len(buf) == 0 && role != anthropic.MessageParamRoleUser {
			continue
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		buf = append(buf, e.Text)
	}
	flush()
	return out
}
