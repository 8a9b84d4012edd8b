// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// model.Client contract (spec §4.3: one of the three ModelRouter providers).
package anthropic

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lbliii/sunwell/internal/model"
	"github.com/lbliii/sunwell/internal/sunerr"
)

// MessagesClient captures the subset of the Anthropic SDK client the
// adapter uses, so tests can substitute a stub without a live API key.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements model.Client on top of Anthropic's Messages API.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// New constructs an anthropic-backed model.Client. defaultModel is used
// when a request does not specify one.
func New(msg MessagesClient, defaultModel string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: defaultModel, maxTokens: maxTokens}, nil
}

func (c *Client) Provider() string { return "anthropic" }

func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var msgs []sdk.MessageParam
	var system string
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system += m.Text()
		case model.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text())))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Text())))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &model.Response{
		Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}},
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		StopReason: string(resp.StopReason),
	}, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return sunerr.Wrap(sunerr.CategoryModel, sunerr.CodeModelRateLimited, "anthropic rate limited", err).
			WithRecoverable(true)
	}
	return sunerr.Wrap(sunerr.CategoryModel, sunerr.CodeModelUnavailable, "anthropic request failed", err)
}
