// Package openai adapts github.com/openai/openai-go to the model.Client
// contract (spec §4.3: one of the three ModelRouter providers).
package openai

import (
	"context"
	"errors"

	sdk "github.com/openai/openai-go"

	"github.com/lbliii/sunwell/internal/model"
	"github.com/lbliii/sunwell/internal/sunerr"
)

// ChatClient captures the subset of the openai-go client the adapter uses.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error)
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat         ChatClient
	defaultModel string
}

// New builds an OpenAI-backed model.Client.
func New(chat ChatClient, defaultModel string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: defaultModel}, nil
}

func (c *Client) Provider() string { return "openai" }

func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			messages = append(messages, sdk.SystemMessage(m.Text()))
		case model.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(m.Text()))
		default:
			messages = append(messages, sdk.UserMessage(m.Text()))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, sunerr.New(sunerr.CategoryModel, sunerr.CodeModelInvalidOutput, "openai: empty choices")
	}

	choice := resp.Choices[0]
	return &model.Response{
		Message:    model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: choice.Message.Content}}},
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: string(choice.FinishReason),
	}, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return sunerr.Wrap(sunerr.CategoryModel, sunerr.CodeModelRateLimited, "openai rate limited", err).
			WithRecoverable(true)
	}
	return sunerr.Wrap(sunerr.CategoryModel, sunerr.CodeModelUnavailable, "openai request failed", err)
}
