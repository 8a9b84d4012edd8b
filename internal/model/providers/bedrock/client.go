// Package bedrock adapts the AWS Bedrock Converse API to the model.Client
// contract (spec §4.3: the third ModelRouter provider), via
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/lbliii/sunwell/internal/model"
	"github.com/lbliii/sunwell/internal/sunerr"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the adapter
// needs, so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements model.Client on top of Bedrock's Converse API.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int32
}

// New constructs a Bedrock-backed model.Client.
func New(runtime RuntimeClient, defaultModel string, maxTokens int) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, defaultModel: defaultModel, maxTokens: int32(maxTokens)}, nil
}

func (c *Client) Provider() string { return "bedrock" }

func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var messages []brtypes.Message
	var system []brtypes.SystemContentBlock
	for _, m := range req.Messages {
		text := m.Text()
		switch m.Role {
		case model.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: text})
		case model.RoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			})
		default:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			})
		}
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
		System:   system,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokens),
		},
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}

	var text string
	if output, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range output.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}

	usage := model.TokenUsage{}
	if out.Usage != nil {
		usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}

	return &model.Response{
		Message:    model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}},
		Usage:      usage,
		StopReason: string(out.StopReason),
	}, nil
}

func translateError(err error) error {
	var throttle *brtypes.ThrottlingException
	if errors.As(err, &throttle) {
		return sunerr.Wrap(sunerr.CategoryModel, sunerr.CodeModelRateLimited, "bedrock throttled", err).
			WithRecoverable(true)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return sunerr.Wrap(sunerr.CategoryModel, sunerr.CodeModelRateLimited, "bedrock throttled", err).
			WithRecoverable(true)
	}
	return sunerr.Wrap(sunerr.CategoryModel, sunerr.CodeModelUnavailable, "bedrock request failed", err)
}
