package openai

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"github.com/lbliii/sunwell/internal/model"
)

type stubChat struct {
	resp *sdk.ChatCompletion
	err  error
}

func (s *stubChat) New(_ context.Context, _ sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	return s.resp, s.err
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, "gpt-4o-mini")
	require.Error(t, err)
}

func TestProviderName(t *testing.T) {
	c, err := New(&stubChat{}, "gpt-4o-mini")
	require.NoError(t, err)
	require.Equal(t, "openai", c.Provider())
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubChat{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{Message: sdk.ChatCompletionMessage{Content: "hello"}, FinishReason: "stop"},
			},
			Usage: sdk.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	c, err := New(stub, "gpt-4o-mini")
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Text())
	require.Equal(t, int64(15), int64(resp.Usage.TotalTokens))
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	stub := &stubChat{resp: &sdk.ChatCompletion{}}
	c, err := New(stub, "gpt-4o-mini")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
	})
	require.Error(t, err)
}
