package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/lbliii/sunwell/internal/model"
)

type stubMessages struct {
	resp *sdk.Message
	err  error
}

func (s *stubMessages) New(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	return s.resp, s.err
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, "claude-sonnet", 1024)
	require.Error(t, err)
}

func TestNewRejectsEmptyModel(t *testing.T) {
	_, err := New(&stubMessages{}, "", 1024)
	require.Error(t, err)
}

func TestProviderName(t *testing.T) {
	c, err := New(&stubMessages{}, "claude-sonnet", 1024)
	require.NoError(t, err)
	require.Equal(t, "anthropic", c.Provider())
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubMessages{
		resp: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hello"}},
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
			StopReason: sdk.MessageStopReasonEndTurn,
		},
	}
	c, err := New(stub, "claude-sonnet", 1024)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Text())
	require.Equal(t, 15, resp.Usage.TotalTokens)
}
