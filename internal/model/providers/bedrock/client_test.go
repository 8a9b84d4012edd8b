package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/lbliii/sunwell/internal/model"
)

type stubRuntime struct {
	out *bedrockruntime.ConverseOutput
	err error
}

func (s *stubRuntime) Converse(_ context.Context, _ *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return s.out, s.err
}

func TestNewRejectsNilRuntime(t *testing.T) {
	_, err := New(nil, "anthropic.claude-3-sonnet", 1024)
	require.Error(t, err)
}

func TestProviderName(t *testing.T) {
	c, err := New(&stubRuntime{}, "anthropic.claude-3-sonnet", 1024)
	require.NoError(t, err)
	require.Equal(t, "bedrock", c.Provider())
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubRuntime{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role:    brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello"}},
				},
			},
			Usage: &brtypes.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(5),
				TotalTokens:  aws.Int32(15),
			},
			StopReason: brtypes.StopReasonEndTurn,
		},
	}
	c, err := New(stub, "anthropic.claude-3-sonnet", 1024)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Text())
	require.Equal(t, 15, resp.Usage.TotalTokens)
}
