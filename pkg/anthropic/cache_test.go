package anthropic

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("You are a construction estimator.")
	require.Len(t, blocks, 1)
	assert.Equal(t, "You are a construction estimator.", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestPrimerRequest_Success(t *testing.T) {
	mc := new(MockClient)
	req := MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 16,
		System:    BuildCachedSystemBlocks("system prompt"),
		Messages:  []Message{{Role: "user", Content: "ready?"}},
	}
	expected := &MessageResponse{
		ID:    "msg_primer",
		Usage: TokenUsage{CacheCreationInputTokens: 4000},
	}
	mc.On("CreateMessage", context.Background(), req).Return(expected, nil)

	resp, err := PrimerRequest(context.Background(), mc, req)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), resp.Usage.CacheCreationInputTokens)
	mc.AssertExpectations(t)
}

func TestPrimerRequest_Error(t *testing.T) {
	mc := new(MockClient)
	req := MessageRequest{Model: "m", MaxTokens: 16}
	mc.On("CreateMessage", context.Background(), req).Return(nil, eris.New("boom"))

	_, err := PrimerRequest(context.Background(), mc, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primer request")
}
