package estimator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
	"github.com/sells-group/takeoff-worker/internal/resilience"
	"github.com/sells-group/takeoff-worker/pkg/anthropic"
)

// scriptedClient answers each request by inspecting the user prompt.
type scriptedClient struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (c *scriptedClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	return c.respond(call, req)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func textResponse(body string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: body}},
	}
}

const docPayload = `{
  "items": [
    {
      "category": "signage",
      "description": "EXIT SIGN",
      "code": "S1",
      "qty": 4,
      "unit": "EA",
      "confidence": 0.9,
      "sources": [{"filename": "schedule.pdf", "page": 3, "evidence": "S1 EXIT SIGN 4 EA"}]
    }
  ],
  "evidence": [
    {"filename": "schedule.pdf", "page": 3, "kind": "schedule_row", "text": "S1 EXIT SIGN 4 EA"}
  ],
  "discrepancy_log": ["plan shows 3, schedule shows 4"]
}`

const verifyPayload = `{
  "checked": 1,
  "confirmed": 1,
  "overall_score": 0.95
}`

func fastRetry(e *Estimator) {
	e.retry.InitialBackoff = time.Millisecond
	e.retry.MaxBackoff = 2 * time.Millisecond
}

func testInput(filename string) DocumentInput {
	return DocumentInput{
		Document: model.Document{ID: "doc-" + filename, Filename: filename},
		Pages: []model.PageText{
			{Filename: filename, PageNumber: 3, Method: model.MethodPdfToText, Text: "S1 EXIT SIGN 4 EA"},
		},
	}
}

func TestEstimate_SingleDocument(t *testing.T) {
	client := &scriptedClient{
		respond: func(_ int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			if strings.Contains(req.Messages[0].Content, "Proposed items") {
				return textResponse(verifyPayload), nil
			}
			return textResponse(docPayload), nil
		},
	}
	e := New(client, config.AnthropicConfig{RequestsPerMin: 6000})
	fastRetry(e)

	result, snippets, err := e.Estimate(context.Background(), "10 14 00", []DocumentInput{testInput("schedule.pdf")})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, "EXIT SIGN", result.Items[0].Description)
	require.NotNil(t, result.Items[0].Qty)
	assert.Equal(t, 4.0, *result.Items[0].Qty)
	assert.Equal(t, []string{"plan shows 3, schedule shows 4"}, result.DiscrepancyLog)

	require.Len(t, snippets, 1)
	assert.Equal(t, "schedule_row", snippets[0].Kind)

	require.NotNil(t, result.Verification)
	assert.Equal(t, 1, result.Verification.Confirmed)
	assert.InDelta(t, 0.95, result.Verification.OverallScore, 1e-9)

	// one document call plus one verification call, no primer
	assert.Equal(t, 2, client.callCount())
}

func TestEstimate_VerifyFailureKeepsItems(t *testing.T) {
	client := &scriptedClient{
		respond: func(_ int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			if strings.Contains(req.Messages[0].Content, "Proposed items") {
				return nil, eris.New("verification unavailable")
			}
			return textResponse(docPayload), nil
		},
	}
	e := New(client, config.AnthropicConfig{RequestsPerMin: 6000})
	fastRetry(e)

	result, snippets, err := e.Estimate(context.Background(), "10 14 00", []DocumentInput{testInput("schedule.pdf")})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	require.Len(t, snippets, 1)
	assert.Nil(t, result.Verification)
}

func TestEstimate_FanOutMergesAllDocuments(t *testing.T) {
	client := &scriptedClient{
		respond: func(_ int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			content := req.Messages[0].Content
			switch {
			case strings.Contains(content, "Proposed items"):
				return textResponse(verifyPayload), nil
			case strings.Contains(content, "Acknowledge readiness"):
				return textResponse("ready"), nil
			default:
				return textResponse(docPayload), nil
			}
		},
	}
	e := New(client, config.AnthropicConfig{RequestsPerMin: 6000})
	fastRetry(e)

	docs := []DocumentInput{testInput("a.pdf"), testInput("b.pdf"), testInput("c.pdf")}
	result, snippets, err := e.Estimate(context.Background(), "10 14 00", docs)
	require.NoError(t, err)

	assert.Len(t, result.Items, 3)
	assert.Len(t, snippets, 3)
	// primer + 3 documents + verification
	assert.Equal(t, 5, client.callCount())
}

func TestEstimate_RetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{
		respond: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			if call == 1 {
				return nil, resilience.NewTransientError(eris.New("overloaded"), 529)
			}
			if strings.Contains(req.Messages[0].Content, "Proposed items") {
				return textResponse(verifyPayload), nil
			}
			return textResponse(docPayload), nil
		},
	}
	e := New(client, config.AnthropicConfig{RequestsPerMin: 6000, MaxAttempts: 3})
	fastRetry(e)

	result, _, err := e.Estimate(context.Background(), "10 14 00", []DocumentInput{testInput("schedule.pdf")})
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)
	assert.Equal(t, 3, client.callCount())
}

func TestEstimate_NonRetryableFailsImmediately(t *testing.T) {
	client := &scriptedClient{
		respond: func(_ int, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return nil, eris.New("invalid request")
		},
	}
	e := New(client, config.AnthropicConfig{RequestsPerMin: 6000, MaxAttempts: 4})
	fastRetry(e)

	_, _, err := e.Estimate(context.Background(), "10 14 00", []DocumentInput{testInput("schedule.pdf")})
	require.Error(t, err)
	assert.Equal(t, 1, client.callCount())
}

func TestEstimate_ExhaustedRetriesPropagate(t *testing.T) {
	client := &scriptedClient{
		respond: func(_ int, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return nil, resilience.NewTransientError(eris.New("service unavailable"), 503)
		},
	}
	e := New(client, config.AnthropicConfig{RequestsPerMin: 6000, MaxAttempts: 3})
	fastRetry(e)

	_, _, err := e.Estimate(context.Background(), "10 14 00", []DocumentInput{testInput("schedule.pdf")})
	require.Error(t, err)
	assert.Equal(t, 3, client.callCount())
}

func TestEstimate_MalformedResponseFails(t *testing.T) {
	client := &scriptedClient{
		respond: func(_ int, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse("I could not find any schedule tables."), nil
		},
	}
	e := New(client, config.AnthropicConfig{RequestsPerMin: 6000})
	fastRetry(e)

	_, _, err := e.Estimate(context.Background(), "10 14 00", []DocumentInput{testInput("schedule.pdf")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestEstimate_NoDocuments(t *testing.T) {
	e := New(&scriptedClient{}, config.AnthropicConfig{})
	_, _, err := e.Estimate(context.Background(), "10 14 00", nil)
	require.Error(t, err)
}

func TestBuildDocumentPrompt_TruncatesPages(t *testing.T) {
	doc := model.Document{Filename: "plans.pdf"}
	pages := []model.PageText{
		{Filename: "plans.pdf", PageNumber: 1, Method: model.MethodOCR, Text: strings.Repeat("x", 100)},
	}
	prompt := buildDocumentPrompt(doc, pages, "10 14 00", 40)
	assert.Contains(t, prompt, "[truncated]")
	assert.Contains(t, prompt, "plans.pdf page 1 (ocr)")
	assert.NotContains(t, prompt, strings.Repeat("x", 41))
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(resilience.NewTransientError(eris.New("x"), 503)))
	assert.True(t, shouldRetry(context.DeadlineExceeded))
	assert.False(t, shouldRetry(eris.New("bad request")))
	assert.False(t, shouldRetry(resilience.ErrCircuitOpen))
}
