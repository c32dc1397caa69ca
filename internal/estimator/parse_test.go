package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_FencedJSON(t *testing.T) {
	text := "Here is the takeoff:\n```json\n" + docPayload + "\n```\nLet me know if you need anything else."
	p, err := parsePayload(text)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "S1", p.Items[0].Code)
}

func TestParsePayload_SurroundingProse(t *testing.T) {
	text := "Based on the schedule: " + docPayload + " (end of analysis)"
	p, err := parsePayload(text)
	require.NoError(t, err)
	assert.Len(t, p.Evidence, 1)
}

func TestParseVerification(t *testing.T) {
	v, err := parseVerification("```json\n" + verifyPayload + "\n```")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Checked)
	assert.InDelta(t, 0.95, v.OverallScore, 1e-9)
}

func TestExtractJSON_NoObject(t *testing.T) {
	_, err := extractJSON("no structured output here")
	require.Error(t, err)
}
