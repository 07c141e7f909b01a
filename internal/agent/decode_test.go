package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
)

type samplePayload struct {
	Summary string   `json:"summary" validate:"required"`
	Score   int      `json:"score" validate:"gte=0,lte=100"`
	Tags    []string `json:"tags,omitempty"`
}

func TestDecodeResponsePlainJSON(t *testing.T) {
	raw := `{"summary":"solid fundamentals","score":82,"tags":["b2b"]}`

	out, err := DecodeResponse[samplePayload](model.AgentScoring, raw)
	require.NoError(t, err)
	assert.Equal(t, "solid fundamentals", out.Summary)
	assert.Equal(t, 82, out.Score)
}

func TestDecodeResponseFencedJSON(t *testing.T) {
	raw := "Here is the analysis:\n```json\n{\"summary\":\"ok\",\"score\":50}\n```\nLet me know if you need more."

	out, err := DecodeResponse[samplePayload](model.AgentScoring, raw)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Summary)
}

func TestDecodeResponseNoJSON(t *testing.T) {
	_, err := DecodeResponse[samplePayload](model.AgentScoring, "I could not produce a result.")
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
}

func TestDecodeResponseMalformedJSON(t *testing.T) {
	_, err := DecodeResponse[samplePayload](model.AgentScoring, `{"summary": "truncated`)
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
}

func TestDecodeResponseSchemaViolation(t *testing.T) {
	// Score out of range and summary missing.
	_, err := DecodeResponse[samplePayload](model.AgentScoring, `{"score":150}`)
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
}

func TestExtractJSONSurroundingProse(t *testing.T) {
	got := ExtractJSON(`The result follows. {"a":1} Hope that helps.`)
	assert.Equal(t, `{"a":1}`, got)
}

func TestExtractJSONNested(t *testing.T) {
	got := ExtractJSON(`{"a":{"b":2}}`)
	assert.Equal(t, `{"a":{"b":2}}`, got)
}
