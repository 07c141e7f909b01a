package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/diligence-cli/internal/model"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

func TestClaudeCost(t *testing.T) {
	c := NewCalculator(testRates())

	got := c.Claude("sonnet", model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.InDelta(t, 18.0, got, 1e-9)
}

func TestClaudeCostWithCache(t *testing.T) {
	c := NewCalculator(testRates())

	got := c.Claude("haiku", model.TokenUsage{
		InputTokens:      1_000_000,
		OutputTokens:     0,
		CacheWriteTokens: 1_000_000,
		CacheReadTokens:  1_000_000,
	})
	// 0.80 + 0.80*1.25 + 0.80*0.1
	assert.InDelta(t, 1.88, got, 1e-9)
}

func TestClaudeCostUnknownModel(t *testing.T) {
	c := NewCalculator(testRates())
	assert.Zero(t, c.Claude("unknown", model.TokenUsage{InputTokens: 1000}))
}

func TestDefaultRatesCoverConfiguredModels(t *testing.T) {
	rates := DefaultRates()
	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5-20250929")
	assert.Contains(t, rates.Anthropic, "claude-opus-4-6")
}
