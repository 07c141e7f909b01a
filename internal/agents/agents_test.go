package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/cost"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// mockAI returns a canned response and records the last request.
type mockAI struct {
	response string
	err      error
	lastReq  anthropic.MessageRequest
	calls    int
}

func (m *mockAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: m.response}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}, nil
}

func testDeps(ai anthropic.Client) Deps {
	return Deps{
		AI:   ai,
		Calc: cost.NewCalculator(cost.DefaultRates()),
		Models: Models{
			Haiku:  "claude-haiku-4-5-20251001",
			Sonnet: "claude-sonnet-4-5-20250929",
			Opus:   "claude-opus-4-6",
		},
	}
}

func testExecContext() *model.ExecContext {
	return &model.ExecContext{
		Deal: model.Deal{
			ID:     "deal-1",
			Name:   "Acme Robotics",
			OrgID:  "org-1",
			Sector: model.SectorSaaS,
			Stage:  model.StageSeed,
		},
		Documents: []model.Document{
			{ID: "doc-1", Type: model.DocTypePitchDeck, Name: "deck.pdf", ExtractedText: "We make robots. MRR is $50,000."},
		},
	}
}

func TestNewRegistryWiresFullPipeline(t *testing.T) {
	reg, err := NewRegistry(testDeps(&mockAI{}))
	require.NoError(t, err)

	// 2 tier 0 + coherence + 12 tier 1 + 4 tier 2 + 5 specialists.
	assert.Equal(t, 24, reg.Len())
	assert.Len(t, reg.Tier(1), 12)
	assert.Len(t, reg.Tier(2), 4)
	assert.Len(t, reg.Tier(3), 5)

	for _, id := range Tier1AgentIDs() {
		ag, ok := reg.Get(id)
		require.True(t, ok, "missing tier 1 agent %s", id)
		assert.Equal(t, 1, ag.Definition().Tier)
	}
}

func TestSpecialistFor(t *testing.T) {
	id, ok := SpecialistFor(model.SectorFintech)
	require.True(t, ok)
	assert.Equal(t, model.AgentFintechSpecialist, id)

	_, ok = SpecialistFor(model.SectorConsumer)
	assert.False(t, ok)

	_, ok = SpecialistFor(model.SectorOther)
	assert.False(t, ok)
}

func TestAnalysisAgentDecodesPayload(t *testing.T) {
	ai := &mockAI{response: `{
		"summary": "Revenue quality is weak; most MRR is pilot contracts.",
		"findings": [{"title": "Pilot-heavy MRR", "detail": "80% of MRR is unconverted pilots", "severity": "warning"}],
		"score": 45,
		"confidence": 0.8
	}`}

	deps := testDeps(ai)
	ag := newAnalysisAgent(deps, tier1Specs[0])

	out, err := ag.Run(context.Background(), testExecContext())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Nil(t, out.Warning)
	assert.Positive(t, out.CostUSD)
	assert.Equal(t, int64(1000), out.Usage.InputTokens)
	assert.Contains(t, string(out.Data), "Pilot-heavy MRR")
	// Financials is a medium-complexity agent, so it rides Sonnet.
	assert.Equal(t, "claude-sonnet-4-5-20250929", ai.lastReq.Model)
}

func TestAnalysisAgentPropagatesWarning(t *testing.T) {
	ai := &mockAI{response: `{
		"summary": "The bank statements do not match the claimed cash balance.",
		"findings": [{"title": "Cash discrepancy", "severity": "critical"}],
		"score": 10,
		"confidence": 0.9,
		"warning": {"severity": "critical", "title": "Cash balance discrepancy", "description": "Claimed cash exceeds bank statements by 4x."}
	}`}

	ag := newAnalysisAgent(testDeps(ai), tier1Specs[0])
	out, err := ag.Run(context.Background(), testExecContext())
	require.NoError(t, err)
	require.NotNil(t, out.Warning)
	assert.Equal(t, model.WarnCritical, out.Warning.Severity)
	assert.True(t, out.Warning.Urgent())
	assert.Equal(t, model.AgentFinancials, out.Warning.AgentID)
}

func TestAnalysisAgentRejectsMalformedOutput(t *testing.T) {
	ai := &mockAI{response: `I'm sorry, I can't produce that analysis.`}

	ag := newAnalysisAgent(testDeps(ai), tier1Specs[0])
	out, err := ag.Run(context.Background(), testExecContext())
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
	// Usage still accounted even though decoding failed.
	require.NotNil(t, out)
	assert.Equal(t, int64(1000), out.Usage.InputTokens)
}

func TestDocExtractionProducesCandidates(t *testing.T) {
	ai := &mockAI{response: `{"facts": [
		{"key": "mrr", "value": 50000, "confidence": 90, "quote": "MRR is $50,000", "document_id": "doc-1"}
	]}`}

	ag := newDocExtraction(testDeps(ai))
	out, err := ag.Run(context.Background(), testExecContext())
	require.NoError(t, err)

	payload, err := DecodeExtraction(out.Data)
	require.NoError(t, err)
	cands := payload.Candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, model.FactKey("mrr"), cands[0].Key)
	assert.Equal(t, 90, cands[0].SourceConfidence)
	assert.Equal(t, "MRR is $50,000", cands[0].ExtractedText)

	// The prompt must carry the taxonomy so the model only uses known keys.
	assert.Contains(t, ai.lastReq.Messages[0].Content, "mrr")
	assert.Contains(t, ai.lastReq.Messages[0].Content, "burn_rate_monthly")
}

func TestContextEnrichmentDecodes(t *testing.T) {
	ai := &mockAI{response: `{
		"tagline": "Robots for warehouses",
		"product_summary": "Autonomous picking robots sold as RaaS.",
		"competitors": ["Locus", "6 River"],
		"sector_hints": ["saas", "deeptech"],
		"keywords": ["robotics", "warehouse"]
	}`}

	ag := newContextEnrichment(testDeps(ai))
	out, err := ag.Run(context.Background(), testExecContext())
	require.NoError(t, err)

	e, err := DecodeEnrichment(out.Data)
	require.NoError(t, err)
	assert.Equal(t, "Robots for warehouses", e.Tagline)
	assert.Equal(t, []model.Sector{model.SectorSaaS, model.SectorDeepTech}, e.SectorHints)
}

func TestCoherenceAgentFlagsUnreliableData(t *testing.T) {
	ag := newCoherenceAgent()

	// Three critical issues: impossible churn, impossible margin, and an ARR
	// wildly off 12x MRR.
	ec := &model.ExecContext{Facts: []model.CurrentFact{
		{Key: "mrr", Value: float64(50000)},
		{Key: "arr", Value: float64(2_000_000)},
		{Key: "churn_rate_monthly_pct", Value: float64(150)},
		{Key: "gross_margin_pct", Value: float64(180)},
	}}

	out, err := ag.Run(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, out.Warning)
	assert.Equal(t, model.WarnCritical, out.Warning.Severity)
	assert.Contains(t, string(out.Data), `"reliability_grade":"F"`)
}

func TestFormatDocumentsTruncates(t *testing.T) {
	long := make([]byte, perDocCharLimit*3)
	for i := range long {
		long[i] = 'x'
	}
	docs := []model.Document{
		{ID: "a", Name: "a.pdf", Type: model.DocTypeFinancials, ExtractedText: string(long)},
		{ID: "b", Name: "b.pdf", Type: model.DocTypeLegal, ExtractedText: string(long)},
		{ID: "c", Name: "c.pdf", Type: model.DocTypeOther, ExtractedText: string(long)},
	}

	got := FormatDocuments(docs)
	assert.LessOrEqual(t, len(got), docCharBudget+3*200)
	assert.Contains(t, got, "a.pdf")
	assert.Contains(t, got, "b.pdf")
	// Third document falls outside the budget entirely.
	assert.NotContains(t, got, "c.pdf")
}

func TestFormatPreviousFindingsIncludesFailures(t *testing.T) {
	ec := &model.ExecContext{
		PreviousResults: map[model.AgentID]*model.AgentResult{
			model.AgentFinancials: {AgentID: model.AgentFinancials, Success: true, Data: []byte(`{"summary":"ok"}`)},
			model.AgentLegal:      {AgentID: model.AgentLegal, Success: false, Error: "agent legal timed out after 30s"},
		},
	}

	got := FormatPreviousFindings(ec, []model.AgentID{model.AgentFinancials, model.AgentLegal, model.AgentMarket})
	assert.Contains(t, got, `"summary":"ok"`)
	assert.Contains(t, got, "FAILED: agent legal timed out")
	assert.NotContains(t, got, string(model.AgentMarket))
}
