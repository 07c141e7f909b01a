package agents

import (
	"context"
	"fmt"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/model"
)

// Tier 2 synthesizes the fan-out: SWOT and comparables run in parallel over
// the tier 1 findings, then scoring, then the memo that consumes the score.

const synthesisSystem = `You are a senior venture analyst synthesizing a due-diligence review from specialist findings.
Weigh the specialists against each other; where they disagree, say so.
Return valid JSON matching the requested schema.`

const swotPrompt = `%s

%s

%s

Specialist findings:
%s

Produce a SWOT analysis of this investment opportunity. Return a valid JSON object:
{"strengths": ["<specific, evidence-backed>"],
 "weaknesses": ["..."],
 "opportunities": ["..."],
 "threats": ["..."]}`

// SWOTPayload is the SWOT agent's output schema.
type SWOTPayload struct {
	Strengths     []string `json:"strengths" validate:"required,min=1"`
	Weaknesses    []string `json:"weaknesses" validate:"required,min=1"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

type swotAgent struct {
	deps Deps
	def  model.AgentDefinition
}

func newSWOT(deps Deps) *swotAgent {
	return &swotAgent{deps: deps, def: defFor(model.AgentSWOT, 2, model.ComplexityMedium)}
}

func (a *swotAgent) Definition() model.AgentDefinition { return a.def }

func (a *swotAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	prompt := fmt.Sprintf(swotPrompt,
		FormatDealContext(ec.Deal),
		FormatEnrichment(ec.Enrichment),
		FormatFacts(ec.Facts),
		FormatPreviousFindings(ec, Tier1AgentIDs()),
	)
	return completeAndDecode[SWOTPayload](ctx, a.deps, a.def, synthesisSystem, prompt, 2048, nil)
}

const comparablesPrompt = `%s

%s

%s

Specialist findings:
%s

Identify comparable companies (same sector, similar stage and model) and what their outcomes imply for this deal's valuation. Return a valid JSON object:
{"comparables": [{"name": "<company>", "stage": "<stage at comparison>", "outcome": "<raised/acquired/ipo/shut down, with numbers where known>", "relevance": "<why comparable>"}],
 "valuation_comment": "<how the comparables bear on the asked valuation>"}`

// Comparable is one reference company in the comparables payload.
type Comparable struct {
	Name      string `json:"name" validate:"required"`
	Stage     string `json:"stage"`
	Outcome   string `json:"outcome"`
	Relevance string `json:"relevance"`
}

// ComparablesPayload is the comparables agent's output schema.
type ComparablesPayload struct {
	Comparables      []Comparable `json:"comparables" validate:"dive"`
	ValuationComment string       `json:"valuation_comment"`
}

type comparablesAgent struct {
	deps Deps
	def  model.AgentDefinition
}

func newComparables(deps Deps) *comparablesAgent {
	return &comparablesAgent{deps: deps, def: defFor(model.AgentComparables, 2, model.ComplexityMedium)}
}

func (a *comparablesAgent) Definition() model.AgentDefinition { return a.def }

func (a *comparablesAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	prompt := fmt.Sprintf(comparablesPrompt,
		FormatDealContext(ec.Deal),
		FormatEnrichment(ec.Enrichment),
		FormatFacts(ec.Facts),
		FormatPreviousFindings(ec, Tier1AgentIDs()),
	)
	return completeAndDecode[ComparablesPayload](ctx, a.deps, a.def, synthesisSystem, prompt, 2048, nil)
}

const scoringPrompt = `%s

%s

Specialist findings:
%s

Synthesis:
%s

Score this investment opportunity. Return a valid JSON object:
{"dimensions": [{"name": "<team|market|product|traction|financials|defensibility>", "score": <0-100>, "rationale": "<one sentence>"}],
 "overall_score": <0-100>,
 "conviction": "<strong_yes|yes|neutral|no|strong_no>",
 "rationale": "<the 2-3 factors that drive the overall score>"}`

// DimensionScore is one scored dimension in the scoring payload.
type DimensionScore struct {
	Name      string `json:"name" validate:"required"`
	Score     int    `json:"score" validate:"gte=0,lte=100"`
	Rationale string `json:"rationale"`
}

// ScoringPayload is the scoring agent's output schema.
type ScoringPayload struct {
	Dimensions   []DimensionScore `json:"dimensions" validate:"required,min=1,dive"`
	OverallScore int              `json:"overall_score" validate:"gte=0,lte=100"`
	Conviction   string           `json:"conviction" validate:"required,oneof=strong_yes yes neutral no strong_no"`
	Rationale    string           `json:"rationale"`
}

type scoringAgent struct {
	deps Deps
	def  model.AgentDefinition
}

func newScoring(deps Deps) *scoringAgent {
	return &scoringAgent{
		deps: deps,
		def:  defFor(model.AgentScoring, 2, model.ComplexityHigh, model.AgentSWOT, model.AgentComparables),
	}
}

func (a *scoringAgent) Definition() model.AgentDefinition { return a.def }

func (a *scoringAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	prompt := fmt.Sprintf(scoringPrompt,
		FormatDealContext(ec.Deal),
		FormatFacts(ec.Facts),
		FormatPreviousFindings(ec, Tier1AgentIDs()),
		FormatPreviousFindings(ec, []model.AgentID{model.AgentSWOT, model.AgentComparables}),
	)

	warn := func(p *ScoringPayload) *model.EarlyWarning {
		if p.Conviction != "strong_no" {
			return nil
		}
		return &model.EarlyWarning{
			AgentID:     model.AgentScoring,
			Severity:    model.WarnHigh,
			Title:       "Scoring recommends against",
			Description: p.Rationale,
		}
	}
	return completeAndDecode(ctx, a.deps, a.def, synthesisSystem, prompt, 2048, warn)
}

const memoPrompt = `%s

%s

Specialist findings:
%s

Synthesis and score:
%s

Write the investment memo. Return a valid JSON object:
{"title": "<memo title>",
 "sections": [{"heading": "<section>", "body": "<markdown>"}],
 "recommendation": "<the committee-facing recommendation in one paragraph>"}`

// MemoSection is one section of the investment memo.
type MemoSection struct {
	Heading string `json:"heading" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// MemoPayload is the memo agent's output schema.
type MemoPayload struct {
	Title          string        `json:"title" validate:"required"`
	Sections       []MemoSection `json:"sections" validate:"required,min=1,dive"`
	Recommendation string        `json:"recommendation" validate:"required"`
}

type memoAgent struct {
	deps Deps
	def  model.AgentDefinition
}

func newMemo(deps Deps) *memoAgent {
	return &memoAgent{
		deps: deps,
		def:  defFor(model.AgentMemo, 2, model.ComplexityHigh, model.AgentScoring),
	}
}

func (a *memoAgent) Definition() model.AgentDefinition { return a.def }

func (a *memoAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	prompt := fmt.Sprintf(memoPrompt,
		FormatDealContext(ec.Deal),
		FormatFacts(ec.Facts),
		FormatPreviousFindings(ec, Tier1AgentIDs()),
		FormatPreviousFindings(ec, []model.AgentID{model.AgentSWOT, model.AgentComparables, model.AgentScoring}),
	)
	return completeAndDecode[MemoPayload](ctx, a.deps, a.def, synthesisSystem, prompt, 4096, nil)
}

// completeAndDecode runs the shared call-decode-marshal path for agents with
// a typed payload. warn, when non-nil, derives an early warning from the
// decoded payload.
func completeAndDecode[T any](ctx context.Context, deps Deps, def model.AgentDefinition, system, prompt string, maxTokens int64, warn func(*T) *model.EarlyWarning) (*agent.Output, error) {
	text, usage, costUSD, err := deps.complete(ctx, def.Complexity, system, prompt, maxTokens)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	payload, err := agent.DecodeResponse[T](def.ID, text)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	data, err := agent.MarshalData(payload)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	out := &agent.Output{Data: data, Usage: usage, CostUSD: costUSD}
	if warn != nil {
		out.Warning = warn(payload)
	}
	return out, nil
}
