package agents

import (
	"context"
	"fmt"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/model"
)

// Tier 1 is the independent analysis fan-out: twelve agents, each examining
// one dimension of the deal. They share a payload schema and prompt shape;
// only the focus instructions differ.

const analysisSystem = `You are a venture due-diligence analyst examining one dimension of an investment opportunity.
Be skeptical. Distinguish what the documents prove from what the founders claim.
Return valid JSON matching the requested schema.`

const analysisPrompt = `%s

%s

%s

%s

%s

Analysis focus:
%s

Return a valid JSON object:
{"summary": "<3-5 sentence assessment>",
 "findings": [{"title": "<short>", "detail": "<specific, citing documents>", "severity": "<info|warning|critical>"}],
 "score": <0-100>,
 "confidence": <0.0-1.0>,
 "warning": {"severity": "<critical|high|medium>", "title": "<short>", "description": "<why this cannot wait>"}}

Only include "warning" for a finding severe enough that the deal team should hear about it before the full analysis finishes.`

// Finding is one discrete observation inside an analysis payload.
type Finding struct {
	Title    string `json:"title" validate:"required"`
	Detail   string `json:"detail"`
	Severity string `json:"severity" validate:"required,oneof=info warning critical"`
}

// WarningPayload is the optional urgent-signal part of an analysis payload.
type WarningPayload struct {
	Severity    string `json:"severity" validate:"required,oneof=critical high medium"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

// AnalysisPayload is the shared schema for tier 1 and tier 3 agents.
type AnalysisPayload struct {
	Summary    string          `json:"summary" validate:"required"`
	Findings   []Finding       `json:"findings" validate:"dive"`
	Score      int             `json:"score" validate:"gte=0,lte=100"`
	Confidence float64         `json:"confidence" validate:"gte=0,lte=1"`
	Warning    *WarningPayload `json:"warning,omitempty"`
}

func (p *AnalysisPayload) earlyWarning(id model.AgentID) *model.EarlyWarning {
	if p.Warning == nil {
		return nil
	}
	return &model.EarlyWarning{
		AgentID:     id,
		Severity:    model.WarnSeverity(p.Warning.Severity),
		Title:       p.Warning.Title,
		Description: p.Warning.Description,
	}
}

type analysisSpec struct {
	id         model.AgentID
	complexity model.Complexity
	focus      string
}

var tier1Specs = []analysisSpec{
	{model.AgentFinancials, model.ComplexityMedium,
		"Financial health: revenue quality and growth, burn rate, runway, margin structure, and whether the financial narrative matches the underlying numbers."},
	{model.AgentMarket, model.ComplexityMedium,
		"Market opportunity: TAM/SAM/SOM credibility, market growth, timing, and whether the bottom-up sizing supports the top-down claims."},
	{model.AgentTeam, model.ComplexityLow,
		"Team: founder backgrounds, domain expertise, prior exits, completeness of the founding team, and key-person risk."},
	{model.AgentProduct, model.ComplexityMedium,
		"Product: maturity and stage, technical differentiation, roadmap realism, and evidence the product works as claimed."},
	{model.AgentTraction, model.ComplexityMedium,
		"Traction: customer counts, growth trajectory, retention, engagement depth, and whether traction is paid or pilot-stage."},
	{model.AgentLegal, model.ComplexityLow,
		"Legal: incorporation structure, IP assignment, open litigation, regulatory exposure, and anything that would complicate the round."},
	{model.AgentCompetitors, model.ComplexityLow,
		"Competitive landscape: who the real competitors are, their funding and scale, and how crowded the space is."},
	{model.AgentMoat, model.ComplexityMedium,
		"Defensibility: network effects, switching costs, proprietary data or technology, and how durable the claimed moat is."},
	{model.AgentGoToMarket, model.ComplexityLow,
		"Go-to-market: acquisition channels, sales motion, CAC trends, and whether the GTM strategy matches the buyer."},
	{model.AgentRisks, model.ComplexityMedium,
		"Risk register: the top risks to this investment across execution, market, financial and team dimensions, each with likelihood and impact."},
	{model.AgentCapTable, model.ComplexityLow,
		"Cap table: ownership structure, founder dilution to date, investor concentration, and any unusual terms or overhangs."},
	{model.AgentCustomers, model.ComplexityLow,
		"Customer evidence: who the customers are, contract quality, concentration risk, and what reference signals the documents contain."},
}

// analysisAgent runs one focused dimension of the tier 1 fan-out.
type analysisAgent struct {
	deps  Deps
	def   model.AgentDefinition
	focus string
}

func newAnalysisAgent(deps Deps, spec analysisSpec) *analysisAgent {
	return &analysisAgent{
		deps:  deps,
		def:   defFor(spec.id, 1, spec.complexity),
		focus: spec.focus,
	}
}

func (a *analysisAgent) Definition() model.AgentDefinition { return a.def }

func (a *analysisAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	return runAnalysis(ctx, a.deps, a.def, a.focus, ec)
}

// runAnalysis is the shared prompt/decode path for analysis-shaped agents.
func runAnalysis(ctx context.Context, deps Deps, def model.AgentDefinition, focus string, ec *model.ExecContext) (*agent.Output, error) {
	prompt := fmt.Sprintf(analysisPrompt,
		FormatDealContext(ec.Deal),
		FormatEnrichment(ec.Enrichment),
		FormatFacts(ec.Facts),
		FormatDocuments(ec.Documents),
		"", // no prior findings at tier 1
		focus,
	)

	text, usage, costUSD, err := deps.complete(ctx, def.Complexity, analysisSystem, prompt, 2048)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	payload, err := agent.DecodeResponse[AnalysisPayload](def.ID, text)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	data, err := agent.MarshalData(payload)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}
	return &agent.Output{
		Data:    data,
		Warning: payload.earlyWarning(def.ID),
		Usage:   usage,
		CostUSD: costUSD,
	}, nil
}

// Tier1AgentIDs returns the fan-out membership in declaration order.
func Tier1AgentIDs() []model.AgentID {
	ids := make([]model.AgentID, len(tier1Specs))
	for i, s := range tier1Specs {
		ids[i] = s.id
	}
	return ids
}
