package agents

import (
	"context"
	"fmt"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/model"
)

// Tier 3 is conditional: at most one sector specialist runs, selected by the
// deal's sector. Sectors without a specialist skip the tier.

type specialistSpec struct {
	id     model.AgentID
	sector model.Sector
	focus  string
}

var specialistSpecs = []specialistSpec{
	{model.AgentSaaSSpecialist, model.SectorSaaS,
		"SaaS-specific diligence: net revenue retention, gross margin versus SaaS benchmarks, CAC payback, expansion revenue, and whether the metrics profile matches the claimed stage."},
	{model.AgentFintechSpecialist, model.SectorFintech,
		"Fintech-specific diligence: licensing and regulatory posture, compliance exposure, counterparty and fraud risk, unit economics net of interchange or float assumptions."},
	{model.AgentHealthcareSpecialist, model.SectorHealthcare,
		"Healthcare-specific diligence: regulatory pathway (FDA or equivalent), clinical evidence quality, reimbursement model, and sales-cycle reality for the claimed buyers."},
	{model.AgentMarketplaceSpecialist, model.SectorMarketplace,
		"Marketplace-specific diligence: liquidity and take rate, supply/demand balance, disintermediation risk, and network-effect evidence versus subsidized GMV."},
	{model.AgentDeepTechSpecialist, model.SectorDeepTech,
		"Deep-tech diligence: technical feasibility and readiness level, IP position, capital intensity to first revenue, and the realism of the commercialization timeline."},
}

// SpecialistFor returns the specialist agent ID for a sector, if one exists.
func SpecialistFor(sector model.Sector) (model.AgentID, bool) {
	for _, s := range specialistSpecs {
		if s.sector == sector {
			return s.id, true
		}
	}
	return "", false
}

type specialistAgent struct {
	deps  Deps
	def   model.AgentDefinition
	focus string
}

func newSpecialist(deps Deps, spec specialistSpec) *specialistAgent {
	return &specialistAgent{
		deps:  deps,
		def:   defFor(spec.id, 3, model.ComplexityHigh),
		focus: spec.focus,
	}
}

func (a *specialistAgent) Definition() model.AgentDefinition { return a.def }

func (a *specialistAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	prompt := fmt.Sprintf(analysisPrompt,
		FormatDealContext(ec.Deal),
		FormatEnrichment(ec.Enrichment),
		FormatFacts(ec.Facts),
		FormatDocuments(ec.Documents),
		"Prior findings:\n"+FormatPreviousFindings(ec, Tier1AgentIDs()),
		a.focus,
	)

	text, usage, costUSD, err := a.deps.complete(ctx, a.def.Complexity, analysisSystem, prompt, 2048)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	payload, err := agent.DecodeResponse[AnalysisPayload](a.def.ID, text)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}

	data, err := agent.MarshalData(payload)
	if err != nil {
		return &agent.Output{Usage: usage, CostUSD: costUSD}, err
	}
	return &agent.Output{
		Data:    data,
		Warning: payload.earlyWarning(a.def.ID),
		Usage:   usage,
		CostUSD: costUSD,
	}, nil
}
