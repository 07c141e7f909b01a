package agents

import (
	"context"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/coherence"
	"github.com/sells-group/diligence-cli/internal/model"
)

// coherenceAgent runs the deterministic cross-fact consistency checks after
// tier 0 lands facts on record. No LLM call is involved, so its timeout is
// nominal and it never retries.
type coherenceAgent struct {
	def model.AgentDefinition
}

func newCoherenceAgent() *coherenceAgent {
	def := defFor(model.AgentCoherence, 0, model.ComplexityLow, model.AgentDocExtraction)
	def.MaxRetries = 0
	return &coherenceAgent{def: def}
}

func (a *coherenceAgent) Definition() model.AgentDefinition { return a.def }

func (a *coherenceAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	report := coherence.Check(ec.Facts)

	data, err := agent.MarshalData(report)
	if err != nil {
		return nil, err
	}

	out := &agent.Output{Data: data}
	if report.Recommendation == coherence.DataUnreliable {
		out.Warning = &model.EarlyWarning{
			AgentID:     a.def.ID,
			Severity:    model.WarnCritical,
			Title:       "Deal data unreliable",
			Description: "Cross-fact consistency checks found multiple critical inconsistencies.",
		}
	} else if report.Recommendation == coherence.RequestClarification {
		out.Warning = &model.EarlyWarning{
			AgentID:     a.def.ID,
			Severity:    model.WarnHigh,
			Title:       "Clarification required",
			Description: "A critical inconsistency was found in the deal's stated metrics.",
		}
	}
	return out, nil
}
