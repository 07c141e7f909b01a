// Package agents holds the concrete due-diligence agents: tier 0 context
// builders, the tier 1 analysis fan-out, tier 2 synthesis, and the tier 3
// sector specialists. All LLM-backed agents share the completion helper here;
// prompts and payload schemas live next to each agent.
package agents

import (
	"context"
	"time"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/cost"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// Models names the Claude model used per complexity band.
type Models struct {
	Haiku  string
	Sonnet string
	Opus   string
}

// Deps carries the shared dependencies every LLM-backed agent needs.
type Deps struct {
	AI     anthropic.Client
	Calc   *cost.Calculator
	Models Models
}

// Supervision defaults per complexity band. Agent deadlines stay below the
// single-agent outer guard so the runner's timer always fires first.
const (
	timeoutLow    = 30 * time.Second
	timeoutMedium = 50 * time.Second
	timeoutHigh   = 90 * time.Second

	defaultMaxRetries = 2
)

func (m Models) forComplexity(c model.Complexity) string {
	switch c {
	case model.ComplexityLow:
		return m.Haiku
	case model.ComplexityHigh:
		return m.Opus
	default:
		return m.Sonnet
	}
}

func timeoutFor(c model.Complexity) time.Duration {
	switch c {
	case model.ComplexityLow:
		return timeoutLow
	case model.ComplexityHigh:
		return timeoutHigh
	default:
		return timeoutMedium
	}
}

func defFor(id model.AgentID, tier int, c model.Complexity, deps ...model.AgentID) model.AgentDefinition {
	return model.AgentDefinition{
		ID:           id,
		Tier:         tier,
		Dependencies: deps,
		Timeout:      timeoutFor(c),
		MaxRetries:   defaultMaxRetries,
		Complexity:   c,
	}
}

// complete runs one prompt through the provider and returns the response text
// with normalized usage and cost.
func (d Deps) complete(ctx context.Context, c model.Complexity, system, prompt string, maxTokens int64) (string, model.TokenUsage, float64, error) {
	modelName := d.Models.forComplexity(c)

	resp, err := d.AI.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     modelName,
		MaxTokens: maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(system),
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", model.TokenUsage{}, 0, err
	}

	usage := model.TokenUsage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
	}

	var costUSD float64
	if d.Calc != nil {
		costUSD = d.Calc.Claude(modelName, usage)
	}
	return resp.Text(), usage, costUSD, nil
}

// NewRegistry wires every agent of the fixed pipeline.
func NewRegistry(deps Deps) (*agent.Registry, error) {
	all := []agent.Agent{
		newDocExtraction(deps),
		newContextEnrichment(deps),
		newCoherenceAgent(),
	}
	for _, spec := range tier1Specs {
		all = append(all, newAnalysisAgent(deps, spec))
	}
	all = append(all,
		newSWOT(deps),
		newComparables(deps),
		newScoring(deps),
		newMemo(deps),
	)
	for _, spec := range specialistSpecs {
		all = append(all, newSpecialist(deps, spec))
	}
	return agent.NewRegistry(all...)
}
