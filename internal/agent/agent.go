// Package agent defines the agent contract, the closed registry mapping
// agent identifiers to implementations, and the runner that supervises every
// invocation with timeout enforcement and bounded retry.
package agent

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Output is what a successful agent invocation produces. The runner folds it
// into a model.AgentResult.
type Output struct {
	Data    json.RawMessage
	Warning *model.EarlyWarning
	Usage   model.TokenUsage
	CostUSD float64
}

// Agent is a named computation unit. Implementations read the execution
// context, call the LLM provider, and return a structured payload. They
// never mutate the context.
type Agent interface {
	Definition() model.AgentDefinition
	Run(ctx context.Context, ec *model.ExecContext) (*Output, error)
}

// Registry is the compile-time-checked map from agent identifier to
// implementation. Construction fails on duplicates, so "agent not found" is
// not a runtime failure mode: every ID handed to the orchestrator comes from
// the model.AgentID enumeration and is registered here.
type Registry struct {
	agents map[model.AgentID]Agent
	byTier map[int][]model.AgentID
}

// NewRegistry indexes the given agents by ID and tier.
func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{
		agents: make(map[model.AgentID]Agent, len(agents)),
		byTier: make(map[int][]model.AgentID),
	}
	for _, ag := range agents {
		if ag == nil {
			return nil, eris.New("agent: nil agent in registry")
		}
		def := ag.Definition()
		if def.ID == "" {
			return nil, eris.New("agent: agent with empty ID")
		}
		if _, dup := r.agents[def.ID]; dup {
			return nil, eris.Errorf("agent: duplicate agent %q", def.ID)
		}
		r.agents[def.ID] = ag
		r.byTier[def.Tier] = append(r.byTier[def.Tier], def.ID)
	}
	for tier := range r.byTier {
		ids := r.byTier[tier]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return r, nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id model.AgentID) (Agent, bool) {
	ag, ok := r.agents[id]
	return ag, ok
}

// Tier returns the IDs of all agents registered for the given tier, in
// stable order.
func (r *Registry) Tier(tier int) []model.AgentID {
	return r.byTier[tier]
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.agents)
}
