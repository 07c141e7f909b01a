package model

import (
	"encoding/json"
	"time"
)

// AgentID identifies an agent type. The set is closed: the orchestrator only
// ever runs agents from this enumeration, so "agent not found" cannot happen
// at runtime.
type AgentID string

const (
	// Tier 0, sequential context building.
	AgentDocExtraction     AgentID = "doc_extraction"
	AgentContextEnrichment AgentID = "context_enrichment"

	// Coherence validation, run once facts are on record.
	AgentCoherence AgentID = "coherence"

	// Tier 1, independent analysis fan-out.
	AgentFinancials  AgentID = "financials"
	AgentMarket      AgentID = "market"
	AgentTeam        AgentID = "team"
	AgentProduct     AgentID = "product"
	AgentTraction    AgentID = "traction"
	AgentLegal       AgentID = "legal"
	AgentCompetitors AgentID = "competitors"
	AgentMoat        AgentID = "moat"
	AgentGoToMarket  AgentID = "go_to_market"
	AgentRisks       AgentID = "risks"
	AgentCapTable    AgentID = "cap_table"
	AgentCustomers   AgentID = "customers"

	// Tier 2, synthesis.
	AgentSWOT        AgentID = "swot"
	AgentComparables AgentID = "comparables"
	AgentScoring     AgentID = "scoring"
	AgentMemo        AgentID = "memo"

	// Tier 3, sector specialists, one per run at most.
	AgentSaaSSpecialist        AgentID = "saas_specialist"
	AgentFintechSpecialist     AgentID = "fintech_specialist"
	AgentHealthcareSpecialist  AgentID = "healthcare_specialist"
	AgentMarketplaceSpecialist AgentID = "marketplace_specialist"
	AgentDeepTechSpecialist    AgentID = "deeptech_specialist"
)

// Complexity is a scheduling hint for how heavy an agent's LLM work is.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// AgentDefinition declares an agent's tier, supervision parameters and
// scheduling hints. Definitions are immutable and fixed per agent type.
type AgentDefinition struct {
	ID           AgentID       `json:"id"`
	Tier         int           `json:"tier"`
	Dependencies []AgentID     `json:"dependencies,omitempty"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	Complexity   Complexity    `json:"complexity"`
}

// WarnSeverity grades an early warning.
type WarnSeverity string

const (
	WarnCritical WarnSeverity = "critical"
	WarnHigh     WarnSeverity = "high"
	WarnMedium   WarnSeverity = "medium"
)

// EarlyWarning is a point-in-time severe finding pushed to the caller before
// the pipeline finishes. It is emitted, never stored as pipeline state.
type EarlyWarning struct {
	AgentID     AgentID      `json:"agent_id"`
	Severity    WarnSeverity `json:"severity"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
}

// Urgent reports whether the warning should be pushed before the tier
// finishes.
func (w EarlyWarning) Urgent() bool {
	return w.Severity == WarnCritical || w.Severity == WarnHigh
}

// TokenUsage tracks token consumption for one or more LLM calls.
type TokenUsage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// AgentResult is the outcome of one agent invocation. Exactly one is produced
// per agent per run and recorded regardless of success, so downstream agents
// can see both outcomes.
type AgentResult struct {
	AgentID       AgentID         `json:"agent_id"`
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
	TimedOut      bool            `json:"timed_out,omitempty"`
	CostUSD       float64         `json:"cost_usd"`
	ExecutionTime time.Duration   `json:"execution_time"`
	Attempts      int             `json:"attempts,omitempty"`
	Usage         TokenUsage      `json:"usage,omitempty"`
	Warning       *EarlyWarning   `json:"warning,omitempty"`
}

// Enrichment is the tier-0-derived shared context consumed by all later tiers.
type Enrichment struct {
	Tagline        string   `json:"tagline,omitempty"`
	ProductSummary string   `json:"product_summary,omitempty"`
	Competitors    []string `json:"competitors,omitempty"`
	SectorHints    []Sector `json:"sector_hints,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// ExecContext is the immutable snapshot handed to every agent. Agents read
// it, never write it; the orchestrator extends it between tiers by copying.
type ExecContext struct {
	Deal            Deal
	Documents       []Document
	Facts           []CurrentFact
	Enrichment      *Enrichment
	PreviousResults map[AgentID]*AgentResult
}

// Result returns the recorded result for the given agent, if any.
func (ec *ExecContext) Result(id AgentID) (*AgentResult, bool) {
	r, ok := ec.PreviousResults[id]
	return r, ok
}

// Extend returns a copy of the context with the given results merged in.
// The receiver is left untouched so agents still holding it never observe
// later tiers' writes.
func (ec *ExecContext) Extend(results map[AgentID]*AgentResult) *ExecContext {
	merged := make(map[AgentID]*AgentResult, len(ec.PreviousResults)+len(results))
	for id, r := range ec.PreviousResults {
		merged[id] = r
	}
	for id, r := range results {
		merged[id] = r
	}
	out := *ec
	out.PreviousResults = merged
	return &out
}

// WithEnrichment returns a copy of the context carrying tier-0 enrichment.
func (ec *ExecContext) WithEnrichment(e *Enrichment) *ExecContext {
	out := *ec
	out.Enrichment = e
	return &out
}

// WithFacts returns a copy of the context carrying the deal's current fact
// snapshot.
func (ec *ExecContext) WithFacts(facts []CurrentFact) *ExecContext {
	out := *ec
	out.Facts = facts
	return &out
}
