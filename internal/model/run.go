package model

import "time"

// RunStatus is the lifecycle state of an analysis run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Outcome is the user-visible resolution of a single-agent refresh request.
// It distinguishes "agent ran and failed" from "deadline exceeded before any
// result".
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// TierResult aggregates one tier's execution.
type TierResult struct {
	Tier         int                      `json:"tier"`
	Results      map[AgentID]*AgentResult `json:"results"`
	SuccessCount int                      `json:"success_count"`
	Skipped      bool                     `json:"skipped,omitempty"`
	CostUSD      float64                  `json:"cost_usd"`
	Duration     time.Duration            `json:"duration"`
}

// AnalysisRun aggregates one full pipeline execution for a deal.
type AnalysisRun struct {
	ID            string                   `json:"id"`
	DealID        string                   `json:"deal_id"`
	Status        RunStatus                `json:"status"`
	Results       map[AgentID]*AgentResult `json:"results"`
	EarlyWarnings []EarlyWarning           `json:"early_warnings,omitempty"`
	TotalCostUSD  float64                  `json:"total_cost_usd"`
	TotalTime     time.Duration            `json:"total_time"`
	TotalTokens   int64                    `json:"total_tokens"`
	Error         string                   `json:"error,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// Progress reports pipeline advancement as each agent settles.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Current   AgentID `json:"current"`
}
