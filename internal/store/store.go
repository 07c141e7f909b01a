// Package store persists deals, case-file documents, analysis runs, and the
// reconciled current-fact snapshot. Two backends share one schema shape:
// postgres for the service deployment and sqlite for local CLI use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/diligence-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// RunFilter specifies criteria for listing analysis runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	DealID       string          `json:"deal_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Deals
	SaveDeal(ctx context.Context, deal *model.Deal) error
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)

	// Documents
	SaveDocuments(ctx context.Context, dealID string, docs []model.Document) error
	Documents(ctx context.Context, dealID string) ([]model.Document, error)

	// Runs
	CreateRun(ctx context.Context, dealID string) (*model.AnalysisRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveRunResult(ctx context.Context, run *model.AnalysisRun) error
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error)

	// Current facts
	CurrentFacts(ctx context.Context, dealID string) ([]model.CurrentFact, error)
	ReplaceCurrentFact(ctx context.Context, cf *model.CurrentFact) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
