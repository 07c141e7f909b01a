package monitoring

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/coherence"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	runs    []model.AnalysisRun
	listErr error
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.AnalysisRun, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.AnalysisRun
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// Unused store methods, present to satisfy the interface.
func (m *mockStore) SaveDeal(context.Context, *model.Deal) error { return nil }
func (m *mockStore) GetDeal(context.Context, string) (*model.Deal, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) SaveDocuments(context.Context, string, []model.Document) error { return nil }
func (m *mockStore) Documents(context.Context, string) ([]model.Document, error)   { return nil, nil }
func (m *mockStore) CreateRun(context.Context, string) (*model.AnalysisRun, error) {
	return nil, nil
}
func (m *mockStore) UpdateRunStatus(context.Context, string, model.RunStatus) error { return nil }
func (m *mockStore) SaveRunResult(context.Context, *model.AnalysisRun) error        { return nil }
func (m *mockStore) GetRun(context.Context, string) (*model.AnalysisRun, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) CurrentFacts(context.Context, string) ([]model.CurrentFact, error) {
	return nil, nil
}
func (m *mockStore) ReplaceCurrentFact(context.Context, *model.CurrentFact) error { return nil }
func (m *mockStore) Migrate(context.Context) error                                { return nil }
func (m *mockStore) Close() error                                                 { return nil }

// mockTotaler implements CreditTotaler for testing.
type mockTotaler struct {
	allocation int64
	used       int64
	err        error
}

func (m *mockTotaler) Totals(context.Context) (int64, int64, error) {
	return m.allocation, m.used, m.err
}

func coherenceResult(t *testing.T, score int) *model.AgentResult {
	t.Helper()
	data, err := json.Marshal(coherence.Report{CoherenceScore: score})
	require.NoError(t, err)
	return &model.AgentResult{AgentID: model.AgentCoherence, Success: true, Data: data}
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(&mockStore{}, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0, snap.RunsFailed)
	assert.Equal(t, 0.0, snap.RunFailRate)
	assert.Equal(t, 0.0, snap.RunCostUSD)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RunMetrics(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.AnalysisRun{
			{
				ID: "1", Status: model.RunStatusComplete, CreatedAt: now.Add(-1 * time.Hour),
				TotalCostUSD: 1.50, TotalTokens: 5000,
				Results: map[model.AgentID]*model.AgentResult{
					model.AgentCoherence: coherenceResult(t, 90),
				},
				EarlyWarnings: []model.EarlyWarning{{Severity: model.WarnCritical}},
			},
			{
				ID: "2", Status: model.RunStatusPartial, CreatedAt: now.Add(-2 * time.Hour),
				TotalCostUSD: 2.00, TotalTokens: 7000,
				Results: map[model.AgentID]*model.AgentResult{
					model.AgentCoherence: coherenceResult(t, 70),
				},
			},
			{ID: "3", Status: model.RunStatusFailed, CreatedAt: now.Add(-3 * time.Hour)},
			{ID: "4", Status: model.RunStatusQueued, CreatedAt: now.Add(-30 * time.Minute)},
			// Outside the lookback window, should be filtered out.
			{ID: "5", Status: model.RunStatusFailed, CreatedAt: now.Add(-48 * time.Hour)},
		},
	}

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsPartial)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsQueued)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 0.001) // 1 failed / 3 finished
	assert.InDelta(t, 3.50, snap.RunCostUSD, 0.001)
	assert.InDelta(t, 80.0, snap.AvgCoherence, 0.001)
	assert.Equal(t, int64(3000), snap.AvgTokens) // (5000+7000)/4
	assert.Equal(t, 1, snap.WarningsTotal)
}

func TestCollector_CreditTotals(t *testing.T) {
	c := NewCollector(&mockStore{}, &mockTotaler{allocation: 5000, used: 1200})

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), snap.CreditsAllocated)
	assert.Equal(t, int64(1200), snap.CreditsUsed)
}

func TestCollector_NilCredits(t *testing.T) {
	c := NewCollector(&mockStore{}, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.CreditsUsed)
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.AnalysisRun{
			{ID: "1", Status: model.RunStatusQueued, CreatedAt: now.Add(-1 * time.Hour)},
			{ID: "2", Status: model.RunStatusRunning, CreatedAt: now.Add(-2 * time.Hour)},
		},
	}

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	// No finished runs, so failure rate stays 0.
	assert.Equal(t, 0.0, snap.RunFailRate)
	assert.Equal(t, 1, snap.RunsRunning)
}

func TestCollector_MalformedCoherenceIgnored(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.AnalysisRun{
			{
				ID: "1", Status: model.RunStatusComplete, CreatedAt: now.Add(-1 * time.Hour),
				Results: map[model.AgentID]*model.AgentResult{
					model.AgentCoherence: {AgentID: model.AgentCoherence, Success: true, Data: json.RawMessage(`not json`)},
				},
			},
		},
	}

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.AvgCoherence)
}
