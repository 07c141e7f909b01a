package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))

	run.Status = model.RunStatusComplete
	run.TotalCostUSD = 1.5
	run.Results = map[model.AgentID]*model.AgentResult{
		model.AgentSWOT: {AgentID: model.AgentSWOT, Success: true},
	}
	require.NoError(t, s.SaveRunResult(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.InDelta(t, 1.5, got.TotalCostUSD, 1e-9)
	require.Contains(t, got.Results, model.AgentSWOT)
	assert.True(t, got.Results[model.AgentSWOT].Success)
}

func TestSQLiteRunNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateRunStatus(ctx, "missing", model.RunStatusRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListRuns(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := s.CreateRun(ctx, "deal-1")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "deal-2")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, model.RunStatusComplete))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	complete, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, r1.ID, complete[0].ID)

	byDeal, err := s.ListRuns(ctx, RunFilter{DealID: "deal-2"})
	require.NoError(t, err)
	assert.Len(t, byDeal, 1)
}

func TestSQLiteDealRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := &model.Deal{
		ID:     "deal-1",
		OrgID:  "org-1",
		Name:   "Acme",
		Sector: model.SectorFintech,
		Stage:  model.StageSeriesA,
		Founders: []model.Founder{
			{Name: "Ada", Role: "CEO"},
		},
	}
	require.NoError(t, s.SaveDeal(ctx, deal))

	got, err := s.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, model.SectorFintech, got.Sector)
	require.Len(t, got.Founders, 1)
	assert.Equal(t, "Ada", got.Founders[0].Name)

	// Upsert replaces metadata.
	deal.Name = "Acme Inc"
	require.NoError(t, s.SaveDeal(ctx, deal))
	got, err = s.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", got.Name)

	_, err = s.GetDeal(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteDocuments(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDeal(ctx, &model.Deal{ID: "deal-1", OrgID: "org-1", Name: "Acme"}))

	docs := []model.Document{
		{ID: "d1", Type: model.DocTypePitchDeck, Name: "deck.pdf", ExtractedText: "We sell widgets."},
		{ID: "d2", Type: model.DocTypeFinancials, Name: "model.xlsx", ExtractedText: "MRR 50000"},
	}
	require.NoError(t, s.SaveDocuments(ctx, "deal-1", docs))

	got, err := s.Documents(ctx, "deal-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.DocTypePitchDeck, got[0].Type)

	// Re-saving the same IDs updates in place rather than duplicating.
	docs[0].ExtractedText = "We sell more widgets."
	require.NoError(t, s.SaveDocuments(ctx, "deal-1", docs))
	got, err = s.Documents(ctx, "deal-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "We sell more widgets.", got[0].ExtractedText)
}

func TestSQLiteCurrentFactReplaceAndHistory(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	first := &model.CurrentFact{
		DealID:        "deal-1",
		Key:           "mrr",
		Category:      model.CategoryFinancial,
		Value:         40000.0,
		Source:        "doc-0",
		Confidence:    75,
		FirstSeenAt:   now,
		LastUpdatedAt: now,
	}
	require.NoError(t, s.ReplaceCurrentFact(ctx, first))

	replacement := &model.CurrentFact{
		DealID:     "deal-1",
		Key:        "mrr",
		Category:   model.CategoryFinancial,
		Value:      50000.0,
		Source:     "doc-1",
		Confidence: 90,
		Disputed:   true,
		History: []model.FactEvent{{
			ID:         "ev-1",
			Value:      40000.0,
			Source:     "doc-0",
			Confidence: 75,
			RecordedAt: now,
		}},
		FirstSeenAt:   now,
		LastUpdatedAt: now.Add(time.Minute),
	}
	require.NoError(t, s.ReplaceCurrentFact(ctx, replacement))

	facts, err := s.CurrentFacts(ctx, "deal-1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, 50000.0, facts[0].Value)
	assert.True(t, facts[0].Disputed)
	require.Len(t, facts[0].History, 1)
	assert.Equal(t, 40000.0, facts[0].History[0].Value)
}
