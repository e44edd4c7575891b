package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aip-dev/registry/internal/reputation"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.Client) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	engine := reputation.NewEngine(db, nil, reputation.SyncDispatcher{}, nil)
	return NewService(db, nil, engine, nil, nil, nil), db
}

func validTestProfile(id string) *models.AgentProfile {
	return &models.AgentProfile{
		ID:      id,
		Name:    "translator",
		Version: "1.0.0",
		Capabilities: []models.Capability{
			{Skill: "translation", Confidence: 0.9},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	service, _ := newTestService(t)

	registered, err := service.Register(context.Background(), validTestProfile("agent-1"))
	require.NoError(t, err)
	assert.False(t, registered.CreatedAt.IsZero())

	got, err := service.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "translator", got.Name)
}

func TestRegisterDuplicateID(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(context.Background(), validTestProfile("agent-1"))
	require.NoError(t, err)

	_, err = service.Register(context.Background(), validTestProfile("agent-1"))
	assert.ErrorIs(t, err, ErrAgentExists)
}

func TestRegisterValidation(t *testing.T) {
	service, _ := newTestService(t)

	cases := []struct {
		name   string
		mutate func(*models.AgentProfile)
	}{
		{"missing id", func(p *models.AgentProfile) { p.ID = "" }},
		{"missing name", func(p *models.AgentProfile) { p.Name = "" }},
		{"bad version", func(p *models.AgentProfile) { p.Version = "one" }},
		{"no capabilities", func(p *models.AgentProfile) { p.Capabilities = nil }},
		{"empty skill", func(p *models.AgentProfile) {
			p.Capabilities = []models.Capability{{Skill: "", Confidence: 0.5}}
		}},
		{"confidence out of range", func(p *models.AgentProfile) {
			p.Capabilities = []models.Capability{{Skill: "x", Confidence: 1.5}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			profile := validTestProfile("agent-v")
			tc.mutate(profile)

			_, err := service.Register(context.Background(), profile)
			assert.ErrorIs(t, err, ErrInvalidProfile)
		})
	}
}

func TestUpdateUnknownAgent(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Update(context.Background(), "ghost", validTestProfile("ghost"))
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestDeleteRemovesAgent(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(context.Background(), validTestProfile("agent-1"))
	require.NoError(t, err)

	require.NoError(t, service.Delete(context.Background(), "agent-1"))

	_, err = service.Get(context.Background(), "agent-1")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	assert.ErrorIs(t, service.Delete(context.Background(), "agent-1"), ErrAgentNotFound)
}

func TestSearchPagination(t *testing.T) {
	service, _ := newTestService(t)

	for _, id := range []string{"a", "b", "c"} {
		profile := validTestProfile("agent-" + id)
		_, err := service.Register(context.Background(), profile)
		require.NoError(t, err)
	}

	result, err := service.Search(context.Background(), "translation", 0, 2, 0)
	require.NoError(t, err)
	assert.Len(t, result.Results, 2)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Page)
	assert.Equal(t, 2, result.PerPage)

	result, err = service.Search(context.Background(), "translation", 0, 2, 2)
	require.NoError(t, err)
	assert.Len(t, result.Results, 1)
	assert.Equal(t, 2, result.Page)
}

func TestSearchNoMatchesReturnsEmptySlice(t *testing.T) {
	service, _ := newTestService(t)

	result, err := service.Search(context.Background(), "nonexistent-skill", 0, 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, result.Results)
	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.Total)
}

func TestSemanticSearchDisabled(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.SemanticSearch(context.Background(), "translate legal documents", 5)
	assert.ErrorIs(t, err, ErrSemanticSearchDisabled)
}

func TestReportMetricsStoresAndRescores(t *testing.T) {
	service, db := newTestService(t)

	_, err := service.Register(context.Background(), validTestProfile("agent-1"))
	require.NoError(t, err)

	rate := 1.0
	uptime := 1.0
	latency := 300
	reportedAt, err := service.ReportMetrics(context.Background(), "agent-1", &models.AgentMetrics{
		SuccessRate:       &rate,
		Uptime30d:         &uptime,
		AvgResponseTimeMs: &latency,
	})
	require.NoError(t, err)
	assert.False(t, reportedAt.IsZero())

	// SyncDispatcher recalculated inline.
	score, err := db.GetScore("agent-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.85, score.OverallScore, 1e-9)
}

func TestReportMetricsValidation(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(context.Background(), validTestProfile("agent-1"))
	require.NoError(t, err)

	bad := 1.5
	_, err = service.ReportMetrics(context.Background(), "agent-1", &models.AgentMetrics{
		SuccessRate: &bad,
	})
	assert.ErrorIs(t, err, ErrInvalidMetrics)

	negative := -10
	_, err = service.ReportMetrics(context.Background(), "agent-1", &models.AgentMetrics{
		AvgResponseTimeMs: &negative,
	})
	assert.ErrorIs(t, err, ErrInvalidMetrics)
}

func TestReportMetricsUnknownAgent(t *testing.T) {
	service, _ := newTestService(t)

	rate := 0.5
	_, err := service.ReportMetrics(context.Background(), "ghost", &models.AgentMetrics{
		SuccessRate: &rate,
	})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestUpdateChangesCapabilities(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(context.Background(), validTestProfile("agent-1"))
	require.NoError(t, err)

	updated := validTestProfile("agent-1")
	updated.Capabilities = []models.Capability{{Skill: "ocr", Confidence: 0.7}}
	_, err = service.Update(context.Background(), "agent-1", updated)
	require.NoError(t, err)

	result, err := service.Search(context.Background(), "ocr", 0.5, 10, 0)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "agent-1", result.Results[0].ID)

	// Timestamps move forward on update.
	got, err := service.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))
}

func TestSearchLimitClamped(t *testing.T) {
	service, _ := newTestService(t)

	result, err := service.Search(context.Background(), "", 0, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, maxSearchLimit, result.PerPage)

	result, err = service.Search(context.Background(), "", 0, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, defaultSearchLimit, result.PerPage)
	assert.Equal(t, 1, result.Page)
}
