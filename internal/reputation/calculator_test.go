package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aip-dev/registry/internal/storage/models"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestCalculateAllDefaults(t *testing.T) {
	score := Calculate("agent-1", nil, models.ReviewCounts{}, time.Now())

	assert.Equal(t, 0.5, score.PerformanceScore)
	assert.Equal(t, 0.5, score.ReliabilityScore)
	assert.Equal(t, 0.5, score.CommunityScore)
	assert.Equal(t, 0.5, score.OverallScore)
	assert.Equal(t, 0, score.TotalReviews)
}

func TestCalculatePerfectMetricsNoReviews(t *testing.T) {
	m := &models.AgentMetrics{
		SuccessRate:       floatPtr(1.0),
		Uptime30d:         floatPtr(1.0),
		AvgResponseTimeMs: intPtr(300),
	}

	score := Calculate("agent-1", m, models.ReviewCounts{}, time.Now())

	assert.InDelta(t, 1.0, score.PerformanceScore, 1e-9)
	assert.InDelta(t, 1.0, score.ReliabilityScore, 1e-9)
	assert.InDelta(t, 0.5, score.CommunityScore, 1e-9)
	assert.InDelta(t, 0.85, score.OverallScore, 1e-9)
}

func TestCalculateReviewsOnlyNoDampening(t *testing.T) {
	counts := models.ReviewCounts{Positive: 6, Neutral: 2, Negative: 2}

	score := Calculate("agent-1", nil, counts, time.Now())

	assert.InDelta(t, 0.5, score.PerformanceScore, 1e-9)
	assert.InDelta(t, 0.5, score.ReliabilityScore, 1e-9)
	assert.InDelta(t, 0.7, score.CommunityScore, 1e-9)
	// 0.5*0.4 + 0.5*0.3 + 0.7*0.3
	assert.InDelta(t, 0.56, score.OverallScore, 1e-9)
	assert.Equal(t, 10, score.TotalReviews)
}

func TestLatencyTermBoundaries(t *testing.T) {
	cases := []struct {
		name string
		ms   int
		want float64
	}{
		{"fast floor", 100, 0.2},
		{"fast boundary", 500, 0.2},
		{"mid segment", 1250, 0.15},
		{"slow boundary", 2000, 0.1},
		{"decay segment", 3500, 0.05},
		{"dead boundary", 5000, 0.0},
		{"beyond dead", 9000, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, latencyTerm(tc.ms), 1e-9)
		})
	}
}

func TestCommunityDampeningSingleReview(t *testing.T) {
	counts := models.ReviewCounts{Positive: 1}

	score := Calculate("agent-1", nil, counts, time.Now())

	assert.InDelta(t, 0.6, score.CommunityScore, 1e-9)
	assert.Greater(t, score.CommunityScore, 0.5)
	assert.Less(t, score.CommunityScore, 1.0)
}

func TestCommunityDampeningLiftsAtThreshold(t *testing.T) {
	counts := models.ReviewCounts{Positive: 5}

	score := Calculate("agent-1", nil, counts, time.Now())

	assert.InDelta(t, 1.0, score.CommunityScore, 1e-9)
}

func TestCommunityDampeningNegativeSide(t *testing.T) {
	counts := models.ReviewCounts{Negative: 1}

	score := Calculate("agent-1", nil, counts, time.Now())

	// Mirror of the single-positive case: pulled toward neutral from 0.0.
	assert.InDelta(t, 0.4, score.CommunityScore, 1e-9)
}

func TestCalculateMissingSubfields(t *testing.T) {
	// Only latency reported; success rate and uptime contribute nothing.
	m := &models.AgentMetrics{AvgResponseTimeMs: intPtr(400)}

	score := Calculate("agent-1", m, models.ReviewCounts{}, time.Now())

	assert.InDelta(t, 0.2, score.PerformanceScore, 1e-9)
	assert.InDelta(t, 0.5, score.ReliabilityScore, 1e-9)
}

func TestCalculateDefaultLatencyWhenUnreported(t *testing.T) {
	m := &models.AgentMetrics{
		SuccessRate: floatPtr(1.0),
		Uptime30d:   floatPtr(1.0),
	}

	score := Calculate("agent-1", m, models.ReviewCounts{}, time.Now())

	// 1000ms assumed: 0.5 + 0.3 + 0.2*(1 - 500/3000)
	want := 0.5 + 0.3 + latencyTerm(1000)
	assert.InDelta(t, want, score.PerformanceScore, 1e-9)
}

func TestCalculateComponentsInRange(t *testing.T) {
	cases := []struct {
		name    string
		metrics *models.AgentMetrics
		counts  models.ReviewCounts
	}{
		{"nil metrics, no reviews", nil, models.ReviewCounts{}},
		{"perfect everything", &models.AgentMetrics{
			SuccessRate:       floatPtr(1.0),
			Uptime30d:         floatPtr(1.0),
			AvgResponseTimeMs: intPtr(50),
		}, models.ReviewCounts{Positive: 100}},
		{"worst everything", &models.AgentMetrics{
			SuccessRate:       floatPtr(0.0),
			Uptime30d:         floatPtr(0.0),
			AvgResponseTimeMs: intPtr(10000),
		}, models.ReviewCounts{Negative: 100}},
		{"mixed sparse", &models.AgentMetrics{
			SuccessRate: floatPtr(0.3),
		}, models.ReviewCounts{Positive: 1, Negative: 2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := Calculate("agent-1", tc.metrics, tc.counts, time.Now())

			for name, v := range map[string]float64{
				"overall":     score.OverallScore,
				"performance": score.PerformanceScore,
				"reliability": score.ReliabilityScore,
				"community":   score.CommunityScore,
			} {
				assert.GreaterOrEqual(t, v, 0.0, name)
				assert.LessOrEqual(t, v, 1.0, name)
			}
			assert.Equal(t, score.TotalReviews,
				score.PositiveReviews+score.NeutralReviews+score.NegativeReviews)
		})
	}
}

func TestCalculateIdempotent(t *testing.T) {
	m := &models.AgentMetrics{
		SuccessRate:       floatPtr(0.9),
		Uptime30d:         floatPtr(0.95),
		AvgResponseTimeMs: intPtr(800),
	}
	counts := models.ReviewCounts{Positive: 3, Neutral: 1}
	now := time.Now()

	first := Calculate("agent-1", m, counts, now)
	second := Calculate("agent-1", m, counts, now)

	assert.Equal(t, first, second)
}
