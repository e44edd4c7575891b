// Package reputation aggregates self-reported performance snapshots and
// community reviews into a normalized per-agent trust score.
package reputation

import (
	"time"

	"github.com/aip-dev/registry/internal/storage/models"
)

// Component weights. Performance, reliability and community sum to 1.0.
const (
	weightPerformance = 0.4
	weightReliability = 0.3
	weightCommunity   = 0.3
)

// Performance sub-term weights. Success rate, uptime and latency sum to 1.0.
const (
	weightSuccessRate = 0.5
	weightUptime      = 0.3
	weightLatency     = 0.2
)

// Latency curve breakpoints, in milliseconds. Latency at or below fastMs
// earns the full latency term; between fastMs and slowMs it decays linearly
// to half; past slowMs it decays toward zero, bottoming out at deadMs.
const (
	fastMs = 500
	slowMs = 2000
	deadMs = 5000
)

// defaultLatencyMs is assumed when an agent reports metrics without a
// response time.
const defaultLatencyMs = 1000

// neutralScore is the value every component takes when there is no signal
// to derive it from.
const neutralScore = 0.5

// dampeningThreshold is the review count below which the community score is
// shrunk toward neutral. A single early review should not swing an agent's
// score to an extreme.
const dampeningThreshold = 5

// Calculate derives the full score tuple for one agent from its current
// metrics snapshot and review counts. metrics may be nil (never reported).
// The computation is pure: identical inputs produce identical components.
func Calculate(agentID string, metrics *models.AgentMetrics, counts models.ReviewCounts, now time.Time) *models.ReputationScore {
	performance := performanceScore(metrics)
	reliability := reliabilityScore(metrics)
	community := communityScore(counts)

	overall := performance*weightPerformance + reliability*weightReliability + community*weightCommunity

	return &models.ReputationScore{
		AgentID:          agentID,
		OverallScore:     overall,
		PerformanceScore: performance,
		ReliabilityScore: reliability,
		CommunityScore:   community,
		TotalReviews:     counts.Total(),
		PositiveReviews:  counts.Positive,
		NeutralReviews:   counts.Neutral,
		NegativeReviews:  counts.Negative,
		LastCalculatedAt: now,
	}
}

func performanceScore(metrics *models.AgentMetrics) float64 {
	if metrics == nil {
		return neutralScore
	}

	var score float64
	if metrics.SuccessRate != nil {
		score += *metrics.SuccessRate * weightSuccessRate
	}
	if metrics.Uptime30d != nil {
		score += *metrics.Uptime30d * weightUptime
	}

	latency := defaultLatencyMs
	if metrics.AvgResponseTimeMs != nil {
		latency = *metrics.AvgResponseTimeMs
	}
	score += latencyTerm(latency)

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// latencyTerm maps average response time onto [0, weightLatency], inverted:
// lower latency is better. The curve is continuous: full term up to fastMs,
// halved by slowMs, zero from deadMs on.
func latencyTerm(ms int) float64 {
	t := float64(ms)
	switch {
	case t <= fastMs:
		return weightLatency
	case t <= slowMs:
		return weightLatency * (1 - (t-fastMs)/(2*(slowMs-fastMs)))
	default:
		decay := 1 - (t-slowMs)/(deadMs-slowMs)
		if decay < 0 {
			decay = 0
		}
		return weightLatency / 2 * decay
	}
}

// reliabilityScore is currently the 30-day uptime taken directly. It shares
// its input with the performance uptime sub-term; an independent signal
// (e.g. success-rate variance over time) would replace this.
func reliabilityScore(metrics *models.AgentMetrics) float64 {
	if metrics == nil || metrics.Uptime30d == nil {
		return neutralScore
	}
	return *metrics.Uptime30d
}

func communityScore(counts models.ReviewCounts) float64 {
	total := counts.Total()
	if total == 0 {
		return neutralScore
	}

	// Balance over [-1,1], normalized to [0,1].
	raw := float64(counts.Positive-counts.Negative) / float64(total)
	normalized := (raw + 1) / 2

	if total < dampeningThreshold {
		return neutralScore + (normalized-neutralScore)*(float64(total)/dampeningThreshold)
	}
	return normalized
}
