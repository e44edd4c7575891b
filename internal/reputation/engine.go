package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/cache/redis"
	"github.com/aip-dev/registry/internal/events"
	"github.com/aip-dev/registry/internal/metrics"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/logger"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrInvalidRating  = errors.New("rating must be positive, neutral or negative")
	ErrCommentTooLong = errors.New("comment exceeds maximum length")
)

// maxCommentLength bounds review free text.
const maxCommentLength = 2000

// Dispatcher runs a recalculation job. The production dispatcher is
// fire-and-forget; tests substitute a synchronous one.
type Dispatcher interface {
	Dispatch(job func(ctx context.Context))
}

// GoDispatcher runs each job in its own goroutine under a bounded context.
// Job failures are the job's own problem; the caller never observes them.
type GoDispatcher struct {
	Timeout time.Duration
}

func (d GoDispatcher) Dispatch(job func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
		defer cancel()
		job(ctx)
	}()
}

// SyncDispatcher runs jobs inline on the calling goroutine.
type SyncDispatcher struct{}

func (SyncDispatcher) Dispatch(job func(ctx context.Context)) {
	job(context.Background())
}

// ReviewInput is the review submission payload.
type ReviewInput struct {
	Rating     models.Rating
	Comment    string
	ReviewerID string
	Metadata   map[string]interface{}
}

// ScoreResult is a stored score tuple plus its rating breakdown, the shape
// the score query surface returns.
type ScoreResult struct {
	models.ReputationScore
	Breakdown models.ReviewCounts `json:"breakdown"`
}

// Engine decides when scores are recomputed: asynchronously after each new
// review, lazily on the first score read, and synchronously on explicit
// recalculation requests.
type Engine struct {
	db         *sqlite.Client
	cache      *redis.Client
	dispatcher Dispatcher
	bus        *events.Bus
}

func NewEngine(db *sqlite.Client, cache *redis.Client, dispatcher Dispatcher, bus *events.Bus) *Engine {
	return &Engine{
		db:         db,
		cache:      cache,
		dispatcher: dispatcher,
		bus:        bus,
	}
}

// SubmitReview validates and persists a review, then dispatches a
// recalculation that the caller does not wait for. A scoring failure never
// fails the review write.
func (e *Engine) SubmitReview(ctx context.Context, agentID string, input ReviewInput) (*models.Review, error) {
	if !input.Rating.Valid() {
		return nil, ErrInvalidRating
	}
	if len(input.Comment) > maxCommentLength {
		return nil, ErrCommentTooLong
	}

	exists, err := e.db.AgentExists(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check agent: %w", err)
	}
	if !exists {
		return nil, ErrAgentNotFound
	}

	review := &models.Review{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		Rating:     input.Rating,
		Comment:    input.Comment,
		ReviewerID: input.ReviewerID,
		Metadata:   input.Metadata,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.db.InsertReview(review); err != nil {
		return nil, err
	}

	metrics.ReviewsTotal.WithLabelValues(string(review.Rating)).Inc()

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:    events.ReviewCreated,
			AgentID: agentID,
			Payload: review,
		})
	}

	e.dispatcher.Dispatch(func(ctx context.Context) {
		if _, err := e.recalculate(ctx, agentID, "review"); err != nil {
			logger.Error("Background recalculation failed",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
		}
	})

	return review, nil
}

// ListReviews returns the agent's full review history, newest first.
func (e *Engine) ListReviews(ctx context.Context, agentID string) ([]models.Review, error) {
	exists, err := e.db.AgentExists(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check agent: %w", err)
	}
	if !exists {
		return nil, ErrAgentNotFound
	}
	return e.db.ListReviews(agentID)
}

// GetScore returns the agent's current score. If no score has ever been
// computed, the first read computes one synchronously rather than reporting
// not-found.
func (e *Engine) GetScore(ctx context.Context, agentID string) (*ScoreResult, error) {
	exists, err := e.db.AgentExists(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check agent: %w", err)
	}
	if !exists {
		return nil, ErrAgentNotFound
	}

	if e.cache != nil {
		var cached ScoreResult
		if hit, err := e.cache.GetScore(ctx, agentID, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("score").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("score").Inc()
	}

	score, err := e.db.GetScore(agentID)
	if errors.Is(err, sqlite.ErrNotFound) {
		// First read of a never-scored agent computes inline.
		return e.recalculate(ctx, agentID, "lazy")
	}
	if err != nil {
		return nil, err
	}

	result := &ScoreResult{
		ReputationScore: *score,
		Breakdown: models.ReviewCounts{
			Positive: score.PositiveReviews,
			Neutral:  score.NeutralReviews,
			Negative: score.NegativeReviews,
		},
	}

	if e.cache != nil {
		if err := e.cache.SetScore(ctx, agentID, result); err != nil {
			logger.Warn("Failed to cache score", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	return result, nil
}

// Recalculate recomputes the agent's score from scratch and returns the
// fresh tuple. The agent must exist.
func (e *Engine) Recalculate(ctx context.Context, agentID string) (*ScoreResult, error) {
	exists, err := e.db.AgentExists(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check agent: %w", err)
	}
	if !exists {
		return nil, ErrAgentNotFound
	}

	return e.recalculate(ctx, agentID, "explicit")
}

// TopScores returns up to limit agents ranked by overall score. Agents
// never scored are absent, not ranked as zero.
func (e *Engine) TopScores(ctx context.Context, limit int) ([]models.ReputationScore, error) {
	return e.db.TopScores(limit)
}

// recalculate reads the agent's current snapshot and review counts,
// computes the tuple and upserts it. Nothing is written on failure; the
// previously stored score, if any, stays authoritative.
func (e *Engine) recalculate(ctx context.Context, agentID, trigger string) (*ScoreResult, error) {
	start := time.Now()

	m, err := e.db.GetLatestMetrics(ctx, agentID)
	if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
		metrics.RecalcTotal.WithLabelValues(trigger, "error").Inc()
		return nil, fmt.Errorf("failed to read metrics snapshot: %w", err)
	}

	counts, err := e.db.CountReviewsByRating(ctx, agentID)
	if err != nil {
		metrics.RecalcTotal.WithLabelValues(trigger, "error").Inc()
		return nil, fmt.Errorf("failed to read review counts: %w", err)
	}

	score := Calculate(agentID, m, counts, time.Now().UTC())

	if err := e.db.UpsertScore(ctx, score); err != nil {
		metrics.RecalcTotal.WithLabelValues(trigger, "error").Inc()
		return nil, fmt.Errorf("failed to store score: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.InvalidateScore(ctx, agentID); err != nil {
			logger.Warn("Failed to invalidate score cache", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	metrics.RecalcTotal.WithLabelValues(trigger, "success").Inc()
	metrics.RecalcDuration.Observe(time.Since(start).Seconds())
	metrics.OverallScore.Observe(score.OverallScore)

	logger.Debug("Reputation recalculated",
		zap.String("agent_id", agentID),
		zap.String("trigger", trigger),
		zap.Float64("overall", score.OverallScore),
		zap.Int("total_reviews", score.TotalReviews),
	)

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:    events.ReputationUpdated,
			AgentID: agentID,
			Payload: score,
		})
	}

	return &ScoreResult{
		ReputationScore: *score,
		Breakdown:       counts,
	}, nil
}

// RecalculateAsync dispatches a background recompute, used after metrics
// reports where the caller does not wait on scoring.
func (e *Engine) RecalculateAsync(agentID string) {
	e.dispatcher.Dispatch(func(ctx context.Context) {
		if _, err := e.recalculate(ctx, agentID, "metrics"); err != nil {
			logger.Error("Background recalculation failed",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
		}
	})
}
