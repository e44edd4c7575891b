// Package registry implements the agent profile surface: registration,
// lookup, search, and metrics reporting.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/cache/redis"
	"github.com/aip-dev/registry/internal/enrich"
	"github.com/aip-dev/registry/internal/events"
	"github.com/aip-dev/registry/internal/metrics"
	"github.com/aip-dev/registry/internal/reputation"
	"github.com/aip-dev/registry/internal/search/vector"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/logger"
	"github.com/aip-dev/registry/pkg/utils"
)

var (
	ErrAgentNotFound          = errors.New("agent not found")
	ErrAgentExists            = errors.New("agent id already registered")
	ErrInvalidProfile         = errors.New("invalid agent profile")
	ErrInvalidMetrics         = errors.New("invalid metrics report")
	ErrSemanticSearchDisabled = errors.New("semantic search is not enabled")
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
	defaultSearchLimit   = 20
	maxSearchLimit       = 100
)

type Service struct {
	db       *sqlite.Client
	cache    *redis.Client
	engine   *reputation.Engine
	index    *vector.Index
	enricher *enrich.Fetcher
	bus      *events.Bus
}

func NewService(db *sqlite.Client, cache *redis.Client, engine *reputation.Engine, index *vector.Index, enricher *enrich.Fetcher, bus *events.Bus) *Service {
	return &Service{
		db:       db,
		cache:    cache,
		engine:   engine,
		index:    index,
		enricher: enricher,
		bus:      bus,
	}
}

// SearchResult is the paginated search response shape.
type SearchResult struct {
	Results []models.AgentProfile `json:"results"`
	Total   int                   `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}

func (s *Service) Register(ctx context.Context, profile *models.AgentProfile) (*models.AgentProfile, error) {
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	if err := s.db.InsertAgent(profile); err != nil {
		if errors.Is(err, sqlite.ErrDuplicate) {
			return nil, ErrAgentExists
		}
		return nil, err
	}

	metrics.AgentsRegistered.Inc()
	logger.Info("Agent registered",
		zap.String("agent_id", profile.ID),
		zap.String("name", profile.Name),
		zap.Int("capabilities", len(profile.Capabilities)),
	)

	s.afterProfileWrite(ctx, profile, events.AgentRegistered)
	return profile, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.AgentProfile, error) {
	profile, err := s.db.GetAgent(id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	return profile, err
}

func (s *Service) Update(ctx context.Context, id string, profile *models.AgentProfile) (*models.AgentProfile, error) {
	profile.ID = id
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	profile.UpdatedAt = time.Now().UTC()

	if err := s.db.UpdateAgent(profile); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}

	s.afterProfileWrite(ctx, profile, events.AgentUpdated)
	return profile, nil
}

// Delete removes the agent and, through the schema's cascades, its metrics
// snapshot, reviews and reputation score.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.db.DeleteAgent(id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return ErrAgentNotFound
		}
		return err
	}

	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			logger.Warn("Failed to remove agent from vector index", zap.String("agent_id", id), zap.Error(err))
		}
	}
	s.invalidateSearches(ctx)

	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.AgentDeleted, AgentID: id})
	}

	logger.Info("Agent deleted", zap.String("agent_id", id))
	return nil
}

func (s *Service) Search(ctx context.Context, skill string, minConfidence float64, limit, offset int) (*SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	metrics.SearchesTotal.WithLabelValues("skill").Inc()

	cacheKey := utils.HashString(fmt.Sprintf("%s|%f|%d|%d", skill, minConfidence, limit, offset))
	if s.cache != nil {
		var cached SearchResult
		if hit, err := s.cache.GetSearch(ctx, cacheKey, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("search").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("search").Inc()
	}

	results, err := s.db.SearchAgents(skill, minConfidence, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.db.CountAgents(skill, minConfidence)
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []models.AgentProfile{}
	}

	response := &SearchResult{
		Results: results,
		Total:   total,
		Page:    offset/limit + 1,
		PerPage: limit,
	}

	if s.cache != nil {
		if err := s.cache.SetSearch(ctx, cacheKey, response); err != nil {
			logger.Warn("Failed to cache search response", zap.Error(err))
		}
	}

	return response, nil
}

// SemanticSearch finds agents whose profile text is closest to the free-text
// query, using the vector index. Returns ErrSemanticSearchDisabled when the
// index is not configured.
func (s *Service) SemanticSearch(ctx context.Context, query string, limit int) ([]models.AgentProfile, error) {
	if s.index == nil {
		return nil, ErrSemanticSearchDisabled
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	metrics.SearchesTotal.WithLabelValues("semantic").Inc()

	ids, err := s.index.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	profiles := make([]models.AgentProfile, 0, len(ids))
	for _, id := range ids {
		profile, err := s.db.GetAgent(id)
		if errors.Is(err, sqlite.ErrNotFound) {
			// Index lag after a delete; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
	}
	return profiles, nil
}

// ReportMetrics stores the agent's latest performance snapshot, overwriting
// the previous one, and kicks off a background reputation recalculation.
func (s *Service) ReportMetrics(ctx context.Context, agentID string, m *models.AgentMetrics) (time.Time, error) {
	if err := validateMetrics(m); err != nil {
		return time.Time{}, err
	}

	exists, err := s.db.AgentExists(agentID)
	if err != nil {
		return time.Time{}, err
	}
	if !exists {
		return time.Time{}, ErrAgentNotFound
	}

	m.ReportedAt = time.Now().UTC()
	if err := s.db.UpsertMetrics(agentID, m); err != nil {
		return time.Time{}, err
	}

	s.engine.RecalculateAsync(agentID)

	return m.ReportedAt, nil
}

func (s *Service) afterProfileWrite(ctx context.Context, profile *models.AgentProfile, eventType string) {
	s.invalidateSearches(ctx)

	if s.index != nil {
		if err := s.index.Upsert(ctx, profile); err != nil {
			logger.Warn("Failed to index agent profile", zap.String("agent_id", profile.ID), zap.Error(err))
		}
	}

	if s.enricher != nil && profile.Endpoints != nil && profile.Endpoints.Docs != "" {
		s.enricher.FetchAsync(profile.ID, profile.Endpoints.Docs)
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{Type: eventType, AgentID: profile.ID, Payload: profile})
	}
}

func (s *Service) invalidateSearches(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSearches(ctx); err != nil {
		logger.Warn("Failed to invalidate search cache", zap.Error(err))
	}
}

func validateProfile(profile *models.AgentProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProfile)
	}
	if profile.Name == "" || len(profile.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidProfile, maxNameLength)
	}
	if !semverPattern.MatchString(profile.Version) {
		return fmt.Errorf("%w: version must follow semver (e.g. 1.0.0)", ErrInvalidProfile)
	}
	if len(profile.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidProfile, maxDescriptionLength)
	}
	if len(profile.Capabilities) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrInvalidProfile)
	}
	for _, cap := range profile.Capabilities {
		if cap.Skill == "" {
			return fmt.Errorf("%w: capability skill is required", ErrInvalidProfile)
		}
		if cap.Confidence < 0 || cap.Confidence > 1 {
			return fmt.Errorf("%w: capability confidence must be in [0,1]", ErrInvalidProfile)
		}
	}
	return nil
}

func validateMetrics(m *models.AgentMetrics) error {
	if m.SuccessRate != nil && (*m.SuccessRate < 0 || *m.SuccessRate > 1) {
		return fmt.Errorf("%w: success_rate must be in [0,1]", ErrInvalidMetrics)
	}
	if m.Uptime30d != nil && (*m.Uptime30d < 0 || *m.Uptime30d > 1) {
		return fmt.Errorf("%w: uptime_30d must be in [0,1]", ErrInvalidMetrics)
	}
	if m.AvgResponseTimeMs != nil && *m.AvgResponseTimeMs < 0 {
		return fmt.Errorf("%w: avg_response_time_ms must be non-negative", ErrInvalidMetrics)
	}
	if m.TasksCompleted != nil && *m.TasksCompleted < 0 {
		return fmt.Errorf("%w: tasks_completed must be non-negative", ErrInvalidMetrics)
	}
	return nil
}
