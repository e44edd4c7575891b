package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/pkg/logger"
)

// ErrNotFound is returned when a lookup addresses a row that does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("already exists")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		description TEXT,
		capabilities TEXT NOT NULL,
		endpoints TEXT,
		pricing TEXT,
		metadata TEXT,
		proof_of_work TEXT,
		docs_title TEXT,
		docs_summary TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_name ON agents(name);

	CREATE TABLE IF NOT EXISTS agent_capabilities (
		agent_id TEXT NOT NULL,
		skill TEXT NOT NULL,
		confidence REAL NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_capabilities_skill ON agent_capabilities(skill, confidence);
	CREATE INDEX IF NOT EXISTS idx_capabilities_agent ON agent_capabilities(agent_id);

	CREATE TABLE IF NOT EXISTS agent_metrics (
		agent_id TEXT PRIMARY KEY,
		tasks_completed INTEGER,
		avg_response_time_ms INTEGER,
		success_rate REAL,
		uptime_30d REAL,
		reported_at INTEGER NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		rating TEXT NOT NULL CHECK (rating IN ('positive', 'neutral', 'negative')),
		comment TEXT,
		reviewer_id TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_agent ON reviews(agent_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_reviews_rating ON reviews(agent_id, rating);

	CREATE TABLE IF NOT EXISTS reputation_scores (
		agent_id TEXT PRIMARY KEY,
		overall_score REAL NOT NULL,
		performance_score REAL NOT NULL,
		reliability_score REAL NOT NULL,
		community_score REAL NOT NULL,
		total_reviews INTEGER NOT NULL,
		positive_reviews INTEGER NOT NULL,
		neutral_reviews INTEGER NOT NULL,
		negative_reviews INTEGER NOT NULL,
		last_calculated_at INTEGER NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_scores_overall ON reputation_scores(overall_score);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		key_hash TEXT UNIQUE NOT NULL,
		can_read INTEGER NOT NULL DEFAULT 1,
		can_write INTEGER NOT NULL DEFAULT 0,
		can_delete INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		rate_limit INTEGER NOT NULL DEFAULT 60,
		expires_at INTEGER,
		revoked INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);

	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		events TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		webhook_id TEXT NOT NULL,
		event TEXT NOT NULL,
		status_code INTEGER,
		success INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (webhook_id) REFERENCES webhooks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id, created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func (c *Client) InsertAgent(profile *models.AgentProfile) error {
	capabilities, err := marshalJSON(profile.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	var endpoints, pricing, metadata, proofOfWork sql.NullString
	if profile.Endpoints != nil {
		endpoints, _ = marshalJSON(profile.Endpoints)
	}
	if profile.Pricing != nil {
		pricing, _ = marshalJSON(profile.Pricing)
	}
	if profile.Metadata != nil {
		metadata, _ = marshalJSON(profile.Metadata)
	}
	if profile.ProofOfWork != nil {
		proofOfWork, _ = marshalJSON(profile.ProofOfWork)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO agents (id, name, version, description, capabilities, endpoints, pricing, metadata, proof_of_work, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID,
		profile.Name,
		profile.Version,
		profile.Description,
		capabilities.String,
		endpoints,
		pricing,
		metadata,
		proofOfWork,
		profile.CreatedAt.Unix(),
		profile.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}

	if err := insertCapabilities(tx, profile.ID, profile.Capabilities); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit agent insert: %w", err)
	}

	logger.Debug("Agent inserted", zap.String("agent_id", profile.ID), zap.String("name", profile.Name))
	return nil
}

func (c *Client) UpdateAgent(profile *models.AgentProfile) error {
	capabilities, err := marshalJSON(profile.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	var endpoints, pricing, metadata, proofOfWork sql.NullString
	if profile.Endpoints != nil {
		endpoints, _ = marshalJSON(profile.Endpoints)
	}
	if profile.Pricing != nil {
		pricing, _ = marshalJSON(profile.Pricing)
	}
	if profile.Metadata != nil {
		metadata, _ = marshalJSON(profile.Metadata)
	}
	if profile.ProofOfWork != nil {
		proofOfWork, _ = marshalJSON(profile.ProofOfWork)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE agents
		 SET name = ?, version = ?, description = ?, capabilities = ?, endpoints = ?, pricing = ?, metadata = ?, proof_of_work = ?, updated_at = ?
		 WHERE id = ?`,
		profile.Name,
		profile.Version,
		profile.Description,
		capabilities.String,
		endpoints,
		pricing,
		metadata,
		proofOfWork,
		profile.UpdatedAt.Unix(),
		profile.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM agent_capabilities WHERE agent_id = ?`, profile.ID); err != nil {
		return fmt.Errorf("failed to clear capability index: %w", err)
	}
	if err := insertCapabilities(tx, profile.ID, profile.Capabilities); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit agent update: %w", err)
	}

	return nil
}

func insertCapabilities(tx *sql.Tx, agentID string, capabilities []models.Capability) error {
	for _, cap := range capabilities {
		_, err := tx.Exec(
			`INSERT INTO agent_capabilities (agent_id, skill, confidence) VALUES (?, ?, ?)`,
			agentID, cap.Skill, cap.Confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to index capability: %w", err)
		}
	}
	return nil
}

func (c *Client) GetAgent(id string) (*models.AgentProfile, error) {
	row := c.db.QueryRow(
		`SELECT id, name, version, description, capabilities, endpoints, pricing, metadata, proof_of_work,
		        docs_title, docs_summary, created_at, updated_at
		 FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*models.AgentProfile, error) {
	var profile models.AgentProfile
	var description, capabilities, endpoints, pricing, metadata, proofOfWork, docsTitle, docsSummary sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&profile.ID,
		&profile.Name,
		&profile.Version,
		&description,
		&capabilities,
		&endpoints,
		&pricing,
		&metadata,
		&proofOfWork,
		&docsTitle,
		&docsSummary,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}

	profile.Description = description.String
	profile.DocsTitle = docsTitle.String
	profile.DocsSummary = docsSummary.String
	profile.CreatedAt = time.Unix(createdAt, 0)
	profile.UpdatedAt = time.Unix(updatedAt, 0)

	if capabilities.Valid {
		if err := json.Unmarshal([]byte(capabilities.String), &profile.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	if endpoints.Valid {
		profile.Endpoints = &models.Endpoints{}
		if err := json.Unmarshal([]byte(endpoints.String), profile.Endpoints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal endpoints: %w", err)
		}
	}
	if pricing.Valid {
		profile.Pricing = &models.Pricing{}
		if err := json.Unmarshal([]byte(pricing.String), profile.Pricing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pricing: %w", err)
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &profile.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if proofOfWork.Valid {
		profile.ProofOfWork = &models.ProofOfWork{}
		if err := json.Unmarshal([]byte(proofOfWork.String), profile.ProofOfWork); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proof of work: %w", err)
		}
	}

	return &profile, nil
}

func (c *Client) DeleteAgent(id string) error {
	result, err := c.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	logger.Debug("Agent deleted", zap.String("agent_id", id))
	return nil
}

func (c *Client) AgentExists(id string) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM agents WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check agent existence: %w", err)
	}
	return true, nil
}

// SearchAgents returns agents advertising the given skill at or above
// minConfidence, newest first. An empty skill matches all agents.
func (c *Client) SearchAgents(skill string, minConfidence float64, limit, offset int) ([]models.AgentProfile, error) {
	var rows *sql.Rows
	var err error

	if skill != "" {
		rows, err = c.db.Query(
			`SELECT DISTINCT a.id, a.name, a.version, a.description, a.capabilities, a.endpoints, a.pricing,
			        a.metadata, a.proof_of_work, a.docs_title, a.docs_summary, a.created_at, a.updated_at
			 FROM agents a
			 JOIN agent_capabilities ac ON ac.agent_id = a.id
			 WHERE ac.skill = ? AND ac.confidence >= ?
			 ORDER BY a.created_at DESC
			 LIMIT ? OFFSET ?`,
			skill, minConfidence, limit, offset,
		)
	} else {
		rows, err = c.db.Query(
			`SELECT id, name, version, description, capabilities, endpoints, pricing,
			        metadata, proof_of_work, docs_title, docs_summary, created_at, updated_at
			 FROM agents
			 ORDER BY created_at DESC
			 LIMIT ? OFFSET ?`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search agents: %w", err)
	}
	defer rows.Close()

	var profiles []models.AgentProfile
	for rows.Next() {
		profile, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
	}
	return profiles, rows.Err()
}

func (c *Client) CountAgents(skill string, minConfidence float64) (int, error) {
	var count int
	var err error
	if skill != "" {
		err = c.db.QueryRow(
			`SELECT COUNT(DISTINCT agent_id) FROM agent_capabilities WHERE skill = ? AND confidence >= ?`,
			skill, minConfidence,
		).Scan(&count)
	} else {
		err = c.db.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}
	return count, nil
}

func (c *Client) UpdateAgentDocsMeta(id, title, summary string) error {
	_, err := c.db.Exec(
		`UPDATE agents SET docs_title = ?, docs_summary = ? WHERE id = ?`,
		title, summary, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update docs metadata: %w", err)
	}
	return nil
}

// UpsertMetrics overwrites the agent's latest performance snapshot. There
// is at most one snapshot per agent; no history is kept.
func (c *Client) UpsertMetrics(agentID string, m *models.AgentMetrics) error {
	_, err := c.db.Exec(
		`INSERT INTO agent_metrics (agent_id, tasks_completed, avg_response_time_ms, success_rate, uptime_30d, reported_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			tasks_completed = excluded.tasks_completed,
			avg_response_time_ms = excluded.avg_response_time_ms,
			success_rate = excluded.success_rate,
			uptime_30d = excluded.uptime_30d,
			reported_at = excluded.reported_at`,
		agentID,
		nullableInt(m.TasksCompleted),
		nullableInt(m.AvgResponseTimeMs),
		nullableFloat(m.SuccessRate),
		nullableFloat(m.Uptime30d),
		m.ReportedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metrics: %w", err)
	}

	logger.Debug("Metrics snapshot stored", zap.String("agent_id", agentID))
	return nil
}

// GetLatestMetrics returns the agent's current snapshot, or ErrNotFound if
// the agent has never reported metrics.
func (c *Client) GetLatestMetrics(ctx context.Context, agentID string) (*models.AgentMetrics, error) {
	var m models.AgentMetrics
	var tasksCompleted, avgResponseTime sql.NullInt64
	var successRate, uptime sql.NullFloat64
	var reportedAt int64

	err := c.db.QueryRowContext(ctx,
		`SELECT tasks_completed, avg_response_time_ms, success_rate, uptime_30d, reported_at
		 FROM agent_metrics WHERE agent_id = ?`, agentID,
	).Scan(&tasksCompleted, &avgResponseTime, &successRate, &uptime, &reportedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	if tasksCompleted.Valid {
		v := int(tasksCompleted.Int64)
		m.TasksCompleted = &v
	}
	if avgResponseTime.Valid {
		v := int(avgResponseTime.Int64)
		m.AvgResponseTimeMs = &v
	}
	if successRate.Valid {
		v := successRate.Float64
		m.SuccessRate = &v
	}
	if uptime.Valid {
		v := uptime.Float64
		m.Uptime30d = &v
	}
	m.ReportedAt = time.Unix(reportedAt, 0)

	return &m, nil
}

func (c *Client) InsertReview(review *models.Review) error {
	var metadata sql.NullString
	if review.Metadata != nil {
		var err error
		metadata, err = marshalJSON(review.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal review metadata: %w", err)
		}
	}

	_, err := c.db.Exec(
		`INSERT INTO reviews (id, agent_id, rating, comment, reviewer_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		review.ID,
		review.AgentID,
		string(review.Rating),
		review.Comment,
		review.ReviewerID,
		metadata,
		review.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}

	logger.Debug("Review inserted",
		zap.String("review_id", review.ID),
		zap.String("agent_id", review.AgentID),
		zap.String("rating", string(review.Rating)),
	)
	return nil
}

// ListReviews returns the agent's full review history, newest first. Every
// call re-reads the whole set; there is no cursor state.
func (c *Client) ListReviews(agentID string) ([]models.Review, error) {
	rows, err := c.db.Query(
		`SELECT id, agent_id, rating, comment, reviewer_id, metadata, created_at
		 FROM reviews WHERE agent_id = ?
		 ORDER BY created_at DESC, id DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		var comment, reviewerID, metadata sql.NullString
		var rating string
		var createdAt int64

		err := rows.Scan(&r.ID, &r.AgentID, &rating, &comment, &reviewerID, &metadata, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}

		r.Rating = models.Rating(rating)
		r.Comment = comment.String
		r.ReviewerID = reviewerID.String
		r.CreatedAt = time.Unix(createdAt, 0)
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal review metadata: %w", err)
			}
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (c *Client) CountReviewsByRating(ctx context.Context, agentID string) (models.ReviewCounts, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT rating, COUNT(*) FROM reviews WHERE agent_id = ? GROUP BY rating`, agentID)
	if err != nil {
		return models.ReviewCounts{}, fmt.Errorf("failed to count reviews: %w", err)
	}
	defer rows.Close()

	var counts models.ReviewCounts
	for rows.Next() {
		var rating string
		var count int
		if err := rows.Scan(&rating, &count); err != nil {
			return models.ReviewCounts{}, fmt.Errorf("failed to scan review count: %w", err)
		}
		switch models.Rating(rating) {
		case models.RatingPositive:
			counts.Positive = count
		case models.RatingNeutral:
			counts.Neutral = count
		case models.RatingNegative:
			counts.Negative = count
		}
	}
	return counts, rows.Err()
}

// UpsertScore stores the latest computed score tuple, overwriting any prior
// one. Scores are not versioned.
func (c *Client) UpsertScore(ctx context.Context, score *models.ReputationScore) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO reputation_scores (agent_id, overall_score, performance_score, reliability_score, community_score,
			total_reviews, positive_reviews, neutral_reviews, negative_reviews, last_calculated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			performance_score = excluded.performance_score,
			reliability_score = excluded.reliability_score,
			community_score = excluded.community_score,
			total_reviews = excluded.total_reviews,
			positive_reviews = excluded.positive_reviews,
			neutral_reviews = excluded.neutral_reviews,
			negative_reviews = excluded.negative_reviews,
			last_calculated_at = excluded.last_calculated_at`,
		score.AgentID,
		score.OverallScore,
		score.PerformanceScore,
		score.ReliabilityScore,
		score.CommunityScore,
		score.TotalReviews,
		score.PositiveReviews,
		score.NeutralReviews,
		score.NegativeReviews,
		score.LastCalculatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert score: %w", err)
	}
	return nil
}

func (c *Client) GetScore(agentID string) (*models.ReputationScore, error) {
	var s models.ReputationScore
	var lastCalculatedAt int64

	err := c.db.QueryRow(
		`SELECT agent_id, overall_score, performance_score, reliability_score, community_score,
			total_reviews, positive_reviews, neutral_reviews, negative_reviews, last_calculated_at
		 FROM reputation_scores WHERE agent_id = ?`, agentID,
	).Scan(
		&s.AgentID,
		&s.OverallScore,
		&s.PerformanceScore,
		&s.ReliabilityScore,
		&s.CommunityScore,
		&s.TotalReviews,
		&s.PositiveReviews,
		&s.NeutralReviews,
		&s.NegativeReviews,
		&lastCalculatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get score: %w", err)
	}

	s.LastCalculatedAt = time.Unix(lastCalculatedAt, 0)
	return &s, nil
}

// TopScores returns up to limit scored agents ordered by overall score
// descending. Agents without a computed score are excluded.
func (c *Client) TopScores(limit int) ([]models.ReputationScore, error) {
	rows, err := c.db.Query(
		`SELECT agent_id, overall_score, performance_score, reliability_score, community_score,
			total_reviews, positive_reviews, neutral_reviews, negative_reviews, last_calculated_at
		 FROM reputation_scores
		 ORDER BY overall_score DESC, agent_id ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top scores: %w", err)
	}
	defer rows.Close()

	var scores []models.ReputationScore
	for rows.Next() {
		var s models.ReputationScore
		var lastCalculatedAt int64
		err := rows.Scan(
			&s.AgentID,
			&s.OverallScore,
			&s.PerformanceScore,
			&s.ReliabilityScore,
			&s.CommunityScore,
			&s.TotalReviews,
			&s.PositiveReviews,
			&s.NeutralReviews,
			&s.NegativeReviews,
			&lastCalculatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		s.LastCalculatedAt = time.Unix(lastCalculatedAt, 0)
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

func (c *Client) InsertAPIKey(key *models.APIKey) error {
	var expiresAt sql.NullInt64
	if key.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: key.ExpiresAt.Unix(), Valid: true}
	}

	_, err := c.db.Exec(
		`INSERT INTO api_keys (id, name, description, key_hash, can_read, can_write, can_delete, is_admin, rate_limit, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		key.ID,
		key.Name,
		key.Description,
		key.KeyHash,
		boolToInt(key.CanRead),
		boolToInt(key.CanWrite),
		boolToInt(key.CanDelete),
		boolToInt(key.IsAdmin),
		key.RateLimit,
		expiresAt,
		key.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

func (c *Client) GetAPIKeyByHash(keyHash string) (*models.APIKey, error) {
	var k models.APIKey
	var description sql.NullString
	var canRead, canWrite, canDelete, isAdmin, revoked int
	var expiresAt sql.NullInt64
	var createdAt int64

	err := c.db.QueryRow(
		`SELECT id, name, description, key_hash, can_read, can_write, can_delete, is_admin, rate_limit, expires_at, revoked, created_at
		 FROM api_keys WHERE key_hash = ?`, keyHash,
	).Scan(&k.ID, &k.Name, &description, &k.KeyHash, &canRead, &canWrite, &canDelete, &isAdmin, &k.RateLimit, &expiresAt, &revoked, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	k.Description = description.String
	k.CanRead = canRead == 1
	k.CanWrite = canWrite == 1
	k.CanDelete = canDelete == 1
	k.IsAdmin = isAdmin == 1
	k.Revoked = revoked == 1
	k.CreatedAt = time.Unix(createdAt, 0)
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		k.ExpiresAt = &t
	}
	return &k, nil
}

func (c *Client) ListAPIKeys() ([]models.APIKey, error) {
	rows, err := c.db.Query(
		`SELECT id, name, description, can_read, can_write, can_delete, is_admin, rate_limit, expires_at, revoked, created_at
		 FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		var description sql.NullString
		var canRead, canWrite, canDelete, isAdmin, revoked int
		var expiresAt sql.NullInt64
		var createdAt int64

		err := rows.Scan(&k.ID, &k.Name, &description, &canRead, &canWrite, &canDelete, &isAdmin, &k.RateLimit, &expiresAt, &revoked, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}

		k.Description = description.String
		k.CanRead = canRead == 1
		k.CanWrite = canWrite == 1
		k.CanDelete = canDelete == 1
		k.IsAdmin = isAdmin == 1
		k.Revoked = revoked == 1
		k.CreatedAt = time.Unix(createdAt, 0)
		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0)
			k.ExpiresAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (c *Client) RevokeAPIKey(id string) error {
	result, err := c.db.Exec(`UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) InsertWebhook(hook *models.Webhook) error {
	events, err := marshalJSON(hook.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}

	_, err = c.db.Exec(
		`INSERT INTO webhooks (id, url, secret, events, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		hook.ID, hook.URL, hook.Secret, events.String, boolToInt(hook.Active), hook.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook: %w", err)
	}
	return nil
}

// ListWebhooks returns active webhooks subscribed to the given event type.
// An empty event returns all webhooks, active or not.
func (c *Client) ListWebhooks(event string) ([]models.Webhook, error) {
	rows, err := c.db.Query(`SELECT id, url, secret, events, active, created_at FROM webhooks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []models.Webhook
	for rows.Next() {
		var h models.Webhook
		var events string
		var active int
		var createdAt int64

		if err := rows.Scan(&h.ID, &h.URL, &h.Secret, &events, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		if err := json.Unmarshal([]byte(events), &h.Events); err != nil {
			return nil, fmt.Errorf("failed to unmarshal webhook events: %w", err)
		}
		h.Active = active == 1
		h.CreatedAt = time.Unix(createdAt, 0)

		if event != "" {
			if !h.Active || !subscribed(h.Events, event) {
				continue
			}
		}
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}

func subscribed(events []string, event string) bool {
	for _, e := range events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

func (c *Client) DeleteWebhook(id string) error {
	result, err := c.db.Exec(`DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) RecordDelivery(delivery *models.WebhookDelivery) error {
	_, err := c.db.Exec(
		`INSERT INTO webhook_deliveries (webhook_id, event, status_code, success, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		delivery.WebhookID,
		delivery.Event,
		delivery.StatusCode,
		boolToInt(delivery.Success),
		delivery.Attempts,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
