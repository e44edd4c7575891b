package models

import "time"

// Capability is one skill an agent advertises, with the agent's own
// confidence in it.
type Capability struct {
	Skill      string                 `json:"skill"`
	Confidence float64                `json:"confidence"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type Endpoints struct {
	API    string `json:"api,omitempty"`
	Health string `json:"health,omitempty"`
	Docs   string `json:"docs,omitempty"`
}

type Pricing struct {
	Model     string   `json:"model"`
	BasePrice *float64 `json:"base_price,omitempty"`
	Currency  string   `json:"currency,omitempty"`
}

type ProofOfWork struct {
	Type       string   `json:"type"`
	References []string `json:"references"`
}

type AgentProfile struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Description  string                 `json:"description,omitempty"`
	Capabilities []Capability           `json:"capabilities"`
	Endpoints    *Endpoints             `json:"endpoints,omitempty"`
	Pricing      *Pricing               `json:"pricing,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	ProofOfWork  *ProofOfWork           `json:"proof_of_work,omitempty"`
	DocsTitle    string                 `json:"docs_title,omitempty"`
	DocsSummary  string                 `json:"docs_summary,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// AgentMetrics is the latest self-reported performance snapshot for one
// agent. Fields are pointers: a nil field means the agent has never
// reported that measurement, which is distinct from reporting zero.
type AgentMetrics struct {
	TasksCompleted    *int     `json:"tasks_completed,omitempty"`
	AvgResponseTimeMs *int     `json:"avg_response_time_ms,omitempty"`
	SuccessRate       *float64 `json:"success_rate,omitempty"`
	Uptime30d         *float64 `json:"uptime_30d,omitempty"`
	ReportedAt        time.Time `json:"reported_at"`
}

type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNeutral  Rating = "neutral"
	RatingNegative Rating = "negative"
)

// Valid reports whether r is one of the three defined sentiments.
func (r Rating) Valid() bool {
	switch r {
	case RatingPositive, RatingNeutral, RatingNegative:
		return true
	}
	return false
}

// Review is an immutable community rating of an agent. Reviews are
// append-only; they disappear only when the reviewed agent is deleted.
type Review struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agent_id"`
	Rating     Rating                 `json:"rating"`
	Comment    string                 `json:"comment,omitempty"`
	ReviewerID string                 `json:"reviewer_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

type ReviewCounts struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

func (c ReviewCounts) Total() int {
	return c.Positive + c.Neutral + c.Negative
}

// ReputationScore is the derived trust tuple for one agent. Exactly one
// row exists per scored agent; every recalculation overwrites it.
type ReputationScore struct {
	AgentID          string    `json:"agent_id"`
	OverallScore     float64   `json:"overall_score"`
	PerformanceScore float64   `json:"performance_score"`
	ReliabilityScore float64   `json:"reliability_score"`
	CommunityScore   float64   `json:"community_score"`
	TotalReviews     int       `json:"total_reviews"`
	PositiveReviews  int       `json:"positive_reviews"`
	NeutralReviews   int       `json:"neutral_reviews"`
	NegativeReviews  int       `json:"negative_reviews"`
	LastCalculatedAt time.Time `json:"last_calculated_at"`
}

type APIKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	KeyHash     string     `json:"-"`
	CanRead     bool       `json:"can_read"`
	CanWrite    bool       `json:"can_write"`
	CanDelete   bool       `json:"can_delete"`
	IsAdmin     bool       `json:"is_admin"`
	RateLimit   int        `json:"rate_limit"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Revoked     bool       `json:"revoked"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type WebhookDelivery struct {
	ID         int       `json:"id"`
	WebhookID  string    `json:"webhook_id"`
	Event      string    `json:"event"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}
