// Package enrich pulls display metadata out of an agent's documentation
// page so search results can show a verified title and summary.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/logger"
)

const (
	fetchTimeout   = 10 * time.Second
	maxBodyBytes   = 1 << 20 // 1 MiB
	maxTitleLength = 200
	maxSummaryLen  = 500
)

type Fetcher struct {
	db         *sqlite.Client
	httpClient *http.Client
}

func NewFetcher(db *sqlite.Client) *Fetcher {
	return &Fetcher{
		db: db,
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

// FetchAsync fetches the docs page in the background. Enrichment is
// best-effort: failures are logged and the profile simply stays
// unenriched.
func (f *Fetcher) FetchAsync(agentID, docsURL string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		if err := f.fetch(ctx, agentID, docsURL); err != nil {
			logger.Warn("Docs enrichment failed",
				zap.String("agent_id", agentID),
				zap.String("url", docsURL),
				zap.Error(err),
			)
		}
	}()
}

func (f *Fetcher) fetch(ctx context.Context, agentID, docsURL string) error {
	u, err := url.Parse(docsURL)
	if err != nil {
		return fmt.Errorf("invalid docs url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported docs url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch docs page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("docs page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to parse docs page: %w", err)
	}

	title := clean(doc.Find("title").First().Text(), maxTitleLength)
	summary, _ := doc.Find(`meta[name="description"]`).Attr("content")
	summary = clean(summary, maxSummaryLen)

	if title == "" && summary == "" {
		return nil
	}

	if err := f.db.UpdateAgentDocsMeta(agentID, title, summary); err != nil {
		return err
	}

	logger.Debug("Docs metadata stored",
		zap.String("agent_id", agentID),
		zap.String("title", title),
	)
	return nil
}

func clean(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary so truncated titles stay valid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
