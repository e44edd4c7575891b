package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
)

func newTestFetcher(t *testing.T) (*Fetcher, *sqlite.Client) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	require.NoError(t, db.InsertAgent(&models.AgentProfile{
		ID:      "agent-1",
		Name:    "translator",
		Version: "1.0.0",
		Capabilities: []models.Capability{
			{Skill: "translation", Confidence: 0.9},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	return NewFetcher(db), db
}

func TestFetchStoresTitleAndSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
			<title>  Translator   Agent Docs </title>
			<meta name="description" content="Translates documents between 40 languages.">
		</head><body></body></html>`)
	}))
	defer server.Close()

	fetcher, db := newTestFetcher(t)
	fetcher.FetchAsync("agent-1", server.URL)

	require.Eventually(t, func() bool {
		agent, err := db.GetAgent("agent-1")
		return err == nil && agent.DocsTitle != ""
	}, 3*time.Second, 20*time.Millisecond)

	agent, err := db.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Translator Agent Docs", agent.DocsTitle)
	assert.Equal(t, "Translates documents between 40 languages.", agent.DocsSummary)
}

func TestCleanTruncatesOnRuneBoundary(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"ascii untouched", "hello", 10, "hello"},
		{"ascii truncated", "hello world", 5, "hello"},
		{"multibyte boundary", "héllo", 2, "h"},
		{"multibyte kept whole", "héllo", 3, "hé"},
		{"cjk truncated", "日本語ドキュメント", 7, "日本"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := clean(tc.in, tc.max)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestFetchRejectsNonHTTPScheme(t *testing.T) {
	fetcher, _ := newTestFetcher(t)

	err := fetcher.fetch(context.Background(), "agent-1", "ftp://example.com/docs")
	assert.Error(t, err)
}

func TestFetchLeavesProfileUntouchedOnEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head></head><body>no metadata here</body></html>`)
	}))
	defer server.Close()

	fetcher, db := newTestFetcher(t)
	require.NoError(t, fetcher.fetch(context.Background(), "agent-1", server.URL))

	agent, err := db.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Empty(t, agent.DocsTitle)
	assert.Empty(t, agent.DocsSummary)
}
