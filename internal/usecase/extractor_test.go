package usecase_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/infrastructure/fetch"
	"ResearchBrief/internal/testsupport"
	"ResearchBrief/internal/usecase"
)

func longWords(n int) string {
	words := []string{"markets", "policy", "outlook", "lending", "growth", "credit"}
	var sb strings.Builder
	for i := 0; sb.Len() < n; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(words[i%len(words)])
	}
	return sb.String()
}

func newMixedServer(t *testing.T) *httptest.Server {
	t.Helper()

	page := func(text string) string {
		return fmt.Sprintf("<html><head><title>Page</title></head><body><article><p>%s</p></article></body></html>", text)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page(longWords(1500))))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page("Too short to be useful.")))
	})
	mux.HandleFunc("/wall", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page(longWords(1500) + " Subscribe to continue reading this story.")))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/account/login?next=/story", http.StatusFound)
	})
	mux.HandleFunc("/account/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page(longWords(1500))))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fetchJob(t *testing.T, f *fixture, paths ...string) *domain.Job {
	t.Helper()

	job := testsupport.NewJob(t, f.store, "u1", "2026-W42", "t1", testNow)
	rows := make([]domain.Source, 0, len(paths))
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, domain.Source{URL: f.server.URL + p, Title: "Candidate " + p})
		urls = append(urls, f.server.URL+p)
	}
	_, err := f.store.InsertSources(context.Background(), job.ID, rows)
	require.NoError(t, err)
	require.NoError(t, job.State.ToFetch(urls, testNow))
	require.NoError(t, f.store.UpdateJob(context.Background(), job))
	return job
}

func TestExtractorClassifiesOutcomes(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(nil))
	f.server = newMixedServer(t)
	f.deps.Fetcher = fetch.NewHTTPFetcher(f.server.Client(), "", 5*time.Second)

	cfg := testConfig()
	cfg.Fetch.BatchSize = 5
	cfg.Fetch.MaxStoredChars = 1300
	job := fetchJob(t, f, "/ok", "/forbidden", "/short", "/wall", "/moved")

	ex := usecase.NewExtractor(f.deps, cfg)
	require.NoError(t, ex.Run(context.Background(), job, budget.New(fixedClock, time.Minute, time.Second)))

	counts, err := f.store.CountSources(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCounts{OK: 1, Paywalled: 3, Blocked: 1}, counts)

	ready, err := f.store.ReadySources(context.Background(), job.ID, 8)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, f.server.URL+"/ok", ready[0].URL)
	assert.Equal(t, "Candidate /ok", ready[0].Title)
	assert.LessOrEqual(t, utf8.RuneCountInString(ready[0].ExtractedText), 1300)
	assert.GreaterOrEqual(t, utf8.RuneCountInString(ready[0].ExtractedText), 1200)
	assert.True(t, strings.HasPrefix(longWords(1500), ready[0].ExtractedText+" "), "truncation must end on a word boundary")

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSynthesize, got.State.Stage)
	assert.Equal(t, domain.StrategyMapReduce, got.State.Synthesis.Strategy)
	assert.Equal(t, domain.StatusPartial, got.Status)
	assert.Equal(t, 5, got.State.Fetch.Attempted)
	assert.Equal(t, 5, got.State.Fetch.NextIndex)
}

func TestExtractorStaysInFetchWithoutBudget(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(nil))
	job := fetchJob(t, f, "/article/0", "/article/1")

	ex := usecase.NewExtractor(f.deps, testConfig())
	require.NoError(t, ex.Run(context.Background(), job, budget.New(fixedClock, 2*time.Second, time.Second)))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageFetch, got.State.Stage)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Zero(t, got.State.Fetch.Attempted)

	counts, err := f.store.CountSources(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Unknown)
}

func TestExtractorProcessesBatches(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(nil))
	cfg := testConfig()
	cfg.Fetch.BatchSize = 2
	job := fetchJob(t, f, "/article/0", "/article/1", "/article/2", "/article/3", "/article/4")
	ex := usecase.NewExtractor(f.deps, cfg)
	guard := budget.New(fixedClock, time.Minute, time.Second)

	require.NoError(t, ex.Run(context.Background(), job, guard))
	assert.Equal(t, domain.StageFetch, job.State.Stage)
	assert.Equal(t, 2, job.State.Fetch.OK)

	require.NoError(t, ex.Run(context.Background(), job, guard))
	assert.Equal(t, domain.StageSynthesize, job.State.Stage)
	assert.Equal(t, domain.StrategyDirect, job.State.Synthesis.Strategy)
	assert.False(t, job.State.Partial)
	assert.Equal(t, domain.StatusQueued, job.Status)

	counts, err := f.store.CountSources(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.OK)
	assert.Equal(t, 1, counts.Unknown)
}

func TestExtractorFetchesWithinFloorShare(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, testsupport.NewGenerator(nil))
	job := fetchJob(t, f, "/article/0", "/article/1")

	ex := usecase.NewExtractor(f.deps, cfg)
	require.NoError(t, ex.Run(context.Background(), job, budget.New(fixedClock, cfg.JobShareFloor, cfg.BudgetBuffer)))

	assert.Equal(t, 2, job.State.Fetch.Attempted)
	assert.Equal(t, 2, job.State.Fetch.OK)
	assert.Equal(t, domain.StageSynthesize, job.State.Stage)
}
