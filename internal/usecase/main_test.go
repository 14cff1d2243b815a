package usecase_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/infrastructure/fetch"
	"ResearchBrief/internal/infrastructure/render"
	"ResearchBrief/internal/infrastructure/storage"
	"ResearchBrief/internal/logging"
	"ResearchBrief/internal/ports"
	"ResearchBrief/internal/testsupport"
	"ResearchBrief/internal/usecase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var testNow = time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

const groundedParagraph = `The European Central Bank held rates steady on Thursday while the
Federal Reserve signalled patience. Analysts at Goldman Sachs expect the ECB to cut
in December. Christine Lagarde said inflation is easing across the euro area.`

const groundedBrief = `# Central banks hold steady as inflation cools

## What Happened
- The European Central Bank held rates steady on Thursday [1].
- The Federal Reserve signalled patience on further moves [2].
- Analysts at Goldman Sachs expect the ECB to cut in December [3].
- President Christine Lagarde said inflation is easing [1].

## What Changed
No meaningful change identified.

## Why It Matters
- Borrowing costs stay elevated for households.
- Currency markets may stay range-bound.
- Corporate refinancing plans can wait for clearer signals.

## Risks / Watch-outs
- A surprise in core inflation could revive hikes.
- Energy prices remain volatile into winter.

## Action Prompts
- Review variable-rate exposure before December.
- Track the next inflation print.
- Revisit hedging assumptions for the euro.

## Sources
1. [placeholder](https://example.com)
`

const ungroundedBrief = `# Robots everywhere

## What Happened
- Shares of Acme Robotics jumped after the Globex Corporation deal.
- Regulators at Initech Labs opened a review.
- Investors in Umbrella Holdings sold their stakes.

## What Changed
- Partners at Stark Industries paused hiring.
- Teams at Wayne Enterprises moved to Gotham Harbor.

## Why It Matters
- Supply chains shift toward Vandelay Imports.
- Pricing power moves to Soylent Foods.
- Margins tighten at Cyberdyne Systems.

## Risks / Watch-outs
- Funding from Hooli Capital may dry up.
- Rules from Oceanic Airlines could change.

## Action Prompts
- Call the desk at Pied Piper.
- Review contracts with Massive Dynamic.
- Track filings from Tyrell Corporation.

## Sources
1. [placeholder](https://example.com)
`

// articlePage is a readable page well above the minimum readable length.
func articlePage(title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<html><head><title>%s</title></head><body><nav>Home News</nav><article>", title)
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&sb, "<p>%s Paragraph %d adds detail about the decision.</p>", groundedParagraph, i)
	}
	sb.WriteString("</article></body></html>")
	return sb.String()
}

// newArticleServer serves /article/<i>; indexes listed in forbidden answer 403.
func newArticleServer(t *testing.T, forbidden ...int) *httptest.Server {
	t.Helper()

	blocked := map[int]bool{}
	for _, i := range forbidden {
		blocked[i] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/article/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if blocked[idx] {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage("Article " + strconv.Itoa(idx))))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() config.ResearchConfig {
	return config.Default().Research
}

type fixture struct {
	store     *storage.Store
	server    *httptest.Server
	generator *testsupport.Generator
	sender    *testsupport.Sender
	tokens    *testsupport.TokenIssuer
	deps      usecase.Deps
}

func newFixture(t *testing.T, generator *testsupport.Generator, forbidden ...int) *fixture {
	t.Helper()

	store := testsupport.MustOpenStore(t)
	srv := newArticleServer(t, forbidden...)
	f := &fixture{
		store:     store,
		server:    srv,
		generator: generator,
		sender:    &testsupport.Sender{},
		tokens:    &testsupport.TokenIssuer{},
	}
	f.deps = usecase.Deps{
		Jobs:      store,
		Sources:   store,
		Reports:   store,
		Directory: store,
		Corpus:    store,
		Fetcher:   fetch.NewHTTPFetcher(srv.Client(), "", 5*time.Second),
		Generator: generator,
		Sender:    f.sender,
		Tokens:    f.tokens,
		Renderer:  render.NewHTMLRenderer("https://brief.example.com"),
		Clock:     fixedClock,
		Logger:    logging.Discard(),
	}
	return f
}

// seedUserWithArticles stores topic t1, user u1 and n articles on the test server.
func (f *fixture) seedUserWithArticles(t *testing.T, n int) {
	t.Helper()

	testsupport.SeedTopic(t, f.store, "t1", "Central Banks", "rates", "inflation")
	testsupport.SeedUser(t, f.store, "u1", 6, "t1")
	testsupport.SeedArticles(t, f.store, "t1", f.server.URL, n, testNow.Add(-time.Hour))
}

func (f *fixture) scheduler(cfg config.ResearchConfig) *usecase.Scheduler {
	orchestrator := usecase.NewOrchestrator(f.deps, cfg)
	return usecase.NewScheduler(nil, f.deps, orchestrator, cfg, domain.PeriodWeek, time.UTC)
}

// onlyJob returns the single job in the store.
func (f *fixture) onlyJob(t *testing.T) *domain.Job {
	t.Helper()

	jobs, err := f.store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	return &jobs[0]
}

func answer(text string) func(ports.GenerateRequest) (string, error) {
	return func(ports.GenerateRequest) (string, error) { return text, nil }
}
