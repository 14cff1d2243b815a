package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
	"ResearchBrief/internal/report"
	"ResearchBrief/internal/testsupport"
	"ResearchBrief/internal/usecase"
)

func tickN(t *testing.T, s *usecase.Scheduler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Tick(context.Background(), testNow)
		require.NoError(t, err)
	}
}

func TestHealthyJobCompletes(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
	f.seedUserWithArticles(t, 10)
	sched := f.scheduler(testConfig())

	var stages []domain.Stage
	for i := 0; i < 8; i++ {
		_, err := sched.Tick(context.Background(), testNow)
		require.NoError(t, err)
		stages = append(stages, f.onlyJob(t).State.Stage)
	}

	job := f.onlyJob(t)
	assert.Equal(t, domain.StatusComplete, job.Status)
	assert.Equal(t, domain.StagePublish, job.State.Stage)
	assert.Equal(t, 4, job.Attempt)
	for i := 1; i < len(stages); i++ {
		assert.GreaterOrEqual(t, stages[i].Rank(), stages[i-1].Rank(), "stage regressed at tick %d", i)
	}

	require.NotNil(t, job.State.Synthesis)
	assert.Equal(t, domain.StrategyDirect, job.State.Synthesis.Strategy)
	assert.True(t, job.State.Synthesis.Valid)
	assert.Zero(t, job.State.Synthesis.Retries)
	require.NotNil(t, job.State.Fetch)
	assert.Equal(t, 4, job.State.Fetch.OK)

	rep, err := f.store.GetReportByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "Central Banks research brief: Oct 17, 2026", rep.Subject)
	assert.Contains(t, rep.Markdown, "## "+report.SectionSources)
	assert.Contains(t, rep.Markdown, f.server.URL+"/article/0")
	assert.NotContains(t, rep.Markdown, "placeholder")
	assert.Contains(t, rep.HTML, "<h2>What Happened</h2>")

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "chat-u1", sent[0].To)
	assert.Contains(t, sent[0].HTML, "prefs-u1")
	assert.Len(t, f.generator.Calls(), 1)

	require.NotNil(t, job.State.Publish)
	assert.True(t, job.State.Publish.Delivered)
	assert.Equal(t, rep.ID, job.State.Publish.ReportID)
}

func TestPaywalledSourcesYieldPartialReport(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(answer(ungroundedBrief)), 0, 1, 2, 3)
	f.seedUserWithArticles(t, 6)
	tickN(t, f.scheduler(testConfig()), 8)

	job := f.onlyJob(t)
	assert.Equal(t, domain.StatusPartial, job.Status)
	assert.True(t, job.State.Partial)
	require.NotNil(t, job.State.Fetch)
	assert.Equal(t, 2, job.State.Fetch.OK)
	assert.Equal(t, 4, job.State.Fetch.Paywalled)

	require.NotNil(t, job.State.Synthesis)
	assert.False(t, job.State.Synthesis.Valid)
	assert.Equal(t, 1, job.State.Synthesis.Retries)
	assert.NotEmpty(t, job.State.Synthesis.ValidationErrors)

	calls := f.generator.Calls()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].SystemPrompt, calls[1].SystemPrompt)

	rep, err := f.store.GetReportByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Len(t, f.sender.Sent(), 1)
}

type failingCorpus struct {
	ports.Corpus
	err error
}

func (c failingCorpus) RecentCandidates(context.Context, domain.Topic, time.Time) ([]domain.Candidate, error) {
	return nil, c.err
}

func TestRepeatedFailuresForcePublish(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
	f.seedUserWithArticles(t, 6)
	f.deps.Corpus = failingCorpus{Corpus: f.store, err: errors.New("corpus offline")}
	sched := f.scheduler(testConfig())

	tickN(t, sched, 2)
	job := f.onlyJob(t)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, 2, job.Attempt)

	tickN(t, sched, 1)
	job = f.onlyJob(t)
	assert.Equal(t, domain.StatusPartial, job.Status)
	assert.Equal(t, domain.StagePublish, job.State.Stage)

	rep, err := f.store.GetReportByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Contains(t, rep.Markdown, report.NoCoverageHeadline)
	assert.Empty(t, f.generator.Calls())

	tickN(t, sched, 2)
	again := f.onlyJob(t)
	assert.Equal(t, job.Attempt, again.Attempt)
}

func TestMissingTopicFailsJob(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
	testsupport.SeedUser(t, f.store, "u1", 6)
	job := testsupport.NewJob(t, f.store, "u1", "2026-W42", "ghost-topic", testNow)

	o := usecase.NewOrchestrator(f.deps, testConfig())
	require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))
	again, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Attempt)
}

func TestNoCandidatesSkipsToSynthesis(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
	testsupport.SeedTopic(t, f.store, "t1", "Quiet Topic", "nothing")
	testsupport.SeedUser(t, f.store, "u1", 6, "t1")
	job := testsupport.NewJob(t, f.store, "u1", "2026-W42", "t1", testNow)

	o := usecase.NewOrchestrator(f.deps, testConfig())
	require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))
	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSynthesize, got.State.Stage)
	assert.Equal(t, domain.StatusPartial, got.Status)

	require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))
	require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))

	artifact, err := o.Artifact(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, artifact.Status)
	require.NotNil(t, artifact.Report)
	assert.True(t, strings.HasPrefix(artifact.Report.Markdown, "# "+report.NoCoverageHeadline))
	assert.Empty(t, f.generator.Calls())
}

func TestArtifactUnknownJob(t *testing.T) {
	f := newFixture(t, testsupport.NewGenerator(nil))
	o := usecase.NewOrchestrator(f.deps, testConfig())

	_, err := o.Artifact(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type failingReports struct {
	ports.ReportRepository
}

func (failingReports) CreateReport(context.Context, *domain.Report) (bool, error) {
	return false, errors.New("disk full")
}

func TestStepLimitForcesPublishOrAborts(t *testing.T) {
	cfg := testConfig()

	t.Run("publishes", func(t *testing.T) {
		f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
		f.seedUserWithArticles(t, 2)
		job := testsupport.NewJob(t, f.store, "u1", "2026-W42", "t1", testNow)
		job.Attempt = cfg.MaxSteps
		require.NoError(t, f.store.UpdateJob(context.Background(), job))

		o := usecase.NewOrchestrator(f.deps, cfg)
		require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))

		artifact, err := o.Artifact(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPartial, artifact.Status)
		require.NotNil(t, artifact.Report)
	})

	t.Run("aborts", func(t *testing.T) {
		f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
		f.seedUserWithArticles(t, 2)
		f.deps.Reports = failingReports{ReportRepository: f.store}
		job := testsupport.NewJob(t, f.store, "u1", "2026-W42", "t1", testNow)
		job.Attempt = cfg.MaxSteps
		require.NoError(t, f.store.UpdateJob(context.Background(), job))

		o := usecase.NewOrchestrator(f.deps, cfg)
		require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))

		got, err := f.store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAborted, got.Status)
		assert.Equal(t, cfg.MaxSteps, got.Attempt)
	})
}

func TestStepWithSmallShareWaitsForRoom(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
	job := readyJob(t, f, 4, domain.StrategyDirect)
	o := usecase.NewOrchestrator(f.deps, cfg)
	share := usecase.JobShare(cfg.AdvanceBudget, 10, cfg.JobShareFloor, cfg.JobShareCeiling)

	require.NoError(t, o.Step(context.Background(), job.ID, share))
	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSynthesize, got.State.Stage)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Empty(t, f.generator.Calls())

	fitted, ok := o.FitShare(got.State, share, cfg.AdvanceBudget)
	require.True(t, ok)
	assert.Equal(t, cfg.Synthesis.DirectTimeout+cfg.BudgetBuffer, fitted)

	require.NoError(t, o.Step(context.Background(), job.ID, fitted))
	got, err = f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StagePublish, got.State.Stage)
	assert.Equal(t, domain.StrategyDirect, got.State.Synthesis.Strategy)
	assert.False(t, got.State.Partial)
	assert.Len(t, f.generator.Calls(), 1)
}

func TestFitShare(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, testsupport.NewGenerator(nil))
	o := usecase.NewOrchestrator(f.deps, cfg)

	fetching := domain.NewJobState()
	require.NoError(t, fetching.ToFetch([]string{"https://a.example/1"}, testNow))
	direct := fetching
	require.NoError(t, direct.ToSynthesize(domain.StrategyDirect))
	mapReduce := fetching
	require.NoError(t, mapReduce.ToSynthesize(domain.StrategyMapReduce))

	directUnit := cfg.Synthesis.DirectTimeout + cfg.BudgetBuffer
	mapReduceUnit := cfg.Synthesis.MapTimeout + cfg.Synthesis.ReduceTimeout + cfg.BudgetBuffer
	cases := []struct {
		name      string
		state     domain.JobState
		share     time.Duration
		remaining time.Duration
		want      time.Duration
		fits      bool
	}{
		{"discover keeps share", domain.NewJobState(), 20 * time.Second, time.Minute, 20 * time.Second, true},
		{"fetch fits floor", fetching, cfg.JobShareFloor, time.Minute, cfg.JobShareFloor, true},
		{"fetch raised", fetching, 12 * time.Second, time.Minute, cfg.Fetch.Timeout + cfg.BudgetBuffer, true},
		{"fetch does not fit", fetching, 12 * time.Second, 12 * time.Second, 12 * time.Second, false},
		{"direct raised", direct, 24 * time.Second, 4 * time.Minute, directUnit, true},
		{"direct degrades to map_reduce", direct, 24 * time.Second, mapReduceUnit, mapReduceUnit, true},
		{"map_reduce raised", mapReduce, 24 * time.Second, time.Minute, mapReduceUnit, true},
		{"map_reduce does not fit", mapReduce, 24 * time.Second, 30 * time.Second, 24 * time.Second, false},
	}
	for _, tc := range cases {
		got, fits := o.FitShare(tc.state, tc.share, tc.remaining)
		assert.Equal(t, tc.fits, fits, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestStepResetsUnusableState(t *testing.T) {
	for name, raw := range map[string]string{
		"unknown stage":           `{"stage":"BOGUS"}`,
		"fetch without progress":  `{"version":1,"stage":"FETCH"}`,
		"publish without a draft": `{"version":1,"stage":"PUBLISH","partial":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, testsupport.NewGenerator(answer(groundedBrief)))
			f.seedUserWithArticles(t, 6)
			job := testsupport.NewJob(t, f.store, "u1", "2026-W42", "t1", testNow)
			require.NoError(t, f.store.OverwriteJobState(context.Background(), job.ID, raw))

			o := usecase.NewOrchestrator(f.deps, testConfig())
			require.NoError(t, o.Step(context.Background(), job.ID, time.Minute))

			got, err := f.store.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StageFetch, got.State.Stage)
			assert.Equal(t, 1, got.Attempt)
			require.NotNil(t, got.State.Discovery)
			assert.Len(t, got.State.Discovery.URLs, 6)

			counts, err := f.store.CountSources(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, 6, counts.Unknown)
		})
	}
}
