package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/infrastructure/storage"
	"ResearchBrief/internal/testsupport"
)

func TestCreateJobIsUniquePerUserAndPeriod(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.October, 12, 8, 0, 0, 0, time.UTC)

	first := testsupport.NewJob(t, store, "u1", "2026-W41", "t1", now)

	dup := &domain.Job{ID: "other", UserID: "u1", Period: "2026-W41", TopicID: "t2", Status: domain.StatusQueued, State: domain.NewJobState()}
	created, err := store.CreateJob(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.GetJob(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.TopicID)
	assert.Equal(t, domain.StageDiscover, got.State.Stage)
	assert.True(t, got.CreatedAt.Equal(now))

	missing, err := store.GetJob(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateJobRoundTripsState(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "u1", "2026-W41", "t1", time.Now())

	require.NoError(t, job.State.ToFetch([]string{"https://a.example/1"}, time.Now()))
	job.Attempt = 2
	job.MarkPartial()
	require.NoError(t, store.UpdateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, got.Status)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, domain.StageFetch, got.State.Stage)
	assert.True(t, got.State.Partial)
	require.NotNil(t, got.State.Discovery)
	assert.Equal(t, []string{"https://a.example/1"}, got.State.Discovery.URLs)

	ghost := &domain.Job{ID: "ghost", State: domain.NewJobState()}
	assert.ErrorIs(t, store.UpdateJob(ctx, ghost), domain.ErrNotFound)
}

func TestListAdvanceablePrefersPartialThenOldest(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	oldest := testsupport.NewJob(t, store, "u1", "2026-W40", "t1", base)
	newer := testsupport.NewJob(t, store, "u2", "2026-W40", "t1", base.Add(time.Hour))
	partial := testsupport.NewJob(t, store, "u3", "2026-W40", "t1", base.Add(2*time.Hour))
	done := testsupport.NewJob(t, store, "u4", "2026-W40", "t1", base.Add(-time.Hour))
	reported := testsupport.NewJob(t, store, "u5", "2026-W40", "t1", base.Add(-2*time.Hour))

	partial.MarkPartial()
	require.NoError(t, store.UpdateJob(ctx, partial))
	done.Status = domain.StatusComplete
	require.NoError(t, store.UpdateJob(ctx, done))
	_, err := store.CreateReport(ctx, &domain.Report{JobID: reported.ID, Subject: "s", Markdown: "m", HTML: "h"})
	require.NoError(t, err)

	jobs, err := store.ListAdvanceable(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{partial.ID, oldest.ID, newer.ID}, ids)

	limited, err := store.ListAdvanceable(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, partial.ID, limited[0].ID)
}

func TestSourcesAreClassifiedOnce(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "u1", "2026-W41", "t1", time.Now())

	n, err := store.InsertSources(ctx, job.ID, []domain.Source{
		{URL: "https://a.example/1", Title: "One"},
		{URL: "https://a.example/2", Title: "Two"},
		{URL: "https://a.example/1", Title: "Dup"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := store.PendingSources(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "https://a.example/1", pending[0].URL)
	assert.Equal(t, domain.AccessUnknown, pending[0].AccessStatus)

	first := pending[0]
	first.AccessStatus = domain.AccessOK
	first.ExtractedText = "body text"
	require.NoError(t, store.RecordOutcome(ctx, first))

	first.AccessStatus = domain.AccessBlocked
	require.NoError(t, store.RecordOutcome(ctx, first))

	second := pending[1]
	second.AccessStatus = domain.AccessPaywalled
	second.ExtractedText = "ignored"
	require.NoError(t, store.RecordOutcome(ctx, second))

	counts, err := store.CountSources(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCounts{OK: 1, Paywalled: 1}, counts)

	ready, err := store.ReadySources(ctx, job.ID, 8)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "body text", ready[0].ExtractedText)
	assert.NotNil(t, ready[0].FetchedAt)
}

func TestCreateReportIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	created, err := store.CreateReport(ctx, &domain.Report{JobID: "j1", Subject: "first", Markdown: "# a", HTML: "<h1>a</h1>"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateReport(ctx, &domain.Report{JobID: "j1", Subject: "second", Markdown: "# b", HTML: "<h1>b</h1>"})
	require.NoError(t, err)
	assert.False(t, created)

	report, err := store.GetReportByJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "first", report.Subject)

	none, err := store.GetReportByJob(ctx, "j2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDirectoryListsEnabledUsersWithOrderedTopics(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	testsupport.SeedTopic(t, store, "t1", "Chips", "semiconductor", "export")
	testsupport.SeedTopic(t, store, "t2", "Rates")
	testsupport.SeedUser(t, store, "u1", 8, "t2", "t1")
	monday := time.Monday
	require.NoError(t, store.UpsertUser(ctx, domain.User{ID: "u2", Enabled: false, TopicIDs: []string{"t1"}}))
	require.NoError(t, store.UpsertUser(ctx, domain.User{ID: "u3", Enabled: true, ResearchWeekday: &monday}))

	users, err := store.ListEnabledUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, []string{"t2", "t1"}, users[0].TopicIDs)
	assert.Equal(t, 8, users[0].MaxSources)
	assert.Equal(t, "chat-u1", users[0].ChatID)
	assert.Nil(t, users[0].ResearchWeekday)
	assert.Empty(t, users[1].ChatID)
	require.NotNil(t, users[1].ResearchWeekday)
	assert.Equal(t, time.Monday, *users[1].ResearchWeekday)

	topic, err := store.GetTopic(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, topic)
	assert.Equal(t, []string{"semiconductor", "export"}, topic.Keywords)

	t.Run("upsert replaces the chat id", func(t *testing.T) {
		u1 := users[0]
		u1.ChatID = "chat-moved"
		require.NoError(t, store.UpsertUser(ctx, u1))

		got, err := store.GetUser(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "chat-moved", got.ChatID)
		assert.Equal(t, []string{"t2", "t1"}, got.TopicIDs)
	})
}

func TestRecentCandidatesFallsBackToKeywords(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

	indexed := testsupport.SeedTopic(t, store, "t1", "Chips")
	unindexed := testsupport.SeedTopic(t, store, "t2", "Rates", "inflation")
	testsupport.SeedArticles(t, store, indexed.ID, "https://news.example", 3, now)

	_, err := store.AddCorpusArticle(ctx, storage.CorpusArticle{
		URL: "https://rates.example/a", Title: "Inflation cools", PublishedAt: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = store.AddCorpusArticle(ctx, storage.CorpusArticle{
		URL: "https://rates.example/old", Title: "Inflation history", PublishedAt: now.Add(-30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	got, err := store.RecentCandidates(ctx, indexed, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "https://news.example/article/0", got[0].URL)

	fallback, err := store.RecentCandidates(ctx, unindexed, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, fallback, 1)
	assert.Equal(t, "https://rates.example/a", fallback[0].URL)
	require.NotNil(t, fallback[0].PublishedAt)
}

func TestSourceQualityTierUsesMostSpecificHost(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSourceTier(ctx, "example.co.uk", 2))
	require.NoError(t, store.SetSourceTier(ctx, "news.example.co.uk", 1))
	require.NoError(t, store.AddBlockedHost(ctx, "Spam.example"))

	tier, err := store.SourceQualityTier(ctx, "https://www.news.example.co.uk/story")
	require.NoError(t, err)
	assert.Equal(t, 1, tier)

	tier, err = store.SourceQualityTier(ctx, "https://blog.example.co.uk/post")
	require.NoError(t, err)
	assert.Equal(t, 2, tier)

	tier, err = store.SourceQualityTier(ctx, "https://unknown.example/x")
	require.NoError(t, err)
	assert.Equal(t, 3, tier)

	patterns, err := store.BlockedHostPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"spam.example"}, patterns)
}

func TestLastTopicUse(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)

	testsupport.NewJob(t, store, "u1", "2026-W36", "t1", base)
	testsupport.NewJob(t, store, "u1", "2026-W37", "t2", base.Add(7*24*time.Hour))
	testsupport.NewJob(t, store, "u1", "2026-W38", "t1", base.Add(14*24*time.Hour))

	use, err := store.LastTopicUse(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, use["t1"].Equal(base.Add(14*24*time.Hour)))
	assert.True(t, use["t2"].Equal(base.Add(7*24*time.Hour)))
}
