package testsupport

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/infrastructure/storage"
)

// MustOpenStore opens a SQLite store in a temp dir and registers cleanup.
func MustOpenStore(t testing.TB) *storage.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "research.db")
	store, err := storage.Open(context.Background(), storage.Options{Driver: storage.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedTopic stores a topic.
func SeedTopic(t testing.TB, store *storage.Store, id, label string, keywords ...string) domain.Topic {
	t.Helper()

	topic := domain.Topic{ID: id, Label: label, Keywords: keywords}
	if err := store.UpsertTopic(context.Background(), topic); err != nil {
		t.Fatalf("store.UpsertTopic: %v", err)
	}
	return topic
}

// SeedUser stores an enabled user following the given topics.
func SeedUser(t testing.TB, store *storage.Store, id string, maxSources int, topicIDs ...string) domain.User {
	t.Helper()

	user := domain.User{
		ID:         id,
		Email:      id + "@example.com",
		ChatID:     "chat-" + id,
		Enabled:    true,
		MaxSources: maxSources,
		TopicIDs:   topicIDs,
	}
	if err := store.UpsertUser(context.Background(), user); err != nil {
		t.Fatalf("store.UpsertUser: %v", err)
	}
	return user
}

// SeedArticles stores n corpus articles matched to the topic, one hour apart
// ending at newest. URLs are baseURL + "/article/<i>".
func SeedArticles(t testing.TB, store *storage.Store, topicID, baseURL string, n int, newest time.Time) []string {
	t.Helper()

	urls := make([]string, 0, n)
	for i := 0; i < n; i++ {
		u := baseURL + "/article/" + strconv.Itoa(i)
		_, err := store.AddCorpusArticle(context.Background(), storage.CorpusArticle{
			URL:         u,
			Title:       "Article " + strconv.Itoa(i),
			Snippet:     "snippet " + strconv.Itoa(i),
			SourceName:  "Example Wire",
			PublishedAt: newest.Add(-time.Duration(i) * time.Hour),
			TopicScores: map[string]float64{topicID: 1},
		})
		if err != nil {
			t.Fatalf("store.AddCorpusArticle: %v", err)
		}
		urls = append(urls, u)
	}
	return urls
}

// NewJob creates a queued DISCOVER job.
func NewJob(t testing.TB, store *storage.Store, userID, period, topicID string, createdAt time.Time) *domain.Job {
	t.Helper()

	job := &domain.Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Period:    period,
		TopicID:   topicID,
		Status:    domain.StatusQueued,
		State:     domain.NewJobState(),
		CreatedAt: createdAt,
	}
	created, err := store.CreateJob(context.Background(), job)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	if !created {
		t.Fatalf("job for %s/%s already exists", userID, period)
	}
	return job
}
