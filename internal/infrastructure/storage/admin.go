package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"ResearchBrief/internal/domain"
)

// The helpers below write the directory and corpus tables. Production data
// arrives from neighbouring systems; these serve seeding and tests.

// CorpusArticle is one ingested document together with its topic matches.
type CorpusArticle struct {
	ID          string
	URL         string
	Title       string
	Snippet     string
	SourceName  string
	PublishedAt time.Time
	// TopicScores is the precomputed relevance per topic id.
	TopicScores map[string]float64
}

// UpsertTopic creates or replaces a topic.
func (s *Store) UpsertTopic(ctx context.Context, topic domain.Topic) error {
	if strings.TrimSpace(topic.ID) == "" {
		return errors.New("upsert topic: id is required")
	}
	_, err := s.exec(ctx, s.sb.Insert("topics").
		Columns("id", "label", "keywords").
		Values(topic.ID, topic.Label, strings.Join(topic.Keywords, "\n")).
		Suffix("ON CONFLICT (id) DO UPDATE SET label = excluded.label, keywords = excluded.keywords"))
	if err != nil {
		return fmt.Errorf("upsert topic %s: %w", topic.ID, err)
	}
	return nil
}

// UpsertUser creates or replaces a user and its ordered topic list.
func (s *Store) UpsertUser(ctx context.Context, user domain.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("upsert user: id is required")
	}
	var weekday any
	if user.ResearchWeekday != nil {
		weekday = int(*user.ResearchWeekday)
	}
	_, err := s.exec(ctx, s.sb.Insert("users").
		Columns("id", "email", "chat_id", "enabled", "max_sources", "research_weekday").
		Values(user.ID, user.Email, user.ChatID, boolToInt(user.Enabled), user.MaxSources, weekday).
		Suffix(`ON CONFLICT (id) DO UPDATE SET email = excluded.email, chat_id = excluded.chat_id, enabled = excluded.enabled,
			max_sources = excluded.max_sources, research_weekday = excluded.research_weekday`))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", user.ID, err)
	}

	if _, err := s.exec(ctx, s.sb.Delete("user_topics").Where(sq.Eq{"user_id": user.ID})); err != nil {
		return fmt.Errorf("clear user topics %s: %w", user.ID, err)
	}
	for i, topicID := range user.TopicIDs {
		if _, err := s.exec(ctx, s.sb.Insert("user_topics").
			Columns("user_id", "topic_id", "position").
			Values(user.ID, topicID, i).
			Suffix("ON CONFLICT (user_id, topic_id) DO NOTHING")); err != nil {
			return fmt.Errorf("insert user topic %s/%s: %w", user.ID, topicID, err)
		}
	}
	return nil
}

// AddCorpusArticle stores an article and its relevance index rows.
func (s *Store) AddCorpusArticle(ctx context.Context, article CorpusArticle) (string, error) {
	id := article.ID
	if id == "" {
		id = uuid.NewString()
	}
	published := article.PublishedAt
	if published.IsZero() {
		published = time.Now().UTC()
	}
	_, err := s.exec(ctx, s.sb.Insert("corpus_articles").
		Columns("id", "url", "title", "snippet", "source_name", "published_at").
		Values(id, article.URL, article.Title, article.Snippet, article.SourceName, formatTime(published)).
		Suffix("ON CONFLICT (id) DO NOTHING"))
	if err != nil {
		return "", fmt.Errorf("insert corpus article: %w", err)
	}
	for topicID, score := range article.TopicScores {
		if _, err := s.exec(ctx, s.sb.Insert("corpus_topic_matches").
			Columns("article_id", "topic_id", "score").
			Values(id, topicID, score).
			Suffix("ON CONFLICT (article_id, topic_id) DO UPDATE SET score = excluded.score")); err != nil {
			return "", fmt.Errorf("insert topic match: %w", err)
		}
	}
	return id, nil
}

// SetSourceTier assigns a quality tier to a host and its subdomains.
func (s *Store) SetSourceTier(ctx context.Context, host string, tier int) error {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
	_, err := s.exec(ctx, s.sb.Insert("source_tiers").
		Columns("host", "tier").
		Values(host, tier).
		Suffix("ON CONFLICT (host) DO UPDATE SET tier = excluded.tier"))
	if err != nil {
		return fmt.Errorf("set source tier %s: %w", host, err)
	}
	return nil
}

// AddBlockedHost adds a host pattern to the blocklist.
func (s *Store) AddBlockedHost(ctx context.Context, pattern string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	_, err := s.exec(ctx, s.sb.Insert("blocked_hosts").
		Columns("pattern").
		Values(pattern).
		Suffix("ON CONFLICT (pattern) DO NOTHING"))
	if err != nil {
		return fmt.Errorf("add blocked host %s: %w", pattern, err)
	}
	return nil
}

// OverwriteJobState stores a raw state document without validating it. It is
// meant for hand repairs; a document the orchestrator cannot use is reset to
// DISCOVER on the next step.
func (s *Store) OverwriteJobState(ctx context.Context, jobID, raw string) error {
	res, err := s.exec(ctx, s.sb.Update("jobs").
		Set("state", raw).
		Set("updated_at", formatTime(time.Now().UTC())).
		Where(sq.Eq{"id": jobID}))
	if err != nil {
		return fmt.Errorf("overwrite state of job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("overwrite state rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("overwrite state of job %s: %w", jobID, domain.ErrNotFound)
	}
	return nil
}
