package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/net/publicsuffix"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

var _ ports.Corpus = (*Store)(nil)

const corpusCandidateLimit = 200

var candidateColumns = []string{"a.url", "a.title", "a.source_name", "a.snippet", "a.published_at"}

// RecentCandidates returns corpus articles published since the cutoff, newest
// first. The precomputed relevance index is preferred; when it has nothing for
// the topic a keyword containment search over titles and snippets is used.
func (s *Store) RecentCandidates(ctx context.Context, topic domain.Topic, since time.Time) ([]domain.Candidate, error) {
	indexed, err := s.listCandidates(ctx, s.sb.Select(candidateColumns...).
		From("corpus_articles a").
		Join("corpus_topic_matches m ON m.article_id = a.id").
		Where(sq.Eq{"m.topic_id": topic.ID}).
		Where(sq.GtOrEq{"a.published_at": formatTime(since)}).
		OrderBy("a.published_at DESC", "m.score DESC", "a.id ASC").
		Limit(corpusCandidateLimit))
	if err != nil {
		return nil, err
	}
	if len(indexed) > 0 {
		return indexed, nil
	}

	terms := keywordTerms(topic)
	if len(terms) == 0 {
		return nil, nil
	}
	match := sq.Or{}
	for _, term := range terms {
		pattern := "%" + term + "%"
		match = append(match,
			sq.Like{"LOWER(a.title)": pattern},
			sq.Like{"LOWER(a.snippet)": pattern},
		)
	}
	return s.listCandidates(ctx, s.sb.Select(candidateColumns...).
		From("corpus_articles a").
		Where(sq.GtOrEq{"a.published_at": formatTime(since)}).
		Where(match).
		OrderBy("a.published_at DESC", "a.id ASC").
		Limit(corpusCandidateLimit))
}

// SourceQualityTier returns the tier of the most specific configured host
// matching the URL, or the default tier. Lower is better.
func (s *Store) SourceQualityTier(ctx context.Context, rawURL string) (int, error) {
	hosts := hostLadder(rawURL)
	if len(hosts) == 0 {
		return s.defaultTier, nil
	}
	rows, err := s.query(ctx, s.sb.Select("host", "tier").From("source_tiers").Where(sq.Eq{"host": hosts}))
	if err != nil {
		return 0, fmt.Errorf("query source tier: %w", err)
	}

	best, bestLen := s.defaultTier, -1
	for rows.Next() {
		var (
			host string
			tier int
		)
		if err := rows.Scan(&host, &tier); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan source tier: %w", err)
		}
		if len(host) > bestLen {
			best, bestLen = tier, len(host)
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return 0, fmt.Errorf("close rows: %w", closeErr)
	}
	return best, nil
}

// BlockedHostPatterns lists the host blocklist.
func (s *Store) BlockedHostPatterns(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, s.sb.Select("pattern").From("blocked_hosts").OrderBy("pattern ASC"))
	if err != nil {
		return nil, fmt.Errorf("query blocked hosts: %w", err)
	}

	var patterns []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan blocked host: %w", err)
		}
		patterns = append(patterns, p)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return patterns, nil
}

func (s *Store) listCandidates(ctx context.Context, builder sq.SelectBuilder) ([]domain.Candidate, error) {
	rows, err := s.query(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	var candidates []domain.Candidate
	for rows.Next() {
		var (
			c         domain.Candidate
			published sql.NullString
		)
		if err := rows.Scan(&c.URL, &c.Title, &c.SourceName, &c.Snippet, &published); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.PublishedAt = parseTimePtr(published)
		candidates = append(candidates, c)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return candidates, nil
}

func keywordTerms(topic domain.Topic) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, raw := range append([]string{topic.Label}, topic.Keywords...) {
		term := strings.ToLower(strings.TrimSpace(raw))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

// hostLadder returns the URL host and each parent domain, most specific first.
func hostLadder(rawURL string) []string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return nil
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return []string{host}
	}
	ladder := []string{host}
	for host != root {
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			break
		}
		host = host[dot+1:]
		ladder = append(ladder, host)
	}
	return ladder
}
