package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

var _ ports.Directory = (*Store)(nil)

var userColumns = []string{"id", "email", "chat_id", "enabled", "max_sources", "research_weekday"}

// GetTopic returns nil when the topic does not exist.
func (s *Store) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	row, err := s.queryRow(ctx, s.sb.Select("id", "label", "keywords").From("topics").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	var (
		topic    domain.Topic
		keywords string
	)
	err = row.Scan(&topic.ID, &topic.Label, &keywords)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get topic %s: %w", id, err)
	}
	topic.Keywords = splitKeywords(keywords)
	return &topic, nil
}

// GetUser returns nil when the user does not exist.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row, err := s.queryRow(ctx, s.sb.Select(userColumns...).From("users").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	topics, err := s.userTopics(ctx, []string{user.ID})
	if err != nil {
		return nil, err
	}
	user.TopicIDs = topics[user.ID]
	return user, nil
}

// ListEnabledUsers returns enabled users with their topics in preference order.
func (s *Store) ListEnabledUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.query(ctx, s.sb.Select(userColumns...).
		From("users").
		Where(sq.Eq{"enabled": 1}).
		OrderBy("id ASC"))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	if len(users) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	topics, err := s.userTopics(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].TopicIDs = topics[users[i].ID]
	}
	return users, nil
}

func (s *Store) userTopics(ctx context.Context, userIDs []string) (map[string][]string, error) {
	rows, err := s.query(ctx, s.sb.Select("user_id", "topic_id").
		From("user_topics").
		Where(sq.Eq{"user_id": userIDs}).
		OrderBy("user_id ASC", "position ASC", "topic_id ASC"))
	if err != nil {
		return nil, fmt.Errorf("query user topics: %w", err)
	}

	result := make(map[string][]string, len(userIDs))
	for rows.Next() {
		var userID, topicID string
		if err := rows.Scan(&userID, &topicID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan user topic: %w", err)
		}
		result[userID] = append(result[userID], topicID)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return result, nil
}

func scanUser(row scanner) (*domain.User, error) {
	var (
		user    domain.User
		enabled int
		weekday sql.NullInt64
	)
	if err := row.Scan(&user.ID, &user.Email, &user.ChatID, &enabled, &user.MaxSources, &weekday); err != nil {
		return nil, err
	}
	user.Enabled = enabled != 0
	if weekday.Valid && weekday.Int64 >= 0 && weekday.Int64 <= 6 {
		d := time.Weekday(weekday.Int64)
		user.ResearchWeekday = &d
	}
	return &user, nil
}

func splitKeywords(raw string) []string {
	var out []string
	for _, kw := range strings.Split(raw, "\n") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
