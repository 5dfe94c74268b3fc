package store

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// TopicNames returns every known topic name in alphabetical order.
func (s *Store) TopicNames(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, s.sb.Select("name").From("topics").OrderBy("name"))
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// EnsureTopics inserts the names that do not exist yet, in one statement per
// batch, and returns the id of every requested name.
func (s *Store) EnsureTopics(ctx context.Context, names []string) (map[string]int64, error) {
	unique := dedupe(names)
	ids := make(map[string]int64, len(unique))
	if len(unique) == 0 {
		return ids, nil
	}

	for _, batch := range chunk(unique, keyBatchSize) {
		insert := s.sb.Insert("topics").Columns("name")
		for _, name := range batch {
			insert = insert.Values(name)
		}
		insert = insert.Suffix("ON CONFLICT (name) DO NOTHING")
		if _, err := s.exec(ctx, insert); err != nil {
			return nil, fmt.Errorf("failed to insert topics: %w", err)
		}

		rows, err := s.query(ctx, s.sb.Select("id", "name").From("topics").Where(sq.Eq{"name": batch}))
		if err != nil {
			return nil, fmt.Errorf("failed to load topic ids: %w", err)
		}
		for rows.Next() {
			var (
				id   int64
				name string
			)
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan topic: %w", err)
			}
			ids[name] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to load topic ids: %w", err)
		}
	}
	return ids, nil
}

// LinkPostTopics associates topics with a post. Existing links are kept.
func (s *Store) LinkPostTopics(ctx context.Context, postID int64, topicIDs []int64) error {
	if len(topicIDs) == 0 {
		return nil
	}
	insert := s.sb.Insert("post_topics").Columns("post_id", "topic_id")
	seen := make(map[int64]bool, len(topicIDs))
	for _, id := range topicIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		insert = insert.Values(postID, id)
	}
	insert = insert.Suffix("ON CONFLICT (post_id, topic_id) DO NOTHING")
	if _, err := s.exec(ctx, insert); err != nil {
		return fmt.Errorf("failed to link topics to post %d: %w", postID, err)
	}
	return nil
}

// PostTopics returns the topic names linked to a post.
func (s *Store) PostTopics(ctx context.Context, postID int64) ([]string, error) {
	q := s.sb.Select("t.name").
		From("topics t").
		Join("post_topics pt ON pt.topic_id = t.id").
		Where(sq.Eq{"pt.post_id": postID}).
		OrderBy("t.name")
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load topics for post %d: %w", postID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
