package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/urls"
)

const keyBatchSize = 500

// Fields are the derived post columns that may be filled in later.
// Zero values mean "nothing to write".
type Fields struct {
	FullText    string
	Summary     string
	Density     int
	ReadingTime int
}

// Empty reports whether there is nothing to write.
func (f Fields) Empty() bool {
	return f.FullText == "" && !f.hasSummary() && f.ReadingTime <= 0
}

// hasSummary requires the density alongside the summary so the pair is
// always written together.
func (f Fields) hasSummary() bool {
	return f.Summary != "" && f.Density >= 1 && f.Density <= 3
}

// FieldsFrom picks the writable fields of a processing result.
func FieldsFrom(r domain.ProcessingResult) Fields {
	return Fields{
		FullText:    r.Text,
		Summary:     r.Summary,
		Density:     r.Density,
		ReadingTime: r.ReadingTime,
	}
}

// ExistingKeys returns the subset of keys already stored.
func (s *Store) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, batch := range chunk(keys, keyBatchSize) {
		rows, err := s.query(ctx, s.sb.Select("url_key").From("posts").Where(sq.Eq{"url_key": batch}))
		if err != nil {
			return nil, fmt.Errorf("failed to query existing posts: %w", err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan post key: %w", err)
			}
			found[key] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read existing posts: %w", err)
		}
	}
	return found, nil
}

// SavePost inserts a post keyed on its normalized URL. When the URL is
// already stored nothing is overwritten; only fields still empty on the
// stored row are filled. It returns the post id and whether a row was created.
func (s *Store) SavePost(ctx context.Context, sourceID int64, r domain.ProcessingResult) (int64, bool, error) {
	key, err := urls.Key(r.Stub.URL)
	if err != nil {
		return 0, false, err
	}

	f := FieldsFrom(r)
	summary, density := "", domain.DensityUnset
	if f.hasSummary() {
		summary, density = f.Summary, f.Density
	}

	insert := s.sb.Insert("posts").
		Columns("source_id", "title", "url", "url_key", "published_at", "discovered_at",
			"full_text", "summary", "technical_density", "reading_time").
		Values(sourceID, r.Stub.Title, r.Stub.URL, key, nullTime(r.Stub.Date), s.now(),
			nullText(f.FullText), nullText(summary), density, nullInt(f.ReadingTime)).
		Suffix("ON CONFLICT (url_key) DO NOTHING RETURNING id")

	row, err := s.queryRow(ctx, insert)
	if err != nil {
		return 0, false, err
	}
	var id int64
	switch err := row.Scan(&id); {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("failed to insert post: %w", err)
	}

	id, err = s.postIDByKey(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if _, err := s.FillMissing(ctx, id, f); err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (s *Store) postIDByKey(ctx context.Context, key string) (int64, error) {
	row, err := s.queryRow(ctx, s.sb.Select("id").From("posts").Where(sq.Eq{"url_key": key}))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to look up post: %w", err)
	}
	return id, nil
}

// FillMissing writes f into post id, column by column, only where the
// stored value is still empty (NULL, empty or the unset density). Calling it
// again with any values is a no-op for columns already filled.
func (s *Store) FillMissing(ctx context.Context, id int64, f Fields) (bool, error) {
	if f.Empty() {
		return false, nil
	}

	update := s.sb.Update("posts").Where(sq.Eq{"id": id})
	if f.FullText != "" {
		update = update.Set("full_text", sq.Expr("COALESCE(NULLIF(full_text, ''), ?)", f.FullText))
	}
	if f.hasSummary() {
		update = update.
			Set("technical_density", sq.Expr(
				"CASE WHEN summary IS NULL OR summary = '' OR technical_density = -1 THEN ? ELSE technical_density END", f.Density)).
			Set("summary", sq.Expr("COALESCE(NULLIF(summary, ''), ?)", f.Summary))
	}
	if f.ReadingTime > 0 {
		update = update.Set("reading_time", sq.Expr("COALESCE(reading_time, ?)", f.ReadingTime))
	}

	res, err := s.exec(ctx, update)
	if err != nil {
		return false, fmt.Errorf("failed to fill post %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to fill post %d: %w", id, err)
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return true, nil
}

var postColumns = []string{
	"p.id", "p.source_id", "p.title", "p.url", "p.url_key", "p.published_at", "p.discovered_at",
	"p.full_text", "p.summary", "p.technical_density", "p.reading_time",
}

func scanPost(r rowScanner) (domain.Post, error) {
	var (
		p         domain.Post
		published sql.NullTime
		fullText  sql.NullString
		summary   sql.NullString
		reading   sql.NullInt64
	)
	err := r.Scan(&p.ID, &p.SourceID, &p.Title, &p.URL, &p.URLKey, &published, &p.DiscoveredAt,
		&fullText, &summary, &p.TechnicalDensity, &reading)
	if err != nil {
		return domain.Post{}, err
	}
	p.PublishedAt = timePtr(published)
	p.DiscoveredAt = p.DiscoveredAt.UTC()
	p.FullText = fullText.String
	p.Summary = summary.String
	p.ReadingTime = int(reading.Int64)
	return p, nil
}

// GetPost loads a post with its topic names.
func (s *Store) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	row, err := s.queryRow(ctx, s.sb.Select(postColumns...).From("posts p").Where(sq.Eq{"p.id": id}))
	if err != nil {
		return domain.Post{}, err
	}
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Post{}, ErrNotFound
		}
		return domain.Post{}, fmt.Errorf("failed to load post %d: %w", id, err)
	}
	p.Topics, err = s.PostTopics(ctx, id)
	if err != nil {
		return domain.Post{}, err
	}
	return p, nil
}

// ListPosts returns the newest posts, optionally for one source (sourceID > 0).
func (s *Store) ListPosts(ctx context.Context, sourceID int64, limit int) ([]domain.Post, error) {
	q := s.sb.Select(postColumns...).From("posts p").OrderBy("p.discovered_at DESC", "p.id DESC")
	if sourceID > 0 {
		q = q.Where(sq.Eq{"p.source_id": sourceID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
