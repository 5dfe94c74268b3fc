package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"blog-monitor/pkg/domain"
)

// SourceFilter narrows ListSources.
type SourceFilter struct {
	UsableOnly      bool
	ExcludeTicketed bool // skip sources with an unresolved ticket
}

var sourceColumns = []string{
	"s.id", "s.name", "s.url", "s.extraction_schema", "s.proposed_schema", "s.schema_validated",
	"s.feed_url", "s.usable", "s.refinement_attempts", "s.last_checked_at", "s.created_at",
	"s.last_modified_by", "s.last_modified_at",
}

func scanSource(r rowScanner) (domain.Source, error) {
	var (
		src      domain.Source
		schema   sql.NullString
		proposed sql.NullString
		usable   bool
		checked  sql.NullTime
	)
	err := r.Scan(&src.ID, &src.Name, &src.URL, &schema, &proposed, &src.SchemaValidated,
		&src.FeedURL, &usable, &src.RefinementAttempts, &checked, &src.CreatedAt,
		&src.LastModifiedBy, &src.LastModifiedAt)
	if err != nil {
		return domain.Source{}, err
	}
	if schema.Valid {
		src.Schema = []byte(schema.String)
	}
	if proposed.Valid {
		src.ProposedSchema = []byte(proposed.String)
	}
	src.Health = domain.Unusable
	if usable {
		src.Health = domain.Usable
	}
	src.LastCheckedAt = timePtr(checked)
	src.CreatedAt = src.CreatedAt.UTC()
	src.LastModifiedAt = src.LastModifiedAt.UTC()
	return src, nil
}

// CreateSource registers a new source. It returns ErrDuplicateSource when
// the URL is already registered.
func (s *Store) CreateSource(ctx context.Context, src domain.Source) (int64, error) {
	now := s.now()
	insert := s.sb.Insert("sources").
		Columns("name", "url", "extraction_schema", "proposed_schema", "schema_validated", "feed_url",
			"usable", "refinement_attempts", "created_at", "last_modified_by", "last_modified_at").
		Values(src.Name, src.URL, nullBytes(src.Schema), nullBytes(src.ProposedSchema), src.SchemaValidated,
			src.FeedURL, src.IsUsable(), src.RefinementAttempts, now, src.LastModifiedBy, now).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id")

	row, err := s.queryRow(ctx, insert)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateSource, src.URL)
		}
		return 0, fmt.Errorf("failed to create source: %w", err)
	}
	return id, nil
}

// GetSource loads one source by id.
func (s *Store) GetSource(ctx context.Context, id int64) (domain.Source, error) {
	row, err := s.queryRow(ctx, s.sb.Select(sourceColumns...).From("sources s").Where(sq.Eq{"s.id": id}))
	if err != nil {
		return domain.Source{}, err
	}
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Source{}, fmt.Errorf("source %d: %w", id, ErrNotFound)
		}
		return domain.Source{}, fmt.Errorf("failed to load source %d: %w", id, err)
	}
	return src, nil
}

// ListSources returns sources ordered by id.
func (s *Store) ListSources(ctx context.Context, f SourceFilter) ([]domain.Source, error) {
	q := s.sb.Select(sourceColumns...).From("sources s").OrderBy("s.id")
	if f.UsableOnly {
		q = q.Where(sq.Eq{"s.usable": true})
	}
	if f.ExcludeTicketed {
		q = q.Where("NOT EXISTS (SELECT 1 FROM tickets t WHERE t.source_id = s.id AND t.resolved_at IS NULL)")
	}

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpdateSourceHealth sets the usable flag without touching the modifier.
func (s *Store) UpdateSourceHealth(ctx context.Context, id int64, health domain.Health) error {
	return s.updateSource(ctx, id, s.sb.Update("sources").Set("usable", health == domain.Usable))
}

// UpdateSourceLastChecked records when the source was last checked.
func (s *Store) UpdateSourceLastChecked(ctx context.Context, id int64) error {
	return s.updateSource(ctx, id, s.sb.Update("sources").Set("last_checked_at", s.now()))
}

// SetSchemaValidated records whether the current schema produced posts
// when last validated. The modifier and modification time are kept.
func (s *Store) SetSchemaValidated(ctx context.Context, id int64, ok bool) error {
	return s.updateSource(ctx, id, s.sb.Update("sources").Set("schema_validated", ok))
}

// SaveSource writes the mutable lifecycle fields of src and stamps the
// modification time. The modifier is taken from src.LastModifiedBy.
func (s *Store) SaveSource(ctx context.Context, src domain.Source) (domain.Source, error) {
	now := s.now()
	update := s.sb.Update("sources").
		Set("name", src.Name).
		Set("extraction_schema", nullBytes(src.Schema)).
		Set("proposed_schema", nullBytes(src.ProposedSchema)).
		Set("schema_validated", src.SchemaValidated).
		Set("feed_url", src.FeedURL).
		Set("usable", src.IsUsable()).
		Set("refinement_attempts", src.RefinementAttempts).
		Set("last_modified_by", src.LastModifiedBy).
		Set("last_modified_at", now)
	if err := s.updateSource(ctx, src.ID, update); err != nil {
		return domain.Source{}, err
	}
	src.LastModifiedAt = now
	return src, nil
}

func (s *Store) updateSource(ctx context.Context, id int64, update sq.UpdateBuilder) error {
	res, err := s.exec(ctx, update.Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("failed to update source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update source %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return nil
}
