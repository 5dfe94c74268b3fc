package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"blog-monitor/pkg/domain"
)

// BackfillFilter selects posts with at least one missing derived field.
type BackfillFilter struct {
	PostID       int64     // a single post, 0 for any
	Since        time.Time // discovered at or after, zero for any
	FullTextOnly bool      // only posts whose full text is missing
	Limit        int
}

// Candidate is a stored post together with the fields it is missing.
type Candidate struct {
	Post         domain.Post
	NeedsText    bool
	NeedsSummary bool
	NeedsReading bool
	NeedsTopics  bool
}

// Complete reports whether nothing is missing.
func (c Candidate) Complete() bool {
	return !c.NeedsText && !c.NeedsSummary && !c.NeedsReading && !c.NeedsTopics
}

const missingSummary = "(p.summary IS NULL OR p.summary = '' OR p.technical_density = -1)"

// BackfillCandidates returns posts that still miss full text, summary,
// reading time or topics, oldest first.
func (s *Store) BackfillCandidates(ctx context.Context, f BackfillFilter) ([]Candidate, error) {
	cols := append(append([]string{}, postColumns...),
		"(SELECT COUNT(*) FROM post_topics pt WHERE pt.post_id = p.id) AS topic_count")
	q := s.sb.Select(cols...).From("posts p").OrderBy("p.discovered_at", "p.id")

	if f.PostID > 0 {
		q = q.Where(sq.Eq{"p.id": f.PostID})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"p.discovered_at": f.Since.UTC()})
	}
	if f.FullTextOnly {
		q = q.Where("(p.full_text IS NULL OR p.full_text = '')")
	} else {
		q = q.Where(sq.Or{
			sq.Expr("(p.full_text IS NULL OR p.full_text = '')"),
			sq.Expr(missingSummary),
			sq.Expr("p.reading_time IS NULL"),
			sq.Expr("NOT EXISTS (SELECT 1 FROM post_topics pt WHERE pt.post_id = p.id)"),
		})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to select backfill candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var topics int
		p, err := scanPost(withTail(rows, &topics))
		if err != nil {
			return nil, fmt.Errorf("failed to scan backfill candidate: %w", err)
		}
		out = append(out, Candidate{
			Post:         p,
			NeedsText:    p.FullText == "",
			NeedsSummary: p.Summary == "" || p.TechnicalDensity == domain.DensityUnset,
			NeedsReading: p.ReadingTime <= 0,
			NeedsTopics:  topics == 0,
		})
	}
	return out, rows.Err()
}

// tailScanner appends extra destinations after the ones a scan function supplies.
type tailScanner struct {
	r    rowScanner
	tail []any
}

func withTail(r rowScanner, tail ...any) rowScanner {
	return tailScanner{r: r, tail: tail}
}

func (t tailScanner) Scan(dest ...any) error {
	return t.r.Scan(append(dest, t.tail...)...)
}
