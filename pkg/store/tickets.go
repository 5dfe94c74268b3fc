package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"blog-monitor/pkg/domain"
)

// OpenTicket records a ticket against a source and returns its id.
func (s *Store) OpenTicket(ctx context.Context, sourceID int64, message, actor string) (int64, error) {
	insert := s.sb.Insert("tickets").
		Columns("source_id", "message", "opened_by", "created_at").
		Values(sourceID, message, actor, s.now()).
		Suffix("RETURNING id")
	row, err := s.queryRow(ctx, insert)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to open ticket for source %d: %w", sourceID, err)
	}
	return id, nil
}

// ResolveTicket marks an open ticket resolved.
func (s *Store) ResolveTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	update := s.sb.Update("tickets").
		Set("resolved_at", s.now()).
		Where(sq.Eq{"id": id}).
		Where("resolved_at IS NULL")
	res, err := s.exec(ctx, update)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to resolve ticket %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Ticket{}, fmt.Errorf("failed to resolve ticket %d: %w", id, err)
	} else if n == 0 {
		return domain.Ticket{}, fmt.Errorf("open ticket %d: %w", id, ErrNotFound)
	}
	return s.GetTicket(ctx, id)
}

// GetTicket loads a ticket by id.
func (s *Store) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	row, err := s.queryRow(ctx, s.sb.Select(ticketColumns...).From("tickets").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Ticket{}, err
	}
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
		}
		return domain.Ticket{}, fmt.Errorf("failed to load ticket %d: %w", id, err)
	}
	return t, nil
}

// OpenTicketFor returns the unresolved ticket of a source, if any.
func (s *Store) OpenTicketFor(ctx context.Context, sourceID int64) (*domain.Ticket, error) {
	q := s.sb.Select(ticketColumns...).From("tickets").
		Where(sq.Eq{"source_id": sourceID}).
		Where("resolved_at IS NULL").
		OrderBy("id DESC").
		Limit(1)
	row, err := s.queryRow(ctx, q)
	if err != nil {
		return nil, err
	}
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load tickets for source %d: %w", sourceID, err)
	}
	return &t, nil
}

// ListTickets returns the tickets of a source (all sources when sourceID is 0).
func (s *Store) ListTickets(ctx context.Context, sourceID int64, openOnly bool) ([]domain.Ticket, error) {
	q := s.sb.Select(ticketColumns...).From("tickets").OrderBy("id")
	if sourceID > 0 {
		q = q.Where(sq.Eq{"source_id": sourceID})
	}
	if openOnly {
		q = q.Where("resolved_at IS NULL")
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

var ticketColumns = []string{"id", "source_id", "message", "opened_by", "created_at", "resolved_at"}

func scanTicket(r rowScanner) (domain.Ticket, error) {
	var (
		t        domain.Ticket
		resolved sql.NullTime
	)
	if err := r.Scan(&t.ID, &t.SourceID, &t.Message, &t.OpenedBy, &t.CreatedAt, &resolved); err != nil {
		return domain.Ticket{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ResolvedAt = timePtr(resolved)
	return t, nil
}
