package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forgemirror/mirror-layer/internal/app/domain/event"
)

type eventRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Channel   string    `db:"channel"`
	Payload   []byte    `db:"payload"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

func (r eventRow) toDomain() event.Event {
	return event.Event{
		ID:        r.ID,
		UserID:    r.UserID,
		Channel:   r.Channel,
		Payload:   r.Payload,
		Read:      r.Read,
		CreatedAt: r.CreatedAt,
	}
}

func (s *Store) AppendEvent(ctx context.Context, e event.Event) (event.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, channel, payload, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, e.Channel, e.Payload, e.Read, e.CreatedAt)
	if err != nil {
		return event.Event{}, err
	}
	return e, nil
}

func (s *Store) ListEventsSince(ctx context.Context, userID string, since time.Time, limit int) ([]event.Event, error) {
	query := eventSelect + ` WHERE user_id = $1 AND created_at > $2 ORDER BY created_at`
	args := []any{userID, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toEventDomainList(rows), nil
}

func (s *Store) ListEvents(ctx context.Context, userID string, limit int) ([]event.Event, error) {
	query := eventSelect + ` WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toEventDomainList(rows), nil
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET read = true WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteEventsOlderThan(ctx context.Context, userID string, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = $1 AND created_at < $2`, userID, before)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *Store) DeleteAllEventsForUser(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

const eventSelect = `
	SELECT id, user_id, channel, payload, read, created_at
	FROM events
`

func toEventDomainList(rows []eventRow) []event.Event {
	result := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result
}
