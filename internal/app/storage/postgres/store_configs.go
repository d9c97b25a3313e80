package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
)

type configRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	IsActive    bool      `db:"is_active"`
	Source      []byte    `db:"source"`
	Destination []byte    `db:"destination"`
	Mirror      []byte    `db:"mirror"`
	Options     []byte    `db:"options"`
	Schedule    []byte    `db:"schedule"`
	Cleanup     []byte    `db:"cleanup"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r configRow) toDomain() (config.Configuration, error) {
	cfg := config.Configuration{
		ID:        r.ID,
		UserID:    r.UserID,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := unmarshalIfPresent(r.Source, &cfg.Source); err != nil {
		return config.Configuration{}, err
	}
	if err := unmarshalIfPresent(r.Destination, &cfg.Destination); err != nil {
		return config.Configuration{}, err
	}
	if err := unmarshalIfPresent(r.Mirror, &cfg.Mirror); err != nil {
		return config.Configuration{}, err
	}
	if err := unmarshalIfPresent(r.Options, &cfg.Options); err != nil {
		return config.Configuration{}, err
	}
	if err := unmarshalIfPresent(r.Schedule, &cfg.Schedule); err != nil {
		return config.Configuration{}, err
	}
	if err := unmarshalIfPresent(r.Cleanup, &cfg.Cleanup); err != nil {
		return config.Configuration{}, err
	}
	return cfg, nil
}

func unmarshalIfPresent(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

func (s *Store) CreateConfig(ctx context.Context, cfg config.Configuration) (config.Configuration, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return config.Configuration{}, err
	}
	defer tx.Rollback()

	if cfg.IsActive {
		if _, err := tx.ExecContext(ctx, `UPDATE configs SET is_active = false WHERE user_id = $1`, cfg.UserID); err != nil {
			return config.Configuration{}, err
		}
	}

	source, _ := json.Marshal(cfg.Source)
	destination, _ := json.Marshal(cfg.Destination)
	mirror, _ := json.Marshal(cfg.Mirror)
	options, _ := json.Marshal(cfg.Options)
	schedule, _ := json.Marshal(cfg.Schedule)
	cleanup, _ := json.Marshal(cfg.Cleanup)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO configs (id, user_id, is_active, source, destination, mirror, options, schedule, cleanup, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, cfg.ID, cfg.UserID, cfg.IsActive, source, destination, mirror, options, schedule, cleanup, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return config.Configuration{}, err
	}
	if err := tx.Commit(); err != nil {
		return config.Configuration{}, err
	}
	return cfg, nil
}

func (s *Store) UpdateConfig(ctx context.Context, cfg config.Configuration) (config.Configuration, error) {
	existing, err := s.GetConfig(ctx, cfg.ID)
	if err != nil {
		return config.Configuration{}, err
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return config.Configuration{}, err
	}
	defer tx.Rollback()

	if cfg.IsActive {
		if _, err := tx.ExecContext(ctx, `UPDATE configs SET is_active = false WHERE user_id = $1 AND id != $2`, cfg.UserID, cfg.ID); err != nil {
			return config.Configuration{}, err
		}
	}

	source, _ := json.Marshal(cfg.Source)
	destination, _ := json.Marshal(cfg.Destination)
	mirror, _ := json.Marshal(cfg.Mirror)
	options, _ := json.Marshal(cfg.Options)
	schedule, _ := json.Marshal(cfg.Schedule)
	cleanup, _ := json.Marshal(cfg.Cleanup)

	result, err := tx.ExecContext(ctx, `
		UPDATE configs SET is_active = $2, source = $3, destination = $4, mirror = $5,
			options = $6, schedule = $7, cleanup = $8, updated_at = $9
		WHERE id = $1
	`, cfg.ID, cfg.IsActive, source, destination, mirror, options, schedule, cleanup, cfg.UpdatedAt)
	if err != nil {
		return config.Configuration{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return config.Configuration{}, sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return config.Configuration{}, err
	}
	return cfg, nil
}

func (s *Store) GetConfig(ctx context.Context, id string) (config.Configuration, error) {
	var row configRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, is_active, source, destination, mirror, options, schedule, cleanup, created_at, updated_at
		FROM configs WHERE id = $1
	`, id)
	if err != nil {
		return config.Configuration{}, err
	}
	return row.toDomain()
}

func (s *Store) GetActiveConfig(ctx context.Context, userID string) (config.Configuration, error) {
	var row configRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, is_active, source, destination, mirror, options, schedule, cleanup, created_at, updated_at
		FROM configs WHERE user_id = $1 AND is_active = true
	`, userID)
	if err != nil {
		return config.Configuration{}, err
	}
	return row.toDomain()
}

func (s *Store) ListConfigs(ctx context.Context, userID string) ([]config.Configuration, error) {
	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, is_active, source, destination, mirror, options, schedule, cleanup, created_at, updated_at
		FROM configs WHERE user_id = $1 ORDER BY created_at
	`, userID); err != nil {
		return nil, err
	}
	result := make([]config.Configuration, 0, len(rows))
	for _, r := range rows {
		cfg, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, nil
}

// ListActiveSchedules returns every active configuration with scheduling
// enabled, across all users. schedule is an opaque JSON blob column so the
// enabled filter is applied after decode rather than in SQL.
func (s *Store) ListActiveSchedules(ctx context.Context) ([]config.Configuration, error) {
	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, is_active, source, destination, mirror, options, schedule, cleanup, created_at, updated_at
		FROM configs WHERE is_active = true
	`); err != nil {
		return nil, err
	}
	result := make([]config.Configuration, 0, len(rows))
	for _, r := range rows {
		cfg, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		if cfg.Schedule.Enabled {
			result = append(result, cfg)
		}
	}
	return result, nil
}

// SetActive flips exactly one configuration to active within a transaction,
// enforcing invariant 4 ("at most one Config has isActive=true").
func (s *Store) SetActive(ctx context.Context, userID, configID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE configs SET is_active = false WHERE user_id = $1`, userID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE configs SET is_active = true, updated_at = $3 WHERE id = $1 AND user_id = $2
	`, configID, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
