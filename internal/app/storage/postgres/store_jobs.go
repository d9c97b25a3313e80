package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
)

type jobRow struct {
	ID      string `db:"id"`
	UserID  string `db:"user_id"`
	Type    string `db:"type"`
	BatchID string `db:"batch_id"`

	RepositoryID     string `db:"repository_id"`
	RepositoryName   string `db:"repository_name"`
	OrganizationID   string `db:"organization_id"`
	OrganizationName string `db:"organization_name"`

	Status string `db:"status"`

	TotalItems     int `db:"total_items"`
	CompletedItems int `db:"completed_items"`

	ItemIDsRaw          pq.StringArray `db:"item_ids"`
	CompletedItemIDsRaw pq.StringArray `db:"completed_item_ids"`

	InProgress bool `db:"in_progress"`

	StartedAt      time.Time    `db:"started_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
	LastCheckpoint time.Time    `db:"last_checkpoint"`

	Message string `db:"message"`
	Details []byte `db:"details"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r jobRow) toDomain() job.Job {
	j := job.Job{
		ID:               r.ID,
		UserID:           r.UserID,
		Type:             job.Type(r.Type),
		BatchID:          r.BatchID,
		RepositoryID:     r.RepositoryID,
		RepositoryName:   r.RepositoryName,
		OrganizationID:   r.OrganizationID,
		OrganizationName: r.OrganizationName,
		Status:           job.Status(r.Status),
		TotalItems:       r.TotalItems,
		CompletedItems:   r.CompletedItems,
		ItemIDs:          []string(r.ItemIDsRaw),
		CompletedItemIDs: []string(r.CompletedItemIDsRaw),
		InProgress:       r.InProgress,
		StartedAt:        r.StartedAt,
		LastCheckpoint:   r.LastCheckpoint,
		Message:          r.Message,
		Details:          r.Details,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	return j
}

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.StartedAt.IsZero() {
		j.StartedAt = now
	}

	var completedAt any
	if j.CompletedAt != nil {
		completedAt = *j.CompletedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, user_id, type, batch_id, repository_id, repository_name,
			organization_id, organization_name, status, total_items, completed_items,
			item_ids, completed_item_ids, in_progress, started_at, completed_at,
			last_checkpoint, message, details, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
	`,
		j.ID, j.UserID, string(j.Type), j.BatchID, j.RepositoryID, j.RepositoryName,
		j.OrganizationID, j.OrganizationName, string(j.Status), j.TotalItems, j.CompletedItems,
		pq.Array(j.ItemIDs), pq.Array(j.CompletedItemIDs), j.InProgress, j.StartedAt, completedAt,
		j.LastCheckpoint, j.Message, j.Details, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	existing, err := s.GetJob(ctx, j.ID)
	if err != nil {
		return job.Job{}, err
	}
	j.CreatedAt = existing.CreatedAt
	j.UpdatedAt = time.Now().UTC()

	var completedAt any
	if j.CompletedAt != nil {
		completedAt = *j.CompletedAt
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			type=$2, batch_id=$3, repository_id=$4, repository_name=$5,
			organization_id=$6, organization_name=$7, status=$8, total_items=$9, completed_items=$10,
			item_ids=$11, completed_item_ids=$12, in_progress=$13, started_at=$14, completed_at=$15,
			last_checkpoint=$16, message=$17, details=$18, updated_at=$19
		WHERE id = $1
	`,
		j.ID, string(j.Type), j.BatchID, j.RepositoryID, j.RepositoryName,
		j.OrganizationID, j.OrganizationName, string(j.Status), j.TotalItems, j.CompletedItems,
		pq.Array(j.ItemIDs), pq.Array(j.CompletedItemIDs), j.InProgress, j.StartedAt, completedAt,
		j.LastCheckpoint, j.Message, j.Details, j.UpdatedAt,
	)
	if err != nil {
		return job.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return job.Job{}, sql.ErrNoRows
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, jobSelect+` WHERE id = $1`, id); err != nil {
		return job.Job{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListJobs(ctx context.Context, userID string, limit int) ([]job.Job, error) {
	query := jobSelect + ` WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toJobDomainList(rows), nil
}

func (s *Store) ListJobsByBatch(ctx context.Context, batchID string) ([]job.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, jobSelect+` WHERE batch_id = $1 ORDER BY created_at`, batchID); err != nil {
		return nil, err
	}
	return toJobDomainList(rows), nil
}

func (s *Store) ListInProgressJobs(ctx context.Context) ([]job.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, jobSelect+` WHERE in_progress = true`); err != nil {
		return nil, err
	}
	return toJobDomainList(rows), nil
}

// AppendCompletedItem serializes the append-and-increment under a single-row
// transaction so concurrent checkpoint writes for the same job never race:
// the item is appended in Go and the array and its recomputed length are
// written back, guarded by SELECT ... FOR UPDATE.
func (s *Store) AppendCompletedItem(ctx context.Context, jobID, itemID string, checkpoint time.Time) (job.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return job.Job{}, err
	}
	defer tx.Rollback()

	var row jobRow
	if err := tx.GetContext(ctx, &row, jobSelect+` WHERE id = $1 FOR UPDATE`, jobID); err != nil {
		return job.Job{}, err
	}
	current := row.toDomain()
	for _, done := range current.CompletedItemIDs {
		if done == itemID {
			if err := tx.Commit(); err != nil {
				return job.Job{}, err
			}
			return current, nil
		}
	}
	current.CompletedItemIDs = append(current.CompletedItemIDs, itemID)
	current.CompletedItems = len(current.CompletedItemIDs)
	current.LastCheckpoint = checkpoint
	current.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET completed_item_ids = $2, completed_items = $3, last_checkpoint = $4, updated_at = $5
		WHERE id = $1
	`, jobID, pq.Array(current.CompletedItemIDs), current.CompletedItems, current.LastCheckpoint, current.UpdatedAt)
	if err != nil {
		return job.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return job.Job{}, err
	}
	return current, nil
}

func (s *Store) HasActiveBatch(ctx context.Context, userID string, jobType job.Type) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM jobs WHERE user_id = $1 AND type = $2 AND in_progress = true
	`, userID, string(jobType))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) FailInProgressJobs(ctx context.Context, userID, message string) (int, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET in_progress = false, status = $2, message = $3, completed_at = $4, updated_at = $4
		WHERE user_id = $1 AND in_progress = true
	`, userID, string(job.StatusFailed), message, now)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *Store) DeleteAllJobsForUser(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

const jobSelect = `
	SELECT id, user_id, type, batch_id, repository_id, repository_name,
		organization_id, organization_name, status, total_items, completed_items,
		item_ids, completed_item_ids, in_progress, started_at, completed_at,
		last_checkpoint, message, details, created_at, updated_at
	FROM jobs
`

func toJobDomainList(rows []jobRow) []job.Job {
	result := make([]job.Job, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result
}
