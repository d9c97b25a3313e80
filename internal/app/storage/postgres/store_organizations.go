package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/forgemirror/mirror-layer/internal/app/domain/organization"
)

type organizationRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	AvatarURL string `db:"avatar_url"`
	Role      string `db:"role"`
	Included  bool   `db:"included"`
	Status    string `db:"status"`

	TotalRepoCount   int `db:"total_repo_count"`
	PublicRepoCount  int `db:"public_repo_count"`
	PrivateRepoCount int `db:"private_repo_count"`
	ForkRepoCount    int `db:"fork_repo_count"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r organizationRow) toDomain() organization.Organization {
	return organization.Organization{
		ID:               r.ID,
		UserID:           r.UserID,
		Name:             r.Name,
		AvatarURL:        r.AvatarURL,
		Role:             organization.Role(r.Role),
		Included:         r.Included,
		Status:           organization.Status(r.Status),
		TotalRepoCount:   r.TotalRepoCount,
		PublicRepoCount:  r.PublicRepoCount,
		PrivateRepoCount: r.PrivateRepoCount,
		ForkRepoCount:    r.ForkRepoCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (s *Store) UpsertOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error) {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	org.UpdatedAt = now
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (
			id, user_id, name, avatar_url, role, included, status,
			total_repo_count, public_repo_count, private_repo_count, fork_repo_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (user_id, name) DO UPDATE SET
			avatar_url = EXCLUDED.avatar_url, role = EXCLUDED.role,
			total_repo_count = EXCLUDED.total_repo_count, public_repo_count = EXCLUDED.public_repo_count,
			private_repo_count = EXCLUDED.private_repo_count, fork_repo_count = EXCLUDED.fork_repo_count,
			updated_at = EXCLUDED.updated_at
	`,
		org.ID, org.UserID, org.Name, org.AvatarURL, string(org.Role), org.Included, string(org.Status),
		org.TotalRepoCount, org.PublicRepoCount, org.PrivateRepoCount, org.ForkRepoCount,
		org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return organization.Organization{}, err
	}

	var row organizationRow
	if err := s.db.GetContext(ctx, &row, organizationSelect+` WHERE user_id = $1 AND name = $2`, org.UserID, org.Name); err != nil {
		return organization.Organization{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error) {
	existing, err := s.GetOrganization(ctx, org.ID)
	if err != nil {
		return organization.Organization{}, err
	}
	org.CreatedAt = existing.CreatedAt
	org.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET
			name=$2, avatar_url=$3, role=$4, included=$5, status=$6,
			total_repo_count=$7, public_repo_count=$8, private_repo_count=$9, fork_repo_count=$10,
			updated_at=$11
		WHERE id = $1
	`,
		org.ID, org.Name, org.AvatarURL, string(org.Role), org.Included, string(org.Status),
		org.TotalRepoCount, org.PublicRepoCount, org.PrivateRepoCount, org.ForkRepoCount,
		org.UpdatedAt,
	)
	if err != nil {
		return organization.Organization{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return organization.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (organization.Organization, error) {
	var row organizationRow
	if err := s.db.GetContext(ctx, &row, organizationSelect+` WHERE id = $1`, id); err != nil {
		return organization.Organization{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListOrganizations(ctx context.Context, userID string) ([]organization.Organization, error) {
	var rows []organizationRow
	if err := s.db.SelectContext(ctx, &rows, organizationSelect+` WHERE user_id = $1 ORDER BY name`, userID); err != nil {
		return nil, err
	}
	result := make([]organization.Organization, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const organizationSelect = `
	SELECT id, user_id, name, avatar_url, role, included, status,
		total_repo_count, public_repo_count, private_repo_count, fork_repo_count,
		created_at, updated_at
	FROM organizations
`
