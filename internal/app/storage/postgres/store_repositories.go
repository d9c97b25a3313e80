package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
)

type repositoryRow struct {
	ID                     string         `db:"id"`
	UserID                 string         `db:"user_id"`
	Owner                  string         `db:"owner"`
	Name                   string         `db:"name"`
	FullName               string         `db:"full_name"`
	NormalizedFullName     string         `db:"normalized_full_name"`
	IsPrivate              bool           `db:"is_private"`
	IsForked               bool           `db:"is_forked"`
	ForkedFrom             string         `db:"forked_from"`
	HasIssues              bool           `db:"has_issues"`
	IsStarred              bool           `db:"is_starred"`
	IsArchived             bool           `db:"is_archived"`
	HasLFS                 bool           `db:"has_lfs"`
	HasSubmodules          bool           `db:"has_submodules"`
	DefaultBranch          string         `db:"default_branch"`
	Visibility             string         `db:"visibility"`
	SizeKB                 int64          `db:"size_kb"`
	Language               string         `db:"language"`
	Description            string         `db:"description"`
	DestinationOwner       string         `db:"destination_owner"`
	DestinationName        string         `db:"destination_name"`
	DestinationURL         string         `db:"destination_url"`
	DestinationOrgOverride string         `db:"destination_org_override"`
	Status                 string         `db:"status"`
	LastMirrored           sql.NullTime   `db:"last_mirrored"`
	ErrorMessage           string         `db:"error_message"`
	MetadataState          []byte         `db:"metadata_state"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func (r repositoryRow) toDomain() repository.Repository {
	repo := repository.Repository{
		ID:                     r.ID,
		UserID:                 r.UserID,
		Owner:                  r.Owner,
		Name:                   r.Name,
		FullName:               r.FullName,
		NormalizedFullName:     r.NormalizedFullName,
		IsPrivate:              r.IsPrivate,
		IsForked:               r.IsForked,
		ForkedFrom:             r.ForkedFrom,
		HasIssues:              r.HasIssues,
		IsStarred:              r.IsStarred,
		IsArchived:             r.IsArchived,
		HasLFS:                 r.HasLFS,
		HasSubmodules:          r.HasSubmodules,
		DefaultBranch:          r.DefaultBranch,
		Visibility:             repository.Visibility(r.Visibility),
		SizeKB:                 r.SizeKB,
		Language:               r.Language,
		Description:            r.Description,
		DestinationOwner:       r.DestinationOwner,
		DestinationName:        r.DestinationName,
		DestinationURL:         r.DestinationURL,
		DestinationOrgOverride: r.DestinationOrgOverride,
		Status:                 repository.Status(r.Status),
		ErrorMessage:           r.ErrorMessage,
		MetadataState:          r.MetadataState,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	if r.LastMirrored.Valid {
		t := r.LastMirrored.Time
		repo.LastMirrored = &t
	}
	return repo
}

func (s *Store) UpsertRepository(ctx context.Context, repo repository.Repository) (repository.Repository, error) {
	repo.NormalizedFullName = strings.ToLower(repo.FullName)
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	repo.UpdatedAt = now
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}

	var lastMirrored any
	if repo.LastMirrored != nil {
		lastMirrored = *repo.LastMirrored
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (
			id, user_id, owner, name, full_name, normalized_full_name,
			is_private, is_forked, forked_from, has_issues, is_starred, is_archived,
			has_lfs, has_submodules, default_branch, visibility, size_kb, language, description,
			destination_owner, destination_name, destination_url, destination_org_override,
			status, last_mirrored, error_message, metadata_state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27, $28, $29
		)
		ON CONFLICT (user_id, normalized_full_name) DO UPDATE SET
			owner = EXCLUDED.owner, name = EXCLUDED.name, full_name = EXCLUDED.full_name,
			is_private = EXCLUDED.is_private, is_forked = EXCLUDED.is_forked, forked_from = EXCLUDED.forked_from,
			has_issues = EXCLUDED.has_issues, is_starred = EXCLUDED.is_starred OR repositories.is_starred,
			is_archived = EXCLUDED.is_archived, has_lfs = EXCLUDED.has_lfs, has_submodules = EXCLUDED.has_submodules,
			default_branch = EXCLUDED.default_branch, visibility = EXCLUDED.visibility, size_kb = EXCLUDED.size_kb,
			language = EXCLUDED.language, description = EXCLUDED.description,
			destination_owner = EXCLUDED.destination_owner, destination_name = EXCLUDED.destination_name,
			destination_url = EXCLUDED.destination_url, destination_org_override = EXCLUDED.destination_org_override,
			status = EXCLUDED.status, last_mirrored = EXCLUDED.last_mirrored, error_message = EXCLUDED.error_message,
			metadata_state = EXCLUDED.metadata_state, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		repo.ID, repo.UserID, repo.Owner, repo.Name, repo.FullName, repo.NormalizedFullName,
		repo.IsPrivate, repo.IsForked, repo.ForkedFrom, repo.HasIssues, repo.IsStarred, repo.IsArchived,
		repo.HasLFS, repo.HasSubmodules, repo.DefaultBranch, string(repo.Visibility), repo.SizeKB, repo.Language, repo.Description,
		repo.DestinationOwner, repo.DestinationName, repo.DestinationURL, repo.DestinationOrgOverride,
		string(repo.Status), lastMirrored, repo.ErrorMessage, repo.MetadataState, repo.CreatedAt, repo.UpdatedAt,
	)
	if err != nil {
		return repository.Repository{}, err
	}
	return s.GetRepositoryByNormalizedName(ctx, repo.UserID, repo.NormalizedFullName)
}

func (s *Store) UpdateRepository(ctx context.Context, repo repository.Repository) (repository.Repository, error) {
	existing, err := s.GetRepository(ctx, repo.ID)
	if err != nil {
		return repository.Repository{}, err
	}
	repo.NormalizedFullName = strings.ToLower(repo.FullName)
	repo.CreatedAt = existing.CreatedAt
	repo.UpdatedAt = time.Now().UTC()

	var lastMirrored any
	if repo.LastMirrored != nil {
		lastMirrored = *repo.LastMirrored
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET
			owner=$2, name=$3, full_name=$4, normalized_full_name=$5,
			is_private=$6, is_forked=$7, forked_from=$8, has_issues=$9, is_starred=$10, is_archived=$11,
			has_lfs=$12, has_submodules=$13, default_branch=$14, visibility=$15, size_kb=$16, language=$17, description=$18,
			destination_owner=$19, destination_name=$20, destination_url=$21, destination_org_override=$22,
			status=$23, last_mirrored=$24, error_message=$25, metadata_state=$26, updated_at=$27
		WHERE id = $1
	`,
		repo.ID, repo.Owner, repo.Name, repo.FullName, repo.NormalizedFullName,
		repo.IsPrivate, repo.IsForked, repo.ForkedFrom, repo.HasIssues, repo.IsStarred, repo.IsArchived,
		repo.HasLFS, repo.HasSubmodules, repo.DefaultBranch, string(repo.Visibility), repo.SizeKB, repo.Language, repo.Description,
		repo.DestinationOwner, repo.DestinationName, repo.DestinationURL, repo.DestinationOrgOverride,
		string(repo.Status), lastMirrored, repo.ErrorMessage, repo.MetadataState, repo.UpdatedAt,
	)
	if err != nil {
		return repository.Repository{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return repository.Repository{}, sql.ErrNoRows
	}
	return repo, nil
}

func (s *Store) GetRepository(ctx context.Context, id string) (repository.Repository, error) {
	var row repositoryRow
	if err := s.db.GetContext(ctx, &row, repositorySelect+` WHERE id = $1`, id); err != nil {
		return repository.Repository{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetRepositoryByNormalizedName(ctx context.Context, userID, normalizedFullName string) (repository.Repository, error) {
	var row repositoryRow
	if err := s.db.GetContext(ctx, &row, repositorySelect+` WHERE user_id = $1 AND normalized_full_name = $2`, userID, normalizedFullName); err != nil {
		return repository.Repository{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListRepositories(ctx context.Context, userID string) ([]repository.Repository, error) {
	var rows []repositoryRow
	if err := s.db.SelectContext(ctx, &rows, repositorySelect+` WHERE user_id = $1 ORDER BY full_name`, userID); err != nil {
		return nil, err
	}
	return toRepositoryDomainList(rows), nil
}

func (s *Store) ListRepositoriesByStatus(ctx context.Context, userID string, statuses ...repository.Status) ([]repository.Repository, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	var rows []repositoryRow
	if err := s.db.SelectContext(ctx, &rows, repositorySelect+` WHERE user_id = $1 AND status = ANY($2) ORDER BY full_name`, userID, pq.Array(names)); err != nil {
		return nil, err
	}
	return toRepositoryDomainList(rows), nil
}

func (s *Store) ListRepositoriesByIDs(ctx context.Context, userID string, ids []string) ([]repository.Repository, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []repositoryRow
	if err := s.db.SelectContext(ctx, &rows, repositorySelect+` WHERE user_id = $1 AND id = ANY($2)`, userID, pq.Array(ids)); err != nil {
		return nil, err
	}
	return toRepositoryDomainList(rows), nil
}

func (s *Store) DeleteRepository(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const repositorySelect = `
	SELECT id, user_id, owner, name, full_name, normalized_full_name,
		is_private, is_forked, forked_from, has_issues, is_starred, is_archived,
		has_lfs, has_submodules, default_branch, visibility, size_kb, language, description,
		destination_owner, destination_name, destination_url, destination_org_override,
		status, last_mirrored, error_message, metadata_state, created_at, updated_at
	FROM repositories
`

func toRepositoryDomainList(rows []repositoryRow) []repository.Repository {
	result := make([]repository.Repository, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result
}
