// Package discovery implements C4: producing the desired set of
// (source repo -> destination location) mappings from a user's active
// configuration plus live source listings, and reconciling that set against
// the stored repositories table.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/organization"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Service runs discovery for one user's active configuration.
type Service struct {
	repos storage.RepositoryStore
	orgs  storage.OrganizationStore
	log   *logger.Logger
}

// New constructs a discovery Service.
func New(repos storage.RepositoryStore, orgs storage.OrganizationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("discovery")
	}
	return &Service{repos: repos, orgs: orgs, log: log}
}

// Result is the outcome of one discovery run.
type Result struct {
	Targets       []Target
	UpsertedIDs   []string
	NewCount      int
	UnchangedCount int
}

// Discover computes the desired repository set for userID's active cfg
// using src (already authenticated with the user's source credential) and
// destUser (the authenticated destination login, used by flat-user/mixed
// strategies). Per-repo destination overrides are read from previously
// stored Repository.DestinationOrgOverride values.
func (s *Service) Discover(ctx context.Context, userID string, cfg config.Configuration, src *sourceapi.Client, destUser string) (Result, error) {
	if cfg.Source.BaseURL == "" {
		return Result{}, apperr.New("discovery.Discover", apperr.ConfigInvalid, fmt.Errorf("source credentials are not configured"))
	}

	identity, err := src.Authenticate(ctx)
	if err != nil {
		return Result{}, err
	}

	basic, err := s.listBasic(ctx, src, cfg.Mirror)
	if err != nil {
		return Result{}, err
	}

	var starred []sourceapi.Repo
	if cfg.Mirror.IncludeStarred {
		starred, err = src.ListStarred(ctx)
		if err != nil {
			return Result{}, err
		}
	}

	merged := MergeGitReposPreferStarred(basic, starred)
	merged = applyFilters(merged, cfg.Mirror)

	existing, err := s.repos.ListRepositories(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	existingByName := make(map[string]repository.Repository, len(existing))
	overrides := make(map[string]string, len(existing))
	for _, r := range existing {
		existingByName[r.NormalizedFullName] = r
		if r.DestinationOrgOverride != "" {
			overrides[r.FullName] = r.DestinationOrgOverride
		}
	}

	// Repositories explicitly ignored are excluded entirely; skipped ones
	// are re-evaluated (status is not reset by discovery).
	filtered := make([]sourceapi.Repo, 0, len(merged))
	for _, repo := range merged {
		if prior, ok := existingByName[strings.ToLower(repo.FullName)]; ok && prior.Status == repository.StatusIgnored {
			continue
		}
		filtered = append(filtered, repo)
	}

	targets := ResolveDestinations(cfg.Mirror, destUser, identity.Login, filtered, overrides)

	result := Result{Targets: targets}
	for _, t := range targets {
		normalized := strings.ToLower(t.Source.FullName)
		prior, existed := existingByName[normalized]

		rec := repository.Repository{
			UserID:             userID,
			Owner:              t.Source.Owner,
			Name:               t.Source.Name,
			FullName:           t.Source.FullName,
			NormalizedFullName: normalized,
			IsPrivate:          t.Source.Private,
			IsForked:           t.Source.Fork,
			ForkedFrom:         t.Source.ForkedFrom,
			HasIssues:          t.Source.HasIssues,
			IsStarred:          t.Source.Starred,
			IsArchived:         t.Source.Archived,
			HasLFS:             t.Source.HasLFS,
			HasSubmodules:      t.Source.HasSubmodules,
			DefaultBranch:      t.Source.DefaultBranch,
			Visibility:         repository.Visibility(normalizeVisibility(t.Source)),
			SizeKB:             t.Source.SizeKB,
			Language:           t.Source.Language,
			Description:        t.Source.Description,
			DestinationOwner:   t.Owner,
			DestinationName:    t.Name,
		}

		if existed {
			rec.ID = prior.ID
			rec.Status = prior.Status
			rec.LastMirrored = prior.LastMirrored
			rec.ErrorMessage = prior.ErrorMessage
			rec.MetadataState = prior.MetadataState
			rec.DestinationOrgOverride = prior.DestinationOrgOverride
			rec.DestinationURL = prior.DestinationURL
			result.UnchangedCount++
		} else {
			rec.Status = repository.StatusImported
			result.NewCount++
		}

		saved, err := s.repos.UpsertRepository(ctx, rec)
		if err != nil {
			return Result{}, apperr.New("discovery.Discover", apperr.Fatal, err)
		}
		result.UpsertedIDs = append(result.UpsertedIDs, saved.ID)
	}

	return result, nil
}

// DiscoverOrganization runs discovery scoped to a single organization (the
// /sync/organization HTTP contract), upserting an Organization record with
// the caller's membership role in addition to its repositories.
func (s *Service) DiscoverOrganization(ctx context.Context, userID string, cfg config.Configuration, src *sourceapi.Client, destUser, orgLogin string, role sourceapi.MembershipRole) (Result, error) {
	identity, err := src.Authenticate(ctx)
	if err != nil {
		return Result{}, err
	}

	repos, err := src.ListOrgRepos(ctx, orgLogin, sourceapi.ListReposOptions{
		IncludePrivate: cfg.Mirror.IncludePrivate,
		IncludeForks:   cfg.Mirror.IncludeForks,
	})
	if err != nil {
		return Result{}, err
	}
	repos = applyFilters(repos, cfg.Mirror)

	org := organization.Organization{
		UserID:   userID,
		Name:     orgLogin,
		Role:     organization.Role(role),
		Included: true,
		Status:   organization.StatusImported,
	}
	for _, r := range repos {
		org.TotalRepoCount++
		if r.Private {
			org.PrivateRepoCount++
		} else {
			org.PublicRepoCount++
		}
		if r.Fork {
			org.ForkRepoCount++
		}
	}
	if _, err := s.orgs.UpsertOrganization(ctx, org); err != nil {
		return Result{}, apperr.New("discovery.DiscoverOrganization", apperr.Fatal, err)
	}

	targets := ResolveDestinations(cfg.Mirror, destUser, identity.Login, repos, nil)
	result := Result{Targets: targets}
	for _, t := range targets {
		normalized := strings.ToLower(t.Source.FullName)
		existing, err := s.repos.GetRepositoryByNormalizedName(ctx, userID, normalized)
		rec := repository.Repository{
			UserID:             userID,
			Owner:              t.Source.Owner,
			Name:               t.Source.Name,
			FullName:           t.Source.FullName,
			NormalizedFullName: normalized,
			IsPrivate:          t.Source.Private,
			IsForked:           t.Source.Fork,
			DefaultBranch:      t.Source.DefaultBranch,
			Visibility:         repository.Visibility(normalizeVisibility(t.Source)),
			DestinationOwner:   t.Owner,
			DestinationName:    t.Name,
			Status:             repository.StatusImported,
		}
		if err == nil {
			rec.ID = existing.ID
			rec.Status = existing.Status
			rec.LastMirrored = existing.LastMirrored
			rec.MetadataState = existing.MetadataState
			result.UnchangedCount++
		} else {
			result.NewCount++
		}
		saved, upErr := s.repos.UpsertRepository(ctx, rec)
		if upErr != nil {
			return Result{}, apperr.New("discovery.DiscoverOrganization", apperr.Fatal, upErr)
		}
		result.UpsertedIDs = append(result.UpsertedIDs, saved.ID)
	}
	return result, nil
}

func (s *Service) listBasic(ctx context.Context, src *sourceapi.Client, policy config.MirrorPolicy) ([]sourceapi.Repo, error) {
	opts := sourceapi.ListReposOptions{
		IncludePrivate: policy.IncludePrivate,
		IncludeForks:   policy.IncludeForks,
	}
	all, err := src.ListUserRepos(ctx, opts)
	if err != nil {
		return nil, err
	}

	if len(policy.IncludeOrganizations) == 0 {
		orgs, err := src.ListOrgsForUser(ctx)
		if err != nil {
			return nil, err
		}
		for _, org := range orgs {
			orgRepos, err := src.ListOrgRepos(ctx, org.Login, opts)
			if err != nil {
				return nil, err
			}
			all = append(all, orgRepos...)
		}
		return all, nil
	}

	for _, org := range policy.IncludeOrganizations {
		orgRepos, err := src.ListOrgRepos(ctx, org, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, orgRepos...)
	}
	return all, nil
}

func applyFilters(repos []sourceapi.Repo, policy config.MirrorPolicy) []sourceapi.Repo {
	out := make([]sourceapi.Repo, 0, len(repos))
	for _, r := range repos {
		if r.Private && !policy.IncludePrivate {
			continue
		}
		if r.Fork && !policy.IncludeForks {
			continue
		}
		if r.Archived && !policy.IncludeArchived {
			continue
		}
		out = append(out, r)
	}
	return out
}

func normalizeVisibility(r sourceapi.Repo) string {
	if r.Visibility != "" {
		return r.Visibility
	}
	if r.Private {
		return "private"
	}
	return "public"
}
