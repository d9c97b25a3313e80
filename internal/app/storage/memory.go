package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/event"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/domain/organization"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/domain/user"
)

// Memory is a thread-safe in-memory persistence layer implementing the
// storage interfaces defined in this package. It is intended for tests and
// prototyping and deliberately keeps the implementation simple.
type Memory struct {
	mu     sync.RWMutex
	nextID int64

	users   map[string]user.User
	configs map[string]config.Configuration
	repos   map[string]repository.Repository
	orgs    map[string]organization.Organization
	jobs    map[string]job.Job
	events  map[string]event.Event
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:  1,
		users:   make(map[string]user.User),
		configs: make(map[string]config.Configuration),
		repos:   make(map[string]repository.Repository),
		orgs:    make(map[string]organization.Organization),
		jobs:    make(map[string]job.Job),
		events:  make(map[string]event.Event),
	}
}

func (m *Memory) nextIDLocked() string {
	id := m.nextID
	m.nextID++
	return fmtID(id)
}

func fmtID(id int64) string {
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (m *Memory) CreateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = m.nextIDLocked()
	} else if _, exists := m.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found", u.ID)
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user with email %s not found", email)
}

func (m *Memory) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]user.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	return result, nil
}

func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("user %s not found", id)
	}
	delete(m.users, id)
	return nil
}

// ConfigStore implementation --------------------------------------------------

func (m *Memory) CreateConfig(_ context.Context, cfg config.Configuration) (config.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = m.nextIDLocked()
	} else if _, exists := m.configs[cfg.ID]; exists {
		return config.Configuration{}, fmt.Errorf("config %s already exists", cfg.ID)
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if cfg.IsActive {
		m.deactivateOthersLocked(cfg.UserID, cfg.ID)
	}
	m.configs[cfg.ID] = cfg
	return cfg, nil
}

func (m *Memory) UpdateConfig(_ context.Context, cfg config.Configuration) (config.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.configs[cfg.ID]
	if !ok {
		return config.Configuration{}, fmt.Errorf("config %s not found", cfg.ID)
	}
	cfg.CreatedAt = original.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	if cfg.IsActive {
		m.deactivateOthersLocked(cfg.UserID, cfg.ID)
	}
	m.configs[cfg.ID] = cfg
	return cfg, nil
}

func (m *Memory) GetConfig(_ context.Context, id string) (config.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[id]
	if !ok {
		return config.Configuration{}, fmt.Errorf("config %s not found", id)
	}
	return cfg, nil
}

func (m *Memory) GetActiveConfig(_ context.Context, userID string) (config.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cfg := range m.configs {
		if cfg.UserID == userID && cfg.IsActive {
			return cfg, nil
		}
	}
	return config.Configuration{}, fmt.Errorf("no active config for user %s", userID)
}

func (m *Memory) ListConfigs(_ context.Context, userID string) ([]config.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]config.Configuration, 0)
	for _, cfg := range m.configs {
		if cfg.UserID == userID {
			result = append(result, cfg)
		}
	}
	return result, nil
}

func (m *Memory) SetActive(_ context.Context, userID, configID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.configs[configID]
	if !ok || target.UserID != userID {
		return fmt.Errorf("config %s not found for user %s", configID, userID)
	}
	m.deactivateOthersLocked(userID, configID)
	target.IsActive = true
	target.UpdatedAt = time.Now().UTC()
	m.configs[configID] = target
	return nil
}

// deactivateOthersLocked enforces "exactly one active configuration per
// user" (invariant 4); callers must hold m.mu.
func (m *Memory) deactivateOthersLocked(userID, keepID string) {
	for id, cfg := range m.configs {
		if cfg.UserID == userID && id != keepID && cfg.IsActive {
			cfg.IsActive = false
			m.configs[id] = cfg
		}
	}
}

func (m *Memory) ListActiveSchedules(_ context.Context) ([]config.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]config.Configuration, 0)
	for _, cfg := range m.configs {
		if cfg.IsActive && cfg.Schedule.Enabled {
			result = append(result, cfg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeleteConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return fmt.Errorf("config %s not found", id)
	}
	delete(m.configs, id)
	return nil
}

// RepositoryStore implementation ----------------------------------------------

func (m *Memory) UpsertRepository(_ context.Context, repo repository.Repository) (repository.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo.NormalizedFullName = strings.ToLower(repo.FullName)
	for id, existing := range m.repos {
		if existing.UserID == repo.UserID && existing.NormalizedFullName == repo.NormalizedFullName {
			repo.ID = id
			repo.CreatedAt = existing.CreatedAt
			repo.UpdatedAt = time.Now().UTC()
			m.repos[id] = repo
			return repo, nil
		}
	}
	if repo.ID == "" {
		repo.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	m.repos[repo.ID] = repo
	return repo, nil
}

func (m *Memory) UpdateRepository(_ context.Context, repo repository.Repository) (repository.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.repos[repo.ID]
	if !ok {
		return repository.Repository{}, fmt.Errorf("repository %s not found", repo.ID)
	}
	repo.NormalizedFullName = strings.ToLower(repo.FullName)
	repo.CreatedAt = original.CreatedAt
	repo.UpdatedAt = time.Now().UTC()
	m.repos[repo.ID] = repo
	return repo, nil
}

func (m *Memory) GetRepository(_ context.Context, id string) (repository.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	repo, ok := m.repos[id]
	if !ok {
		return repository.Repository{}, fmt.Errorf("repository %s not found", id)
	}
	return repo, nil
}

func (m *Memory) GetRepositoryByNormalizedName(_ context.Context, userID, normalizedFullName string) (repository.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, repo := range m.repos {
		if repo.UserID == userID && repo.NormalizedFullName == normalizedFullName {
			return repo, nil
		}
	}
	return repository.Repository{}, fmt.Errorf("repository %s not found for user %s", normalizedFullName, userID)
}

func (m *Memory) ListRepositories(_ context.Context, userID string) ([]repository.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]repository.Repository, 0)
	for _, repo := range m.repos {
		if repo.UserID == userID {
			result = append(result, repo)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return result, nil
}

func (m *Memory) ListRepositoriesByStatus(_ context.Context, userID string, statuses ...repository.Status) ([]repository.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[repository.Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	result := make([]repository.Repository, 0)
	for _, repo := range m.repos {
		if repo.UserID != userID {
			continue
		}
		if _, ok := want[repo.Status]; ok {
			result = append(result, repo)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return result, nil
}

func (m *Memory) ListRepositoriesByIDs(_ context.Context, userID string, ids []string) ([]repository.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]repository.Repository, 0, len(ids))
	for _, id := range ids {
		repo, ok := m.repos[id]
		if ok && repo.UserID == userID {
			result = append(result, repo)
		}
	}
	return result, nil
}

func (m *Memory) DeleteRepository(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[id]; !ok {
		return fmt.Errorf("repository %s not found", id)
	}
	delete(m.repos, id)
	return nil
}

// OrganizationStore implementation --------------------------------------------

func (m *Memory) UpsertOrganization(_ context.Context, org organization.Organization) (organization.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.orgs {
		if existing.UserID == org.UserID && strings.EqualFold(existing.Name, org.Name) {
			org.ID = id
			org.CreatedAt = existing.CreatedAt
			org.UpdatedAt = time.Now().UTC()
			m.orgs[id] = org
			return org, nil
		}
	}
	if org.ID == "" {
		org.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	m.orgs[org.ID] = org
	return org, nil
}

func (m *Memory) UpdateOrganization(_ context.Context, org organization.Organization) (organization.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.orgs[org.ID]
	if !ok {
		return organization.Organization{}, fmt.Errorf("organization %s not found", org.ID)
	}
	org.CreatedAt = original.CreatedAt
	org.UpdatedAt = time.Now().UTC()
	m.orgs[org.ID] = org
	return org, nil
}

func (m *Memory) GetOrganization(_ context.Context, id string) (organization.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return organization.Organization{}, fmt.Errorf("organization %s not found", id)
	}
	return org, nil
}

func (m *Memory) ListOrganizations(_ context.Context, userID string) ([]organization.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]organization.Organization, 0)
	for _, org := range m.orgs {
		if org.UserID == userID {
			result = append(result, org)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) DeleteOrganization(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[id]; !ok {
		return fmt.Errorf("organization %s not found", id)
	}
	delete(m.orgs, id)
	return nil
}

// JobStore implementation ------------------------------------------------------

func (m *Memory) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = m.nextIDLocked()
	} else if _, exists := m.jobs[j.ID]; exists {
		return job.Job{}, fmt.Errorf("job %s already exists", j.ID)
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	j.ItemIDs = cloneStrings(j.ItemIDs)
	j.CompletedItemIDs = cloneStrings(j.CompletedItemIDs)
	m.jobs[j.ID] = j
	return cloneJob(j), nil
}

func (m *Memory) UpdateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.jobs[j.ID]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s not found", j.ID)
	}
	j.CreatedAt = original.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	j.ItemIDs = cloneStrings(j.ItemIDs)
	j.CompletedItemIDs = cloneStrings(j.CompletedItemIDs)
	m.jobs[j.ID] = j
	return cloneJob(j), nil
}

func (m *Memory) GetJob(_ context.Context, id string) (job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s not found", id)
	}
	return cloneJob(j), nil
}

func (m *Memory) ListJobs(_ context.Context, userID string, limit int) ([]job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]job.Job, 0)
	for _, j := range m.jobs {
		if j.UserID == userID {
			result = append(result, cloneJob(j))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ListJobsByBatch(_ context.Context, batchID string) ([]job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]job.Job, 0)
	for _, j := range m.jobs {
		if j.BatchID == batchID {
			result = append(result, cloneJob(j))
		}
	}
	return result, nil
}

func (m *Memory) ListInProgressJobs(_ context.Context) ([]job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]job.Job, 0)
	for _, j := range m.jobs {
		if j.InProgress {
			result = append(result, cloneJob(j))
		}
	}
	return result, nil
}

func (m *Memory) AppendCompletedItem(_ context.Context, jobID, itemID string, checkpoint time.Time) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s not found", jobID)
	}
	for _, done := range j.CompletedItemIDs {
		if done == itemID {
			return cloneJob(j), nil
		}
	}
	j.CompletedItemIDs = append(j.CompletedItemIDs, itemID)
	j.CompletedItems = len(j.CompletedItemIDs)
	j.LastCheckpoint = checkpoint
	j.UpdatedAt = time.Now().UTC()
	m.jobs[jobID] = j
	return cloneJob(j), nil
}

func (m *Memory) HasActiveBatch(_ context.Context, userID string, jobType job.Type) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.UserID == userID && j.Type == jobType && j.InProgress {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) FailInProgressJobs(_ context.Context, userID, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for id, j := range m.jobs {
		if j.UserID == userID && j.InProgress {
			j.InProgress = false
			j.Status = job.StatusFailed
			j.Message = message
			j.CompletedAt = &now
			j.UpdatedAt = now
			m.jobs[id] = j
			count++
		}
	}
	return count, nil
}

func (m *Memory) DeleteAllJobsForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, j := range m.jobs {
		if j.UserID == userID {
			delete(m.jobs, id)
			count++
		}
	}
	return count, nil
}

// EventStore implementation ----------------------------------------------------

func (m *Memory) AppendEvent(_ context.Context, e event.Event) (event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = m.nextIDLocked()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Payload = cloneBytes(e.Payload)
	m.events[e.ID] = e
	return e, nil
}

func (m *Memory) ListEventsSince(_ context.Context, userID string, since time.Time, limit int) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]event.Event, 0)
	for _, e := range m.events {
		if e.UserID == userID && e.CreatedAt.After(since) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ListEvents(_ context.Context, userID string, limit int) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]event.Event, 0)
	for _, e := range m.events {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return fmt.Errorf("event %s not found", id)
	}
	e.Read = true
	m.events[id] = e
	return nil
}

func (m *Memory) DeleteEventsOlderThan(_ context.Context, userID string, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, e := range m.events {
		if e.UserID == userID && e.CreatedAt.Before(before) {
			delete(m.events, id)
			count++
		}
	}
	return count, nil
}

func (m *Memory) DeleteAllEventsForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, e := range m.events {
		if e.UserID == userID {
			delete(m.events, id)
			count++
		}
	}
	return count, nil
}

// Helpers ----------------------------------------------------------------------

func cloneStrings(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	dup := make([]string, len(items))
	copy(dup, items)
	return dup
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	dup := make([]byte, len(b))
	copy(dup, b)
	return dup
}

func cloneJob(j job.Job) job.Job {
	j.ItemIDs = cloneStrings(j.ItemIDs)
	j.CompletedItemIDs = cloneStrings(j.CompletedItemIDs)
	j.Details = cloneBytes(j.Details)
	return j
}
