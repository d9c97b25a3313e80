package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	app "github.com/forgemirror/mirror-layer/internal/app"
	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/destapi"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/metrics"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
)

// handler bundles the engine's REST and streaming endpoints.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler builds the engine's HTTP contract surface. Every route
// resolves the caller's userID from the request context, set upstream by
// wrapWithAuth.
func NewHandler(application *app.Application, audit *auditLog) http.Handler {
	h := &handler{app: application, audit: audit}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/system/descriptors", h.handleDescriptors).Methods(http.MethodGet)

	r.HandleFunc("/activities", h.handleListActivities).Methods(http.MethodGet)
	r.HandleFunc("/activities/cleanup", h.handlePurgeActivities).Methods(http.MethodPost)
	r.HandleFunc("/dashboard", h.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/github/repositories", h.handleListRepositories).Methods(http.MethodGet)
	r.HandleFunc("/github/organizations", h.handleListOrganizations).Methods(http.MethodGet)
	r.HandleFunc("/sync/organization", h.handleSyncOrganization).Methods(http.MethodPost)
	r.HandleFunc("/job/mirror", h.handleJobSubmit(job.TypeMirror)).Methods(http.MethodPost)
	r.HandleFunc("/job/sync", h.handleJobSubmit(job.TypeSync)).Methods(http.MethodPost)
	r.HandleFunc("/job/retry", h.handleJobSubmit(job.TypeRetry)).Methods(http.MethodPost)
	r.HandleFunc("/job/reset-metadata", h.handleJobSubmit(job.TypeMetadata)).Methods(http.MethodPost)
	r.HandleFunc("/job/schedule-sync", h.handleScheduleSync).Methods(http.MethodPost)
	r.HandleFunc("/job/{id}/cancel", h.handleJobCancel).Methods(http.MethodPost)
	r.HandleFunc("/repositories/{id}", h.handlePatchRepository).Methods(http.MethodPatch)
	r.HandleFunc("/repositories/{id}/status", h.handlePatchRepositoryStatus).Methods(http.MethodPatch)
	r.HandleFunc("/cleanup/auto", h.handleCleanupAuto).Methods(http.MethodPost)
	r.HandleFunc("/sse", h.handleSSE).Methods(http.MethodGet)

	return r
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleDescriptors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Descriptors())
}

func (h *handler) handleListActivities(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	jobs, err := h.app.Stores.Jobs.ListJobs(r.Context(), userID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) handlePurgeActivities(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	result, err := h.app.Cleanup.PurgeActivities(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type dashboardResponse struct {
	RepositoryCount    int                     `json:"repository_count"`
	OrganizationCount  int                     `json:"organization_count"`
	ActivityCount      int                     `json:"activity_count"`
	LastSync           *time.Time              `json:"last_sync,omitempty"`
	RecentRepositories []repository.Repository `json:"recent_repositories"`
	RecentActivities   []job.Job               `json:"recent_activities"`
}

func (h *handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()

	repos, err := h.app.Stores.Repositories.ListRepositories(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	orgs, err := h.app.Stores.Organizations.ListOrganizations(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	jobs, err := h.app.Stores.Jobs.ListJobs(ctx, userID, 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := dashboardResponse{
		RepositoryCount:   len(repos),
		OrganizationCount: len(orgs),
		ActivityCount:     len(jobs),
		RecentActivities:  jobs,
	}
	for i := range repos {
		if repos[i].LastMirrored != nil && (resp.LastSync == nil || repos[i].LastMirrored.After(*resp.LastSync)) {
			resp.LastSync = repos[i].LastMirrored
		}
	}
	recent := repos
	if len(recent) > 10 {
		recent = recent[:10]
	}
	resp.RecentRepositories = recent
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	repos, err := h.app.Stores.Repositories.ListRepositories(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *handler) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	orgs, err := h.app.Stores.Organizations.ListOrganizations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

type syncOrganizationRequest struct {
	Org  string `json:"org"`
	Role string `json:"role"`
}

func (h *handler) handleSyncOrganization(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()

	var req syncOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Org) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("org is required"))
		return
	}

	cfg, src, dst, err := h.activeClients(ctx, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	destIdentity, err := dst.Authenticate(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	result, err := h.app.Discovery.DiscoverOrganization(ctx, userID, cfg, src, destIdentity.Login, req.Org, sourceapi.MembershipRole(req.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type jobSubmitRequest struct {
	RepositoryIDs []string `json:"repositoryIds"`
	All           bool     `json:"all"`
}

// handleJobSubmit builds a handler that submits a priority (user-initiated)
// batch of jobType over either the caller's explicit repository id list or,
// for mirror batches, every tracked repository when All is set.
func (h *handler) handleJobSubmit(jobType job.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		ctx := r.Context()

		var req jobSubmitRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		itemIDs := req.RepositoryIDs
		if req.All && jobType == job.TypeMirror {
			discovered, err := h.discoverAll(ctx, userID)
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			itemIDs = discovered
		}
		if len(itemIDs) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("repositoryIds must not be empty"))
			return
		}

		if jobType == job.TypeRetry {
			metrics.RetryTotal.Add(float64(len(itemIDs)))
		}

		j, err := h.app.Batch.Submit(ctx, job.Job{
			UserID:  userID,
			Type:    jobType,
			BatchID: uuid.NewString(),
			ItemIDs: itemIDs,
		}, true)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, j)
	}
}

func (h *handler) handleScheduleSync(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()

	syncable, err := h.app.Stores.Repositories.ListRepositoriesByStatus(ctx, userID,
		repository.StatusMirrored, repository.StatusSynced, repository.StatusFailed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(syncable) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"submitted": 0})
		return
	}
	itemIDs := make([]string, 0, len(syncable))
	for _, repo := range syncable {
		itemIDs = append(itemIDs, repo.ID)
	}

	j, err := h.app.Batch.Submit(ctx, job.Job{
		UserID:  userID,
		Type:    job.TypeSync,
		BatchID: uuid.NewString(),
		ItemIDs: itemIDs,
	}, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

// handleJobCancel requests cooperative cancellation of an in-progress job
// owned by the caller. The job stops between items, persisting whatever has
// already been checkpointed, and finishes with message "cancelled".
func (h *handler) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	j, err := h.app.Stores.Jobs.GetJob(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if j.UserID != userID {
		writeError(w, http.StatusNotFound, fmt.Errorf("job not found"))
		return
	}
	if !j.InProgress {
		writeError(w, http.StatusConflict, fmt.Errorf("job %s is not in progress", id))
		return
	}

	if !h.app.Batch.Cancel(id) {
		writeError(w, http.StatusConflict, fmt.Errorf("job %s is not currently running", id))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

type patchRepositoryRequest struct {
	DestinationOrg string `json:"destinationOrg"`
}

func (h *handler) handlePatchRepository(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req patchRepositoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	repo, err := h.app.Stores.Repositories.GetRepository(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if repo.UserID != userID {
		writeError(w, http.StatusNotFound, fmt.Errorf("repository not found"))
		return
	}
	repo.DestinationOrgOverride = req.DestinationOrg
	saved, err := h.app.Stores.Repositories.UpdateRepository(ctx, repo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type patchRepositoryStatusRequest struct {
	Status string `json:"status"`
}

// adminOverridableStatuses is the subset of the lifecycle enum an operator
// may force a repository into directly, bypassing the normal state machine.
var adminOverridableStatuses = map[repository.Status]struct{}{
	repository.StatusIgnored:  {},
	repository.StatusSkipped:  {},
	repository.StatusArchived: {},
}

func (h *handler) handlePatchRepositoryStatus(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req patchRepositoryStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status := repository.Status(req.Status)
	if _, ok := adminOverridableStatuses[status]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("status %q is not an admin-overridable status", req.Status))
		return
	}

	repo, err := h.app.Stores.Repositories.GetRepository(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if repo.UserID != userID {
		writeError(w, http.StatusNotFound, fmt.Errorf("repository not found"))
		return
	}
	repo.Status = status
	saved, err := h.app.Stores.Repositories.UpdateRepository(ctx, repo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *handler) handleCleanupAuto(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()

	cfg, _, dst, err := h.activeClients(ctx, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Cleanup.ReconcileOrphans(ctx, userID, cfg, dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSSE streams the user's event log: a replay of events since the
// optional ?since= query parameter, followed by live events as they are
// published, until the client disconnects.
func (h *handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = parsed
		}
	}

	live, unsubscribe := h.app.Events.Subscribe(userID)
	defer unsubscribe()

	if !since.IsZero() {
		replay, err := h.app.Events.ReplaySince(ctx, userID, since, 500)
		if err == nil {
			for _, e := range replay {
				writeSSEEvent(w, e)
			}
			flusher.Flush()
		}
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-live:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e any) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// activeClients loads userID's active configuration and builds a matching
// source/destination client pair, for synchronous HTTP-path operations
// (organization discovery, orphan cleanup) that need one outside the batch
// scheduler's own lazily-built clients.
func (h *handler) activeClients(ctx context.Context, userID string) (config.Configuration, *sourceapi.Client, *destapi.Client, error) {
	cfg, err := h.app.Stores.Configs.GetActiveConfig(ctx, userID)
	if err != nil {
		return config.Configuration{}, nil, nil, apperr.New("httpapi.activeClients", apperr.ConfigInvalid, fmt.Errorf("load active configuration for user %s: %w", userID, err))
	}
	src, err := h.app.Clients.Source(cfg)
	if err != nil {
		return config.Configuration{}, nil, nil, err
	}
	dst, err := h.app.Clients.Destination(cfg)
	if err != nil {
		return config.Configuration{}, nil, nil, err
	}
	return cfg, src, dst, nil
}

// discoverAll runs a full personal/org/starred discovery pass (C4) for
// userID against its active configuration, upserting the resulting
// repository rows and returning their ids, so a {"all": true} job.mirror
// submission picks up repositories never synced via /sync/organization.
func (h *handler) discoverAll(ctx context.Context, userID string) ([]string, error) {
	cfg, src, dst, err := h.activeClients(ctx, userID)
	if err != nil {
		return nil, err
	}
	destIdentity, err := dst.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	result, err := h.app.Discovery.Discover(ctx, userID, cfg, src, destIdentity.Login)
	if err != nil {
		return nil, err
	}
	return result.UpsertedIDs, nil
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.New("httpapi.decodeJSON", apperr.ConfigInvalid, err)
	}
	return nil
}
