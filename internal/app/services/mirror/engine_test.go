package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/destapi"
	"github.com/forgemirror/mirror-layer/internal/app/services/events"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
)

func testConfig(dstURL string) config.Configuration {
	return config.Configuration{
		Source:      config.Credentials{BaseURL: "https://source.example"},
		Destination: config.Credentials{BaseURL: dstURL},
		Schedule:    config.Schedule{Interval: time.Hour},
	}
}

func newTestSourceClient(t *testing.T) *sourceapi.Client {
	t.Helper()
	c, err := sourceapi.New(sourceapi.Config{BaseURL: "https://source.example", Token: "src-token"})
	require.NoError(t, err)
	return c
}

func newTestDestClient(t *testing.T, url string) *destapi.Client {
	t.Helper()
	c, err := destapi.New(destapi.Config{BaseURL: url, Token: "dst-token"})
	require.NoError(t, err)
	return c
}

func newTestEngine(store *storage.Memory) *Engine {
	e := New(store, events.New(store, nil), nil)
	e.ReadinessPoll = time.Millisecond
	return e
}

// TestMirrorFreshRepoProvisionsAndMarksMirrored covers seed scenario 1: a
// freshly discovered repository is provisioned on the destination and ends
// up mirrored with a populated destination URL.
func TestMirrorFreshRepoProvisionsAndMarksMirrored(t *testing.T) {
	var migrateCalls int
	ready := false
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/acme":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/orgs":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/migrate":
			migrateCalls++
			ready = true
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widget":
			if ready {
				w.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(w).Encode(map[string]any{})
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		default:
			t.Fatalf("unexpected destination request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer dst.Close()

	store := storage.NewMemory()
	engine := newTestEngine(store)

	repo, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:           "user-1",
		Owner:            "octocat",
		Name:             "widget",
		FullName:         "octocat/widget",
		Status:           repository.StatusImported,
		DestinationOwner: "acme",
		DestinationName:  "widget",
		Visibility:       repository.VisibilityPublic,
	})
	require.NoError(t, err)

	cfg := testConfig(dst.URL)
	result, err := engine.Mirror(context.Background(), "user-1", repo, cfg, newTestSourceClient(t), newTestDestClient(t, dst.URL))
	require.NoError(t, err)
	require.Equal(t, repository.StatusMirrored, result.Status)
	require.NotEmpty(t, result.DestinationURL)
	require.NotNil(t, result.LastMirrored)
	require.Empty(t, result.ErrorMessage)
	require.Equal(t, 1, migrateCalls)
}

// TestMirrorIdempotentAlreadyMirroredPerformsNoDestinationWrites covers the
// round-trip law (invariant 3, spec §8): a repo already mirrored at its
// current destination location short-circuits straight past provisioning.
func TestMirrorIdempotentAlreadyMirroredPerformsNoDestinationWrites(t *testing.T) {
	var requests int
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer dst.Close()

	store := storage.NewMemory()
	engine := newTestEngine(store)

	now := time.Now().UTC().Add(-time.Hour)
	repo, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:           "user-1",
		Owner:            "octocat",
		Name:             "widget",
		FullName:         "octocat/widget",
		Status:           repository.StatusMirrored,
		DestinationOwner: "acme",
		DestinationName:  "widget",
		DestinationURL:   dst.URL + "/acme/widget",
		LastMirrored:     &now,
	})
	require.NoError(t, err)

	cfg := testConfig(dst.URL) // MirrorMetadata is false, so no destination calls are expected at all.
	result, err := engine.Mirror(context.Background(), "user-1", repo, cfg, newTestSourceClient(t), newTestDestClient(t, dst.URL))
	require.NoError(t, err)
	require.Equal(t, repository.StatusMirrored, result.Status)
	require.Equal(t, 0, requests)
}

// TestMirrorRetryAfterFailureSucceeds covers seed scenario 3: a repo that
// previously failed (no destination URL recorded) is retried and completes.
func TestMirrorRetryAfterFailureSucceeds(t *testing.T) {
	ready := false
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/acme":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/migrate":
			ready = true
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widget":
			if ready {
				w.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(w).Encode(map[string]any{})
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		default:
			t.Fatalf("unexpected destination request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer dst.Close()

	store := storage.NewMemory()
	engine := newTestEngine(store)

	repo, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:           "user-1",
		Owner:            "octocat",
		Name:             "widget",
		FullName:         "octocat/widget",
		Status:           repository.StatusFailed,
		ErrorMessage:     "transient: destination did not report readiness within 60s",
		DestinationOwner: "acme",
		DestinationName:  "widget",
		Visibility:       repository.VisibilityPublic,
	})
	require.NoError(t, err)

	cfg := testConfig(dst.URL)
	result, err := engine.Mirror(context.Background(), "user-1", repo, cfg, newTestSourceClient(t), newTestDestClient(t, dst.URL))
	require.NoError(t, err)
	require.Equal(t, repository.StatusMirrored, result.Status)
	require.Empty(t, result.ErrorMessage)
}

// TestMirrorFailsAndRecordsSanitizedErrorMessage covers the failed transition
// and spec §7's sanitization contract (no raw transport detail leaks into
// the persisted error message beyond kind + the server's own text).
func TestMirrorFailsAndRecordsSanitizedErrorMessage(t *testing.T) {
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/acme":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/migrate":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			t.Fatalf("unexpected destination request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer dst.Close()

	store := storage.NewMemory()
	engine := newTestEngine(store)

	repo, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:           "user-1",
		Owner:            "octocat",
		Name:             "widget",
		FullName:         "octocat/widget",
		Status:           repository.StatusImported,
		DestinationOwner: "acme",
		DestinationName:  "widget",
	})
	require.NoError(t, err)

	cfg := testConfig(dst.URL)
	result, err := engine.Mirror(context.Background(), "user-1", repo, cfg, newTestSourceClient(t), newTestDestClient(t, dst.URL))
	require.Error(t, err)
	require.Equal(t, repository.StatusFailed, result.Status)
	require.NotEmpty(t, result.ErrorMessage)
}

func TestSyncTriggersPullForMirroredRepo(t *testing.T) {
	var syncCalls int
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widget":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widget/mirror-sync":
			syncCalls++
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected destination request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer dst.Close()

	store := storage.NewMemory()
	engine := newTestEngine(store)

	repo, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:           "user-1",
		Owner:            "octocat",
		Name:             "widget",
		FullName:         "octocat/widget",
		Status:           repository.StatusMirrored,
		DestinationOwner: "acme",
		DestinationName:  "widget",
	})
	require.NoError(t, err)

	result, err := engine.Sync(context.Background(), "user-1", repo, newTestDestClient(t, dst.URL))
	require.NoError(t, err)
	require.Equal(t, repository.StatusSynced, result.Status)
	require.NotNil(t, result.LastMirrored)
	require.Equal(t, 1, syncCalls)
}

func TestSyncSkipsSilentlyWhenDestinationMissingAfterPriorFailure(t *testing.T) {
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dst.Close()

	store := storage.NewMemory()
	engine := newTestEngine(store)

	repo, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:           "user-1",
		Owner:            "octocat",
		Name:             "widget",
		FullName:         "octocat/widget",
		Status:           repository.StatusFailed,
		DestinationOwner: "acme",
		DestinationName:  "widget",
	})
	require.NoError(t, err)

	result, err := engine.Sync(context.Background(), "user-1", repo, newTestDestClient(t, dst.URL))
	require.NoError(t, err)
	require.Equal(t, repository.StatusFailed, result.Status)
}
