package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
)

func newTestSourceClientAt(t *testing.T, url string) *sourceapi.Client {
	t.Helper()
	c, err := sourceapi.New(sourceapi.Config{BaseURL: url, Token: "src-token"})
	require.NoError(t, err)
	return c
}

// TestRunMetadataIfEnabledSkipsWhenDisabled confirms the sub-pipeline is a
// pure no-op (no source or destination calls) when cfg.Options.MirrorMetadata
// is false, the common case for a plain mirror-only configuration.
func TestRunMetadataIfEnabledSkipsWhenDisabled(t *testing.T) {
	calls := 0
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer src.Close()

	engine := New(nil, nil, nil)
	repo := &repository.Repository{Owner: "octocat", Name: "widget", DestinationOwner: "acme", DestinationName: "widget"}
	srcClient := newTestSourceClientAt(t, src.URL)

	err := engine.runMetadataIfEnabled(context.Background(), "user-1", repo, config.Configuration{}, srcClient, nil)
	require.NoError(t, err)
	require.Zero(t, calls)
}

// TestRunMetadataIfEnabledMirrorsLabelsAndTracksCursor covers one metadata
// kind end-to-end and confirms re-running with the same state is a no-op
// (the cursor stops a completed kind from being re-fetched).
func TestRunMetadataIfEnabledMirrorsLabelsAndTracksCursor(t *testing.T) {
	var listCalls, upsertCalls int
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listCalls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"name":"bug","color":"f00","description":"defect"}]`))
	}))
	defer src.Close()
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upsertCalls++
		w.WriteHeader(http.StatusCreated)
	}))
	defer dst.Close()

	engine := New(nil, nil, nil)
	repo := &repository.Repository{Owner: "octocat", Name: "widget", DestinationOwner: "acme", DestinationName: "widget"}
	cfg := config.Configuration{Options: config.MirrorOptions{MirrorMetadata: true, MirrorLabels: true}}

	err := engine.runMetadataIfEnabled(context.Background(), "user-1", repo, cfg, newTestSourceClientAt(t, src.URL), newTestDestClient(t, dst.URL))
	require.NoError(t, err)
	require.Equal(t, 1, listCalls)
	require.Equal(t, 1, upsertCalls)
	require.NotEmpty(t, repo.MetadataState)

	// Re-running with the same (now-persisted) cursor state must not refetch.
	err = engine.runMetadataIfEnabled(context.Background(), "user-1", repo, cfg, newTestSourceClientAt(t, src.URL), newTestDestClient(t, dst.URL))
	require.NoError(t, err)
	require.Equal(t, 1, listCalls)
	require.Equal(t, 1, upsertCalls)
}

// TestRunMetadataIfEnabledAggregatesItemFailuresWithoutAborting confirms a
// per-item metadata failure is recorded but does not prevent other enabled
// kinds from running (spec §4.4: metadata failures never fail the repo).
func TestRunMetadataIfEnabledAggregatesItemFailuresWithoutAborting(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octocat/widget/labels":
			w.WriteHeader(http.StatusInternalServerError)
		case "/repos/octocat/widget/milestones":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer src.Close()
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer dst.Close()

	engine := New(nil, nil, nil)
	repo := &repository.Repository{Owner: "octocat", Name: "widget", DestinationOwner: "acme", DestinationName: "widget"}
	cfg := config.Configuration{Options: config.MirrorOptions{MirrorMetadata: true, MirrorLabels: true, MirrorMilestones: true}}

	err := engine.runMetadataIfEnabled(context.Background(), "user-1", repo, cfg, newTestSourceClientAt(t, src.URL), newTestDestClient(t, dst.URL))
	require.Error(t, err)
	require.NotEmpty(t, repo.ErrorMessage)
}
