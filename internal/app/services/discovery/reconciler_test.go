package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
)

func newTestSourceClient(t *testing.T, url string) *sourceapi.Client {
	t.Helper()
	c, err := sourceapi.New(sourceapi.Config{BaseURL: url, Token: "src-token"})
	require.NoError(t, err)
	return c
}

func testCfg(srcURL string) config.Configuration {
	return config.Configuration{
		Source: config.Credentials{BaseURL: srcURL},
		Mirror: config.MirrorPolicy{Strategy: config.StrategyFlatUser},
	}
}

// reposHandler serves /user (identity), /user/repos and /user/orgs (empty,
// so listBasic takes the no-explicit-organizations short-circuit) plus the
// starred endpoint.
func reposHandler(t *testing.T, identity string, repos string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"login":"` + identity + `","id":1}`))
		case "/user/repos":
			if r.URL.Query().Get("page") != "1" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(repos))
		case "/user/orgs":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		case "/user/starred":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		default:
			t.Fatalf("unexpected request %s", r.URL.Path)
		}
	}
}

// TestDiscoverUsesAuthenticatedSourceIdentityForMixedStrategy is the
// regression test for comment #6: mixed-strategy personal-repo
// classification must key off the source-authenticated login, not the
// destination login, even though Discover's signature still threads
// destUser through for flat-user/single-org placement.
func TestDiscoverUsesAuthenticatedSourceIdentityForMixedStrategy(t *testing.T) {
	repos := `[{"owner":"octocat","name":"widget","full_name":"octocat/widget"}]`
	src := httptest.NewServer(reposHandler(t, "octocat", repos))
	defer src.Close()

	store := storage.NewMemory()
	svc := New(store, store, nil)

	cfg := testCfg(src.URL)
	cfg.Mirror.Strategy = config.StrategyMixed
	cfg.Mirror.PersonalReposOrg = "personal"

	result, err := svc.Discover(context.Background(), "user-1", cfg, newTestSourceClient(t, src.URL), "dest-bot")
	require.NoError(t, err)
	require.Len(t, result.Targets, 1)
	require.Equal(t, "personal", result.Targets[0].Owner, "destUser must never be substituted for the source identity")
	require.Equal(t, 1, result.NewCount)
}

// TestDiscoverUpsertsNewRepositoriesAsImported covers a fresh discovery run:
// every newly-seen repo is persisted with StatusImported.
func TestDiscoverUpsertsNewRepositoriesAsImported(t *testing.T) {
	repos := `[{"owner":"octocat","name":"widget","full_name":"octocat/widget"},{"owner":"octocat","name":"gadget","full_name":"octocat/gadget"}]`
	src := httptest.NewServer(reposHandler(t, "octocat", repos))
	defer src.Close()

	store := storage.NewMemory()
	svc := New(store, store, nil)

	result, err := svc.Discover(context.Background(), "user-1", testCfg(src.URL), newTestSourceClient(t, src.URL), "dest-bot")
	require.NoError(t, err)
	require.Equal(t, 2, result.NewCount)
	require.Len(t, result.UpsertedIDs, 2)

	stored, err := store.ListRepositories(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, r := range stored {
		require.Equal(t, repository.StatusImported, r.Status)
	}
}

// TestDiscoverExcludesIgnoredRepositoriesAndPreservesTheirStatus confirms
// ignored repos are dropped from the desired set entirely, instead of being
// re-imported and overwriting the ignored status.
func TestDiscoverExcludesIgnoredRepositoriesAndPreservesTheirStatus(t *testing.T) {
	repos := `[{"owner":"octocat","name":"widget","full_name":"octocat/widget"}]`
	src := httptest.NewServer(reposHandler(t, "octocat", repos))
	defer src.Close()

	store := storage.NewMemory()
	svc := New(store, store, nil)

	_, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:             "user-1",
		Owner:              "octocat",
		Name:               "widget",
		FullName:           "octocat/widget",
		NormalizedFullName: "octocat/widget",
		Status:             repository.StatusIgnored,
	})
	require.NoError(t, err)

	result, err := svc.Discover(context.Background(), "user-1", testCfg(src.URL), newTestSourceClient(t, src.URL), "dest-bot")
	require.NoError(t, err)
	require.Empty(t, result.Targets)
	require.Zero(t, result.NewCount)

	stored, err := store.ListRepositories(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, repository.StatusIgnored, stored[0].Status)
}

// TestDiscoverPreservesPriorStatusAndMetadataOnRediscovery covers the
// reconciliation half of discovery: a repo already mirrored keeps its
// status, destination URL, and metadata cursor across a re-run.
func TestDiscoverPreservesPriorStatusAndMetadataOnRediscovery(t *testing.T) {
	repos := `[{"owner":"octocat","name":"widget","full_name":"octocat/widget"}]`
	src := httptest.NewServer(reposHandler(t, "octocat", repos))
	defer src.Close()

	store := storage.NewMemory()
	svc := New(store, store, nil)

	_, err := store.UpsertRepository(context.Background(), repository.Repository{
		UserID:             "user-1",
		Owner:              "octocat",
		Name:               "widget",
		FullName:           "octocat/widget",
		NormalizedFullName: "octocat/widget",
		Status:             repository.StatusMirrored,
		DestinationURL:     "https://dest.example/dest-bot/widget",
	})
	require.NoError(t, err)

	result, err := svc.Discover(context.Background(), "user-1", testCfg(src.URL), newTestSourceClient(t, src.URL), "dest-bot")
	require.NoError(t, err)
	require.Equal(t, 1, result.UnchangedCount)

	stored, err := store.GetRepositoryByNormalizedName(context.Background(), "user-1", "octocat/widget")
	require.NoError(t, err)
	require.Equal(t, repository.StatusMirrored, stored.Status)
	require.Equal(t, "https://dest.example/dest-bot/widget", stored.DestinationURL)
}

func TestDiscoverRejectsConfigWithoutSourceCredentials(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store, store, nil)

	_, err := svc.Discover(context.Background(), "user-1", config.Configuration{}, newTestSourceClient(t, "https://unused.example"), "dest-bot")
	require.Error(t, err)
}

// TestDiscoverOrganizationTracksMembershipCounts covers the
// /sync/organization path: an Organization record is upserted with repo
// counts.
func TestDiscoverOrganizationTracksMembershipCounts(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"login":"octocat","id":1}`))
		case "/orgs/acme-org/repos":
			if r.URL.Query().Get("page") != "1" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[
				{"owner":"acme-org","name":"widget","full_name":"acme-org/widget","private":false},
				{"owner":"acme-org","name":"secret","full_name":"acme-org/secret","private":true}
			]`))
		default:
			t.Fatalf("unexpected request %s", r.URL.Path)
		}
	}))
	defer src.Close()

	store := storage.NewMemory()
	svc := New(store, store, nil)

	cfg := testCfg(src.URL)
	cfg.Mirror.IncludePrivate = true

	result, err := svc.DiscoverOrganization(context.Background(), "user-1", cfg, newTestSourceClient(t, src.URL), "dest-bot", "acme-org", sourceapi.RoleMember)
	require.NoError(t, err)
	require.Len(t, result.Targets, 2)

	orgs, err := store.ListOrganizations(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	require.Equal(t, 2, orgs[0].TotalRepoCount)
	require.Equal(t, 1, orgs[0].PrivateRepoCount)
	require.Equal(t, 1, orgs[0].PublicRepoCount)
}
