package destapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, Token: "tok"})
	require.NoError(t, err)
	return c
}

func TestAuthenticateReturnsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":7,"login":"mirror-bot","is_admin":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	u, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mirror-bot", u.Login)
	require.True(t, u.IsAdmin)
}

// TestAuthenticateClassifiesZeroIdentityRegression covers the "uid:0,
// name:\"\"" destination auth regression (spec §9 Open Question).
func TestAuthenticateClassifiesZeroIdentityRegression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":0,"login":""}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Authenticate(context.Background())
	require.Error(t, err)
	require.Equal(t, apperr.DestinationAuthInvalid, apperr.KindOf(err))
}

func TestEnsureOwnerReturnsExistingUserWithoutCreating(t *testing.T) {
	var orgCreateCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/acme":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/orgs":
			orgCreateCalls++
			w.WriteHeader(http.StatusCreated)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	owner, fellBack, err := c.EnsureOwner(context.Background(), "acme", "public")
	require.NoError(t, err)
	require.Equal(t, "acme", owner)
	require.False(t, fellBack)
	require.Zero(t, orgCreateCalls)
}

func TestEnsureOwnerCreatesOrgWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/acme":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/orgs":
			w.WriteHeader(http.StatusCreated)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	owner, fellBack, err := c.EnsureOwner(context.Background(), "acme", "public")
	require.NoError(t, err)
	require.Equal(t, "acme", owner)
	require.False(t, fellBack)
}

// TestEnsureOwnerFallsBackToAuthenticatedUserWhenForbidden covers the
// "destination forbade org %q; used authenticated user instead" warning path
// exercised by the mirror engine.
func TestEnsureOwnerFallsBackToAuthenticatedUserWhenForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/acme":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/orgs":
			w.WriteHeader(http.StatusForbidden)
		case r.Method == http.MethodGet && r.URL.Path == "/user":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":1,"login":"mirror-bot"}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	owner, fellBack, err := c.EnsureOwner(context.Background(), "acme", "public")
	require.NoError(t, err)
	require.Equal(t, "mirror-bot", owner)
	require.True(t, fellBack)
}

func TestCreatePullMirrorToleratesAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/migrate", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	handle, err := c.CreatePullMirror(context.Background(), "acme", "widget", "https://source.example/octocat/widget.git", "public", 3600, false, false, false)
	require.NoError(t, err)
	require.Equal(t, "acme", handle.Owner)
	require.Equal(t, "widget", handle.Name)
}

func TestRepoExistsReportsFalseOnNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	exists, err := c.RepoExists(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestListMirroredReposOnlyReturnsMirrors(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		w.WriteHeader(http.StatusOK)
		if page == 1 {
			_, _ = w.Write([]byte(`[{"owner_login":"acme","name":"widget","mirror":true},{"owner_login":"acme","name":"native","mirror":false}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	repos, err := c.ListMirroredRepos(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 1)
	require.Equal(t, "widget", repos[0].Name)
}

func TestUpsertLabelToleratesConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.UpsertLabel(context.Background(), "acme", "widget", map[string]any{"name": "bug"})
	require.NoError(t, err)
}

func TestNewRejectsMissingBaseURLOrToken(t *testing.T) {
	_, err := New(Config{Token: "tok"})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "https://example.com"})
	require.Error(t, err)
}
