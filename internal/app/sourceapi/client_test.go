package sourceapi

import (
	"context"
	"fmt"
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

func TestAuthenticateCachesIdentityForOneMinute(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"login":"octocat","id":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	u1, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "octocat", u1.Login)

	u2, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, u1, u2)
	require.Equal(t, 1, calls)
}

func TestListUserReposFiltersPrivateAndForksByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[
			{"owner":"octocat","name":"pub","full_name":"octocat/pub","private":false,"fork":false},
			{"owner":"octocat","name":"priv","full_name":"octocat/priv","private":true,"fork":false},
			{"owner":"octocat","name":"forked","full_name":"octocat/forked","private":false,"fork":true}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	repos, err := c.ListUserRepos(context.Background(), ListReposOptions{})
	require.NoError(t, err)
	require.Len(t, repos, 1)
	require.Equal(t, "octocat/pub", repos[0].FullName)
}

func TestListUserReposIncludesPrivateAndForksWhenRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[
			{"owner":"octocat","name":"pub","full_name":"octocat/pub","private":false,"fork":false},
			{"owner":"octocat","name":"priv","full_name":"octocat/priv","private":true,"fork":false},
			{"owner":"octocat","name":"forked","full_name":"octocat/forked","private":false,"fork":true}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	repos, err := c.ListUserRepos(context.Background(), ListReposOptions{IncludePrivate: true, IncludeForks: true})
	require.NoError(t, err)
	require.Len(t, repos, 3)
}

func TestListStarredMarksEveryRepoStarred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"owner":"octocat","name":"widget","full_name":"octocat/widget"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	repos, err := c.ListStarred(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 1)
	require.True(t, repos[0].Starred)
}

func TestHasWikiReadsFlagFromRepoDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/octocat/widget", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"has_wiki":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	has, err := c.HasWiki(context.Background(), "octocat", "widget")
	require.NoError(t, err)
	require.True(t, has)
}

// TestDoOnceClassifiesTransportErrors exercises response classification
// directly against doOnce, bypassing the outer retry wrapper (which would
// otherwise turn the 5xx case into several seconds of real backoff sleep).
func TestDoOnceClassifiesTransportErrors(t *testing.T) {
	cases := []struct {
		status int
		kind   apperr.Kind
	}{
		{http.StatusUnauthorized, apperr.SourceAuthInvalid},
		{http.StatusForbidden, apperr.SourceAuthInvalid},
		{http.StatusNotFound, apperr.NotFound},
		{http.StatusInternalServerError, apperr.Transient},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status-%d", tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			err := c.doOnce(context.Background(), "/repos/octocat/widget", nil)
			require.Error(t, err)
			require.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestNewRejectsMissingBaseURLOrToken(t *testing.T) {
	_, err := New(Config{Token: "tok"})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "https://example.com"})
	require.Error(t, err)
}
