package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpauth "github.com/forgemirror/mirror-layer/internal/app/httpapi/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWrapWithAuthRejectsMissingCredentials(t *testing.T) {
	wrapped := wrapWithAuth(okHandler(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/activities", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrapWithAuthAllowsPublicPaths(t *testing.T) {
	wrapped := wrapWithAuth(okHandler(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWrapWithAuthAcceptsStaticTokenWithUserHeader(t *testing.T) {
	var observedUser string
	wrapped := wrapWithAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observedUser = userIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), []string{"static-token"}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/activities", nil)
	req.Header.Set("Authorization", "Bearer static-token")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", observedUser)
}

func TestWrapWithAuthRejectsStaticTokenWithoutUserHeader(t *testing.T) {
	wrapped := wrapWithAuth(okHandler(), []string{"static-token"}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/activities", nil)
	req.Header.Set("Authorization", "Bearer static-token")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWrapWithAuthAcceptsValidatorBearerToken(t *testing.T) {
	validator := httpauth.New("test-secret", time.Minute, nil)
	token, err := validator.Issue("user-42")
	require.NoError(t, err)

	var observedUser string
	wrapped := wrapWithAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observedUser = userIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), nil, validator, nil)

	req := httptest.NewRequest(http.MethodGet, "/activities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-42", observedUser)
}

func TestWrapWithAuthRejectsExpiredOrInvalidToken(t *testing.T) {
	validator := httpauth.New("test-secret", time.Minute, nil)
	wrapped := wrapWithAuth(okHandler(), nil, validator, nil)

	req := httptest.NewRequest(http.MethodGet, "/activities", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractBearerRequiresBearerScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	require.Empty(t, extractBearer(req))

	req.Header.Set("Authorization", "Bearer abc123")
	require.Equal(t, "abc123", extractBearer(req))
}
