package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	httpauth "github.com/forgemirror/mirror-layer/internal/app/httpapi/auth"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

var publicPaths = map[string]struct{}{
	"/healthz":            {},
	"/system/descriptors": {},
}

type ctxKey string

const ctxUserIDKey ctxKey = "httpapi.user_id"

// wrapWithAuth resolves the caller's userID from a bearer session token
// (validated against validator) or a static API token paired with an
// X-User-ID header (for maintenance scripts that do not hold a session).
// /healthz, /metrics, and /system/descriptors are exempt.
func wrapWithAuth(next http.Handler, tokens []string, validator *httpauth.Validator, log *logger.Logger) http.Handler {
	tokenSet := normaliseTokens(tokens)
	if len(tokenSet) == 0 && validator == nil && log != nil {
		log.Warn("no API tokens or JWT validator configured; every authenticated endpoint will reject requests")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		if token == "" {
			unauthorised(w)
			return
		}

		if _, ok := tokenSet[token]; ok {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID == "" {
				writeError(w, http.StatusForbidden, fmt.Errorf("X-User-ID header required with a static API token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
			return
		}

		if validator != nil {
			if userID, err := validator.Validate(r.Context(), token); err == nil {
				next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
				return
			}
		}

		unauthorised(w)
	})
}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(ctxUserIDKey).(string)
	return userID
}

func extractBearer(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func normaliseTokens(tokens []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range tokens {
		t := strings.TrimSpace(token)
		if t == "" {
			continue
		}
		set[t] = struct{}{}
	}
	return set
}

func unauthorised(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorised"))
}
