// Package destapi wraps a Gitea-compatible REST v1 destination forge (C3):
// owner/org provisioning, pull-mirror creation and sync triggering, metadata
// CRUD, and repository archival/deletion. It shares the source client's
// retry/backoff policy and additionally classifies the destination's
// observed "uid:0, name:\"\"" authentication regression as
// DestinationAuthInvalid (spec §9 Open Question) and wraps outbound calls in
// an optional circuit breaker adapted from the teacher's
// infrastructure/resilience.CircuitBreaker so a batch does not pay the full
// retry budget on every item once the destination is known to be down.
package destapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	core "github.com/forgemirror/mirror-layer/internal/app/core/service"
	"github.com/forgemirror/mirror-layer/internal/app/infrastructure/resilience"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// User is the authenticated destination identity.
type User struct {
	ID       int64  `json:"id"`
	Login    string `json:"login"`
	IsAdmin  bool   `json:"is_admin"`
}

// MirrorHandle identifies a created pull-mirror for subsequent sync
// triggers.
type MirrorHandle struct {
	Owner string
	Name  string
}

// Repo is a destination-side repository as returned by the owned-repos
// listing, used by the cleanup reconciler to discover orphans.
type Repo struct {
	Owner    string `json:"owner_login"`
	Name     string `json:"name"`
	IsMirror bool   `json:"mirror"`
	Archived bool   `json:"archived"`
}

// Config configures a Client for one destination credential.
type Config struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
	Logger     *logger.Logger

	RequestsPerSecond float64
	Burst             int

	// CircuitBreaker, when non-nil, wraps every outbound call.
	CircuitBreaker *resilience.CircuitBreaker
}

// Client is a Gitea-compatible destination API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
}

// New constructs a Client for one user's destination credentials.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, apperr.New("destapi.New", apperr.ConfigInvalid, fmt.Errorf("destination base URL is required"))
	}
	if _, err := url.Parse(base); err != nil {
		return nil, apperr.New("destapi.New", apperr.ConfigInvalid, fmt.Errorf("invalid destination base URL: %w", err))
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, apperr.New("destapi.New", apperr.ConfigInvalid, fmt.Errorf("destination token is required"))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("destapi")
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps * 2)
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker:    cfg.CircuitBreaker,
	}, nil
}

// Authenticate validates the token and returns the destination user,
// including whether it has admin (org-creation) rights.
func (c *Client) Authenticate(ctx context.Context) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", nil, &u); err != nil {
		return User{}, err
	}
	if err := classifyIdentity(u); err != nil {
		c.log.WithField("raw", fmt.Sprintf("%+v", u)).Warn("destination returned an empty identity; treating as invalid destination auth")
		return User{}, err
	}
	return u, nil
}

// classifyIdentity detects the "uid:0, name:\"\"" destination auth
// regression noted in spec §9: default to DestinationAuthInvalid, but never
// escalate beyond that classification without further evidence.
func classifyIdentity(u User) error {
	if u.ID == 0 && strings.TrimSpace(u.Login) == "" {
		return apperr.New("destapi.Authenticate", apperr.DestinationAuthInvalid, fmt.Errorf("destination returned uid:0, name:\"\" (raw=%+v)", u))
	}
	return nil
}

// EnsureOwner makes name exist as an owner on the destination: a user if one
// already exists with that name, otherwise an organization. AlreadyExists is
// coerced to success. Forbidden falls back to the authenticated user as
// owner (the caller records this as a warning event).
func (c *Client) EnsureOwner(ctx context.Context, name string, visibility string) (owner string, fellBack bool, err error) {
	exists, err := c.userExists(ctx, name)
	if err != nil {
		return "", false, err
	}
	if exists {
		return name, false, nil
	}

	body := map[string]any{
		"username":    name,
		"visibility":  visibility,
	}
	createErr := c.do(ctx, http.MethodPost, "/orgs", body, nil)
	switch {
	case createErr == nil:
		return name, false, nil
	case apperr.Is(createErr, apperr.Conflict):
		return name, false, nil
	case isForbidden(createErr):
		auth, authErr := c.Authenticate(ctx)
		if authErr != nil {
			return "", false, authErr
		}
		c.log.WithField("org", name).Warn("destination forbade org creation; falling back to authenticated user as owner")
		return auth.Login, true, nil
	default:
		return "", false, createErr
	}
}

func isForbidden(err error) bool {
	return apperr.Is(err, apperr.DestinationAuthInvalid) && strings.Contains(err.Error(), "403")
}

func (c *Client) userExists(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(name), nil, nil)
	if err == nil {
		return true, nil
	}
	if apperr.Is(err, apperr.NotFound) {
		return false, nil
	}
	return false, err
}

// CreatePullMirror creates (idempotently, keyed on owner/name) a
// destination-side repository that periodically pulls cloneURL.
func (c *Client) CreatePullMirror(ctx context.Context, owner, name, cloneURL, visibility string, intervalSeconds int, lfs, wiki, includeAll bool) (MirrorHandle, error) {
	body := map[string]any{
		"repo_name":      name,
		"clone_addr":     cloneURL,
		"repo_owner":     owner,
		"mirror":         true,
		"mirror_interval": fmt.Sprintf("%ds", intervalSeconds),
		"private":        visibility == "private",
		"lfs":            lfs,
		"wiki":           wiki,
		"issues":         includeAll,
		"pull_requests":  includeAll,
		"releases":       includeAll,
	}
	err := c.do(ctx, http.MethodPost, "/repos/migrate", body, nil)
	if err != nil && !apperr.Is(err, apperr.Conflict) {
		return MirrorHandle{}, err
	}
	return MirrorHandle{Owner: owner, Name: name}, nil
}

// TriggerSync instructs the destination to pull from its configured
// upstream.
func (c *Client) TriggerSync(ctx context.Context, owner, name string) error {
	path := fmt.Sprintf("/repos/%s/%s/mirror-sync", url.PathEscape(owner), url.PathEscape(name))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RepoExists reports whether owner/name exists on the destination.
func (c *Client) RepoExists(ctx context.Context, owner, name string) (bool, error) {
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return true, nil
	}
	if apperr.Is(err, apperr.NotFound) {
		return false, nil
	}
	return false, err
}

// Archive archives owner/name on the destination.
func (c *Client) Archive(ctx context.Context, owner, name string) error {
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	return c.do(ctx, http.MethodPatch, path, map[string]any{"archived": true}, nil)
}

// Delete deletes owner/name from the destination.
func (c *Client) Delete(ctx context.Context, owner, name string) error {
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListMirroredRepos lists every repository visible to the authenticated
// destination identity that is itself a pull-mirror, for the cleanup
// reconciler's orphan scan. Non-mirror repositories sharing the account are
// never considered for deletion.
func (c *Client) ListMirroredRepos(ctx context.Context) ([]Repo, error) {
	var all []Repo
	page := 1
	for {
		var batch []Repo
		path := fmt.Sprintf("/repos/search?limit=50&page=%d", page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, r := range batch {
			if r.IsMirror {
				all = append(all, r)
			}
		}
		if len(batch) < 50 {
			return all, nil
		}
		page++
	}
}

// -- Metadata CRUD ---------------------------------------------------------

// UpsertLabel creates or updates a label on owner/name.
func (c *Client) UpsertLabel(ctx context.Context, owner, name string, label map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/labels", url.PathEscape(owner), url.PathEscape(name))
	err := c.do(ctx, http.MethodPost, path, label, nil)
	if apperr.Is(err, apperr.Conflict) {
		return nil
	}
	return err
}

// UpsertMilestone creates or updates a milestone on owner/name.
func (c *Client) UpsertMilestone(ctx context.Context, owner, name string, milestone map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/milestones", url.PathEscape(owner), url.PathEscape(name))
	err := c.do(ctx, http.MethodPost, path, milestone, nil)
	if apperr.Is(err, apperr.Conflict) {
		return nil
	}
	return err
}

// UpsertIssue creates an issue (with comments) on owner/name.
func (c *Client) UpsertIssue(ctx context.Context, owner, name string, issue map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(name))
	return c.do(ctx, http.MethodPost, path, issue, nil)
}

// UpsertIssueComment adds a comment to an existing destination issue.
func (c *Client) UpsertIssueComment(ctx context.Context, owner, name string, issueNumber int, comment map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", url.PathEscape(owner), url.PathEscape(name), issueNumber)
	return c.do(ctx, http.MethodPost, path, comment, nil)
}

// UpsertPullRequest creates a pull request (with comments) on owner/name.
func (c *Client) UpsertPullRequest(ctx context.Context, owner, name string, pr map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(owner), url.PathEscape(name))
	return c.do(ctx, http.MethodPost, path, pr, nil)
}

// UpsertRelease creates a release on owner/name.
func (c *Client) UpsertRelease(ctx context.Context, owner, name string, release map[string]any) error {
	path := fmt.Sprintf("/repos/%s/%s/releases", url.PathEscape(owner), url.PathEscape(name))
	err := c.do(ctx, http.MethodPost, path, release, nil)
	if apperr.Is(err, apperr.Conflict) {
		return nil
	}
	return err
}

// -- transport --------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	run := func() error { return c.doOnce(ctx, method, path, body, out) }
	wrapped := func() error {
		return core.Retry(ctx, core.SourceRetryPolicy, run)
	}
	if c.breaker == nil {
		return wrapped()
	}
	err := c.breaker.Execute(ctx, wrapped)
	if err == resilience.ErrCircuitOpen {
		return apperr.New("destapi.do", apperr.DestinationAuthInvalid, err)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.New("destapi.do", apperr.Cancelled, err)
	}

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperr.New("destapi.do", apperr.Fatal, err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.New("destapi.do", apperr.Fatal, err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.New("destapi.do", apperr.Transient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusConflict:
		return apperr.New("destapi.do", apperr.Conflict, fmt.Errorf("already exists"))
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New("destapi.do", apperr.RateLimited, fmt.Errorf("429 from destination"))
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.New("destapi.do", apperr.DestinationAuthInvalid, fmt.Errorf("destination auth rejected (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusForbidden:
		return apperr.New("destapi.do", apperr.DestinationAuthInvalid, fmt.Errorf("destination forbidden (403)"))
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New("destapi.do", apperr.NotFound, fmt.Errorf("not found: %s", path))
	case resp.StatusCode >= 500:
		return apperr.New("destapi.do", apperr.Transient, fmt.Errorf("destination returned %d", resp.StatusCode))
	default:
		return apperr.New("destapi.do", apperr.Fatal, fmt.Errorf("destination returned %d", resp.StatusCode))
	}
}
