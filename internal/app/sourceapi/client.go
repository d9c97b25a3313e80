package sourceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	core "github.com/forgemirror/mirror-layer/internal/app/core/service"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Config configures a Client for one credential.
type Config struct {
	BaseURL string
	Token   string

	// HTTPClient is reused across calls; a default 30s-timeout client is
	// constructed when nil.
	HTTPClient *http.Client
	Logger     *logger.Logger

	// RedisClient, when non-nil, backs the per-token identity cache across
	// process instances. When nil the client falls back to an in-process
	// cache. The outbound rate limiter is always in-process.
	RedisClient *goredis.Client

	// MaxRateLimitWait bounds how long the client will sleep when the
	// source reports remaining==0; exceeding it fails the call with
	// RateLimited instead of blocking indefinitely.
	MaxRateLimitWait time.Duration

	// RequestsPerSecond/Burst bound outbound call rate before any
	// response-header-driven wait is even observed.
	RequestsPerSecond float64
	Burst             int
}

// identityCacheTTL matches "cached per-token for one minute" in spec §4.1.
const identityCacheTTL = time.Minute

// Client is a paginated, rate-limit-aware GitHub-compatible REST client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
	limiter    *rate.Limiter
	redis      *goredis.Client
	maxWait    time.Duration

	identityMu    sync.Mutex
	identityCache *User
	identityAt    time.Time
}

// New constructs a Client for one user's source credentials.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, apperr.New("sourceapi.New", apperr.ConfigInvalid, fmt.Errorf("source base URL is required"))
	}
	if _, err := url.Parse(base); err != nil {
		return nil, apperr.New("sourceapi.New", apperr.ConfigInvalid, fmt.Errorf("invalid source base URL: %w", err))
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, apperr.New("sourceapi.New", apperr.ConfigInvalid, fmt.Errorf("source token is required"))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("sourceapi")
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps * 2)
	}
	maxWait := cfg.MaxRateLimitWait
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		redis:      cfg.RedisClient,
		maxWait:    maxWait,
	}, nil
}

// Authenticate returns the authenticated user, using the one-minute
// per-token identity cache described in spec §4.1.
func (c *Client) Authenticate(ctx context.Context) (User, error) {
	if cached, ok := c.cachedIdentity(ctx); ok {
		return cached, nil
	}
	var u User
	if err := c.get(ctx, "/user", &u); err != nil {
		return User{}, err
	}
	c.storeIdentity(ctx, u)
	return u, nil
}

func (c *Client) cachedIdentity(ctx context.Context) (User, bool) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.redis != nil {
		val, err := c.redis.Get(ctx, c.identityCacheKey()).Result()
		if err == nil {
			var u User
			if jsonErr := json.Unmarshal([]byte(val), &u); jsonErr == nil {
				return u, true
			}
		}
		return User{}, false
	}
	if c.identityCache != nil && time.Since(c.identityAt) < identityCacheTTL {
		return *c.identityCache, true
	}
	return User{}, false
}

func (c *Client) storeIdentity(ctx context.Context, u User) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.redis != nil {
		if raw, err := json.Marshal(u); err == nil {
			_ = c.redis.Set(ctx, c.identityCacheKey(), raw, identityCacheTTL).Err()
		}
		return
	}
	cached := u
	c.identityCache = &cached
	c.identityAt = time.Now()
}

func (c *Client) identityCacheKey() string {
	return "sourceapi:identity:" + tokenFingerprint(c.token)
}

// ListUserRepos lists the authenticated user's own repositories.
func (c *Client) ListUserRepos(ctx context.Context, opts ListReposOptions) ([]Repo, error) {
	return c.paginateRepos(ctx, "/user/repos", opts)
}

// ListStarred lists the authenticated user's starred repositories, each
// flagged Starred=true.
func (c *Client) ListStarred(ctx context.Context) ([]Repo, error) {
	repos, err := c.paginateRepos(ctx, "/user/starred", ListReposOptions{IncludePrivate: true, IncludeForks: true})
	if err != nil {
		return nil, err
	}
	for i := range repos {
		repos[i].Starred = true
	}
	return repos, nil
}

// ListOrgsForUser lists organizations the authenticated user belongs to,
// with membership role.
func (c *Client) ListOrgsForUser(ctx context.Context) ([]Organization, error) {
	var all []Organization
	page := 1
	for {
		var batch []Organization
		if err := c.get(ctx, fmt.Sprintf("/user/orgs?page=%d&limit=50", page), &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 50 {
			break
		}
		page++
	}
	return all, nil
}

// ListOrgRepos lists repositories owned by org, filtered by visibility.
func (c *Client) ListOrgRepos(ctx context.Context, org string, opts ListReposOptions) ([]Repo, error) {
	return c.paginateRepos(ctx, fmt.Sprintf("/orgs/%s/repos", url.PathEscape(org)), opts)
}

func (c *Client) paginateRepos(ctx context.Context, path string, opts ListReposOptions) ([]Repo, error) {
	var all []Repo
	page := 1
	for {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		var batch []Repo
		if err := c.get(ctx, fmt.Sprintf("%s%spage=%d&limit=50", path, sep, page), &batch); err != nil {
			return nil, err
		}
		for _, r := range batch {
			if r.Private && !opts.IncludePrivate {
				continue
			}
			if r.Fork && !opts.IncludeForks {
				continue
			}
			if opts.Visibility != "" && r.Visibility != opts.Visibility {
				continue
			}
			all = append(all, r)
		}
		if len(batch) < 50 {
			break
		}
		page++
	}
	return all, nil
}

// ListIssues lists every issue for owner/name.
func (c *Client) ListIssues(ctx context.Context, owner, name string) ([]Issue, error) {
	var all []Issue
	page := 1
	path := fmt.Sprintf("/repos/%s/%s/issues?state=all", url.PathEscape(owner), url.PathEscape(name))
	for {
		var batch []Issue
		if err := c.get(ctx, fmt.Sprintf("%s&page=%d&limit=50", path, page), &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 50 {
			break
		}
		page++
	}
	return all, nil
}

// ListPullRequests lists every pull request for owner/name.
func (c *Client) ListPullRequests(ctx context.Context, owner, name string) ([]PullRequest, error) {
	var all []PullRequest
	page := 1
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=all", url.PathEscape(owner), url.PathEscape(name))
	for {
		var batch []PullRequest
		if err := c.get(ctx, fmt.Sprintf("%s&page=%d&limit=50", path, page), &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 50 {
			break
		}
		page++
	}
	return all, nil
}

// ListLabels lists every label defined on owner/name.
func (c *Client) ListLabels(ctx context.Context, owner, name string) ([]Label, error) {
	var all []Label
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/labels", url.PathEscape(owner), url.PathEscape(name)), &all); err != nil {
		return nil, err
	}
	return all, nil
}

// ListMilestones lists every milestone defined on owner/name.
func (c *Client) ListMilestones(ctx context.Context, owner, name string) ([]Milestone, error) {
	var all []Milestone
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/milestones?state=all", url.PathEscape(owner), url.PathEscape(name)), &all); err != nil {
		return nil, err
	}
	return all, nil
}

// ListReleases lists every release published on owner/name.
func (c *Client) ListReleases(ctx context.Context, owner, name string) ([]Release, error) {
	var all []Release
	page := 1
	path := fmt.Sprintf("/repos/%s/%s/releases", url.PathEscape(owner), url.PathEscape(name))
	for {
		var batch []Release
		if err := c.get(ctx, fmt.Sprintf("%s?page=%d&limit=50", path, page), &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 50 {
			break
		}
		page++
	}
	return all, nil
}

// HasWiki reports whether owner/name has a non-empty wiki.
func (c *Client) HasWiki(ctx context.Context, owner, name string) (bool, error) {
	var repo Repo
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name)), &repo); err != nil {
		return false, err
	}
	return repo.HasWiki, nil
}

func tokenFingerprint(token string) string {
	if len(token) <= 8 {
		return "short"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// get issues a GET request against path (relative to baseURL), retrying per
// the source retry policy and honoring rate-limit headers.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return core.Retry(ctx, core.SourceRetryPolicy, func() error {
		return c.doOnce(ctx, path, out)
	})
}

func (c *Client) doOnce(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.New("sourceapi.get", apperr.Cancelled, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperr.New("sourceapi.get", apperr.Fatal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.New("sourceapi.get", apperr.Transient, err)
	}
	defer resp.Body.Close()

	if err := c.handleRateLimit(ctx, resp); err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New("sourceapi.get", apperr.RateLimited, fmt.Errorf("429 from source"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.New("sourceapi.get", apperr.SourceAuthInvalid, fmt.Errorf("source auth rejected (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New("sourceapi.get", apperr.NotFound, fmt.Errorf("not found: %s", path))
	case resp.StatusCode >= 500:
		return apperr.New("sourceapi.get", apperr.Transient, fmt.Errorf("source returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return apperr.New("sourceapi.get", apperr.Fatal, fmt.Errorf("source returned %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return apperr.New("sourceapi.get", apperr.Fatal, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// handleRateLimit inspects X-RateLimit-Remaining/X-RateLimit-Reset and
// blocks until the reset epoch when remaining==0, up to MaxRateLimitWait.
func (c *Client) handleRateLimit(ctx context.Context, resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 0 {
		return nil
	}
	resetHeader := resp.Header.Get("X-RateLimit-Reset")
	resetEpoch, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return nil
	}
	wait := time.Until(time.Unix(resetEpoch, 0))
	if wait <= 0 {
		return nil
	}
	if wait > c.maxWait {
		return apperr.New("sourceapi.handleRateLimit", apperr.RateLimited, fmt.Errorf("reset wait %s exceeds max %s", wait, c.maxWait))
	}
	c.log.WithField("wait", wait.String()).Warn("source rate limit exhausted; waiting for reset")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return apperr.New("sourceapi.handleRateLimit", apperr.Cancelled, ctx.Err())
	}
}
