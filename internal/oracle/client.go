// Package oracle is the dependency-metadata oracle client (component C): it
// queries the pydeps cache and falls back to the PyPI JSON API for
// available versions, dependencies, hashes, and wheel URLs. Responses are
// cached per-process; persistence across runs is out of scope here (it
// belongs to the on-disk dependency cache in internal/cache).
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/bilusteknoloji/pyflow/internal/requirement"
)

const (
	defaultBaseURL   = "https://pypi.org/pypi"
	maxRetries       = 3
	clientTimeout    = 30 * time.Second
	retryWaitMin     = 500 * time.Millisecond
	retryWaitFactor  = 2
)

// Client defines the interface for communicating with the dependency oracle.
type Client interface {
	GetPackage(ctx context.Context, name string) (*PackageInfo, error)
	GetPackageVersion(ctx context.Context, name, version string) (*PackageInfo, error)
	AvailableVersions(ctx context.Context, name string) ([]string, error)
	Dependencies(ctx context.Context, name, version string) ([]requirement.Requirement, error)
	RequiresPython(ctx context.Context, name, version string) (string, error)
	Wheels(ctx context.Context, name, version string) ([]URL, error)
	Sdist(ctx context.Context, name, version string) (*URL, error)
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for API requests (wrapped in a
// retryablehttp.Client so callers can still inject e.g. an httptest server's
// client for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient.HTTPClient = c
		}
	}
}

// WithBaseURL sets a custom PyPI-shaped base URL (useful for testing with
// httptest.Server, or for pointing at a private warehouse mirror).
func WithBaseURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.baseURL = url
		}
	}
}

// WithPydepsURL sets the pydeps cache base URL, tried before falling back to
// PyPI. The pydeps cache is assumed to mirror PyPI's JSON response shape.
func WithPydepsURL(url string) Option {
	return func(s *Service) {
		s.pydepsURL = url
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service communicates with the pydeps cache and PyPI JSON API over HTTP.
type Service struct {
	httpClient *retryablehttp.Client
	baseURL    string
	pydepsURL  string
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]*PackageInfo // per-process response cache, keyed by "name" or "name@version"
}

// compile-time proof that Service implements Client.
var _ Client = (*Service)(nil)

// New creates a new oracle client. By default it talks directly to PyPI;
// WithPydepsURL layers the pydeps cache in front of it.
func New(opts ...Option) *Service {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries - 1 // retryablehttp counts retries after the initial attempt; §7 wants 3 attempts total
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMin * (1 << maxRetries)
	rc.Logger = nil // the Service logs itself via slog, below
	rc.HTTPClient = &http.Client{Timeout: clientTimeout, Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}}
	rc.Backoff = exponentialBackoff

	s := &Service{
		httpClient: rc,
		baseURL:    defaultBaseURL,
		logger:     slog.Default(),
		cache:      make(map[string]*PackageInfo),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// exponentialBackoff implements the 500ms*2^n retry curve named in §7,
// expressed as a retryablehttp.Backoff so the policy lives in one place
// instead of a bespoke sleep loop.
func exponentialBackoff(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	wait := min
	for range attemptNum {
		wait *= retryWaitFactor
	}

	if wait > max {
		return max
	}

	return wait
}

// GetPackage fetches metadata for a package, trying pydeps first (if
// configured) then PyPI. Endpoint: GET {baseURL}/{package_name}/json
func (s *Service) GetPackage(ctx context.Context, name string) (*PackageInfo, error) {
	return s.cached(name, func() (*PackageInfo, error) {
		return s.fetchWithFallback(ctx, name, "")
	})
}

// GetPackageVersion fetches metadata for a specific version of a package.
// Endpoint: GET {baseURL}/{package_name}/{version}/json
func (s *Service) GetPackageVersion(ctx context.Context, name, version string) (*PackageInfo, error) {
	return s.cached(name+"@"+version, func() (*PackageInfo, error) {
		return s.fetchWithFallback(ctx, name, version)
	})
}

// AvailableVersions returns the known versions of name, from release keys.
func (s *Service) AvailableVersions(ctx context.Context, name string) ([]string, error) {
	info, err := s.GetPackage(ctx, name)
	if err != nil {
		return nil, err
	}

	if len(info.Releases) == 0 {
		if info.Info.Version == "" {
			return nil, nil
		}

		return []string{info.Info.Version}, nil
	}

	versions := make([]string, 0, len(info.Releases))

	for v, files := range info.Releases {
		if len(files) > 0 {
			versions = append(versions, v)
		}
	}

	return versions, nil
}

// Dependencies returns the parsed requirements for a specific release.
// Per §4.2, a pydeps not-found result falls back to the wheel METADATA;
// here that fallback is PyPI's own requires_dist (PyPI already derives that
// field from the uploaded distribution's METADATA, so no separate wheel
// download is needed to recover it).
func (s *Service) Dependencies(ctx context.Context, name, version string) ([]requirement.Requirement, error) {
	info, err := s.GetPackageVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}

	reqs := make([]requirement.Requirement, 0, len(info.Info.RequiresDist))
	for _, raw := range info.Info.RequiresDist {
		reqs = append(reqs, requirement.ParseRequirement(raw))
	}

	return reqs, nil
}

// RequiresPython returns the requires_python constraint recorded for a
// specific release, or "" if the distribution declares none.
func (s *Service) RequiresPython(ctx context.Context, name, version string) (string, error) {
	info, err := s.GetPackageVersion(ctx, name, version)
	if err != nil {
		return "", err
	}

	return info.Info.RequiresPython, nil
}

// Wheels returns the bdist_wheel artifacts available for a release.
func (s *Service) Wheels(ctx context.Context, name, version string) ([]URL, error) {
	info, err := s.GetPackageVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}

	urls := urlsForVersion(info, version)

	var wheels []URL

	for _, u := range urls {
		if u.IsWheel() {
			wheels = append(wheels, u)
		}
	}

	return wheels, nil
}

// Sdist returns the source distribution for a release, if one was uploaded.
func (s *Service) Sdist(ctx context.Context, name, version string) (*URL, error) {
	info, err := s.GetPackageVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}

	for _, u := range urlsForVersion(info, version) {
		if u.IsSdist() {
			uu := u

			return &uu, nil
		}
	}

	return nil, nil
}

func urlsForVersion(info *PackageInfo, version string) []URL {
	if files, ok := info.Releases[version]; ok {
		return files
	}

	return info.URLs
}

func (s *Service) cached(key string, fetch func() (*PackageInfo, error)) (*PackageInfo, error) {
	s.mu.Lock()
	if info, ok := s.cache[key]; ok {
		s.mu.Unlock()

		return info, nil
	}
	s.mu.Unlock()

	info, err := fetch()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = info
	s.mu.Unlock()

	return info, nil
}

// fetchWithFallback tries the pydeps cache first (if configured), then PyPI.
func (s *Service) fetchWithFallback(ctx context.Context, name, version string) (*PackageInfo, error) {
	if s.pydepsURL != "" {
		info, err := s.doRequest(ctx, s.pydepsURL, name, version)
		if err == nil {
			return info, nil
		}

		var nf *NotFoundError
		if !asNotFound(err, &nf) {
			s.logger.Debug("pydeps cache unavailable, falling back to PyPI",
				slog.String("package", name), slog.String("error", err.Error()))
		}
	}

	return s.doRequest(ctx, s.baseURL, name, version)
}

func asNotFound(err error, target **NotFoundError) bool {
	nf, ok := err.(*NotFoundError)
	if ok {
		*target = nf
	}

	return ok
}

// doRequest performs a single HTTP GET (with the retryablehttp client's
// built-in retry/backoff for transient failures) and decodes the response.
func (s *Service) doRequest(ctx context.Context, baseURL, name, version string) (*PackageInfo, error) {
	url := fmt.Sprintf("%s/%s/json", baseURL, name)
	if version != "" {
		url = fmt.Sprintf("%s/%s/%s/json", baseURL, name, version)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Name: name, Err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Name: name, Version: version}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UnavailableError{Name: name, Err: fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Name: name, Err: fmt.Errorf("reading response from %s: %w", url, err)}
	}

	var info PackageInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", url, err)
	}

	return &info, nil
}
