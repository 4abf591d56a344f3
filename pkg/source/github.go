package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

const apiVersion = "2022-11-28"

// Config configures a Fetcher.
type Config struct {
	// APIURL is the source-hosting REST base URL.
	APIURL string

	// Timeout bounds a single HTTP request. Zero disables it; the caller's
	// context still applies.
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Fetcher downloads repository archives and metadata from a GitHub-compatible API.
type Fetcher struct {
	apiURL string
	client *http.Client
	logger zerolog.Logger
}

// Repository is the metadata of a source repository.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Private       bool      `json:"private"`
	Description   string    `json:"description"`
	URL           string    `json:"html_url"`
	DefaultBranch string    `json:"default_branch"`
	Language      string    `json:"language"`
	Topics        []string  `json:"topics"`
	Homepage      string    `json:"homepage"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Owner         struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	} `json:"owner"`
}

// Tree is an expanded source tree.
type Tree struct {
	// Dir is the directory the archive was expanded into.
	Dir string

	// Root is the repository root inside Dir.
	Root string

	// Entries are the top-level entries of Dir.
	Entries []string
}

// NewFetcher creates a new fetcher.
func NewFetcher(cfg Config, logger zerolog.Logger) *Fetcher {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		apiURL: apiURL,
		client: client,
		logger: logger.With().Str("component", "source-fetcher").Logger(),
	}
}

// Fetch downloads the zipball of owner/repo at branch into destDir and returns
// the archive path. Only destDir is written.
func (f *Fetcher) Fetch(ctx context.Context, owner, repo, branch, token, destDir string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/zipball/%s",
		f.apiURL, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(branch))

	resp, err := f.do(ctx, endpoint, token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := statusError(resp, fmt.Sprintf("%s/%s@%s", owner, repo, branch)); err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", engine.NewStageError("failed to create source directory", err)
	}
	out, err := os.CreateTemp(destDir, ".source-*.zip")
	if err != nil {
		return "", engine.NewStageError("failed to create archive file", err)
	}
	n, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(out.Name())
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", engine.NewStageError("failed to write archive", err)
	}

	f.logger.Debug().
		Str("repository", owner+"/"+repo).
		Str("branch", branch).
		Int64("bytes", n).
		Msg("Repository archive downloaded")

	return out.Name(), nil
}

// Acquire parses repoURL, fetches branch and expands it into destDir.
func (f *Fetcher) Acquire(ctx context.Context, repoURL, branch, token, destDir string) (*Tree, error) {
	owner, repo, err := engine.ParseRepositoryURL(repoURL)
	if err != nil {
		return nil, engine.NewConfigValidationError("invalid repository url", err)
	}

	archive, err := f.Fetch(ctx, owner, repo, branch, token, destDir)
	if err != nil {
		return nil, err
	}

	entries, err := ExpandArchive(archive, destDir)
	if err != nil {
		_ = os.Remove(archive)
		return nil, err
	}

	tree := &Tree{Dir: destDir, Root: destDir, Entries: entries}
	if len(entries) == 1 {
		candidate := filepath.Join(destDir, entries[0])
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			tree.Root = candidate
		}
	}

	f.logger.Info().
		Str("repository", owner+"/"+repo).
		Str("branch", branch).
		Int("entries", len(entries)).
		Msg("Source acquired")

	return tree, nil
}

// Repository looks up repository metadata.
func (f *Fetcher) Repository(ctx context.Context, owner, repo, token string) (*Repository, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", f.apiURL, url.PathEscape(owner), url.PathEscape(repo))

	resp, err := f.do(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp, owner+"/"+repo); err != nil {
		return nil, err
	}

	var r Repository
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, engine.NewTransientError("failed to decode repository metadata", err).
			WithCode(engine.ErrCodeSourceUnavailable)
	}
	return &r, nil
}

// DefaultPerPage is the listing page size used when none is given.
const DefaultPerPage = 10

// ListRepositories lists the repositories the token can see, most recently
// updated first. page starts at 1; perPage is capped at 100.
func (f *Fetcher) ListRepositories(ctx context.Context, token string, page, perPage int) ([]Repository, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > 100 {
		perPage = 100
	}
	q := url.Values{}
	q.Set("sort", "updated")
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	resp, err := f.do(ctx, f.apiURL+"/user/repos?"+q.Encode(), token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp, "user repositories"); err != nil {
		return nil, err
	}

	repos := []Repository{}
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, engine.NewTransientError("failed to decode repository listing", err).
			WithCode(engine.ErrCodeSourceUnavailable)
	}
	return repos, nil
}

// Branch reports whether branch exists on owner/repo. A missing branch is a
// SourceNotFound error.
func (f *Fetcher) Branch(ctx context.Context, owner, repo, branch, token string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/branches/%s",
		f.apiURL, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(branch))

	resp, err := f.do(ctx, endpoint, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return statusError(resp, fmt.Sprintf("%s/%s@%s", owner, repo, branch))
}

// CheckRepository confirms that repoURL is reachable with token and that
// branch exists. An empty branch is checked against the default branch.
func (f *Fetcher) CheckRepository(ctx context.Context, repoURL, branch, token string) (*Repository, error) {
	owner, name, err := engine.ParseRepositoryURL(repoURL)
	if err != nil {
		return nil, engine.NewConfigValidationError("invalid repository url", err)
	}
	repo, err := f.Repository(ctx, owner, name, token)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = repo.DefaultBranch
	}
	if err := f.Branch(ctx, owner, name, branch, token); err != nil {
		return nil, err
	}
	return repo, nil
}

func (f *Fetcher) do(ctx context.Context, endpoint, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// url.Error carries the request URL only; the token lives in a header.
		return nil, engine.NewTransientError("source host unreachable", err).
			WithCode(engine.ErrCodeSourceUnavailable)
	}
	return resp, nil
}

// statusError maps non-2xx responses onto the error taxonomy.
func statusError(resp *http.Response, what string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := errors.New(strings.TrimSpace(fmt.Sprintf("%s %s", resp.Status, body)))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return engine.NewSourceAuthError("source credential invalid or expired, reconnect the source account", cause).
			WithResource(what)
	case http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return engine.NewThrottledError("source API rate limit exhausted", cause).WithResource(what)
		}
		return engine.NewSourceAuthError("source credential lacks access, reconnect the source account", cause).
			WithResource(what)
	case http.StatusNotFound:
		return engine.NewSourceNotFoundError("repository or branch not found", cause).WithResource(what)
	case http.StatusTooManyRequests:
		return engine.NewThrottledError("source API rate limited", cause).WithResource(what)
	}
	if resp.StatusCode >= 500 {
		return engine.NewTransientError("source host error", cause).
			WithCode(engine.ErrCodeSourceUnavailable).
			WithResource(what)
	}
	return engine.NewPermanentError("unexpected source host response", cause).WithResource(what)
}
