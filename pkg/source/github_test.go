package source

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestFetcher(t *testing.T, handler http.Handler) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFetcher(Config{APIURL: srv.URL}, zerolog.Nop())
}

func TestAcquireExpandsAndDeletesArchive(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"acme-demo-abc123/package.json": `{"name":"demo"}`,
		"acme-demo-abc123/src/index.js": "console.log('hi')",
	})

	var gotAuth, gotPath string
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write(archive)
	}))

	dest := t.TempDir()
	tree, err := f.Acquire(context.Background(), "https://github.com/acme/demo", "main", "tok", dest)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/repos/acme/demo/zipball/main", gotPath)
	assert.Equal(t, []string{"acme-demo-abc123"}, tree.Entries)
	assert.Equal(t, filepath.Join(dest, "acme-demo-abc123"), tree.Root)
	assert.FileExists(t, filepath.Join(tree.Root, "src", "index.js"))

	leftovers, err := filepath.Glob(filepath.Join(dest, ".source-*.zip"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "archive must be deleted after expansion")
}

func TestFetchStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, engine.ErrSourceAuth},
		{"not found", http.StatusNotFound, engine.ErrSourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))

			dest := t.TempDir()
			_, err := f.Fetch(context.Background(), "acme", "demo", "main", "tok", dest)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.NotContains(t, err.Error(), "tok")

			entries, _ := os.ReadDir(dest)
			assert.Empty(t, entries)
		})
	}
}

func TestFetchServerErrorIsRetryable(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := f.Fetch(context.Background(), "acme", "demo", "main", "tok", t.TempDir())
	require.Error(t, err)
	assert.True(t, engine.IsRetryable(err))
	assert.Equal(t, engine.ErrCodeSourceUnavailable, engine.CodeOf(err))
}

func TestExpandArchiveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, map[string]string{"../escape.txt": "x"}), 0o600))

	dest := filepath.Join(dir, "out")
	_, err := ExpandArchive(path, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrStage)
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestExpandArchiveCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o600))

	_, err := ExpandArchive(path, t.TempDir())
	assert.ErrorIs(t, err, engine.ErrStage)
}

func TestRepositoryMetadata(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/demo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"name":"demo","full_name":"acme/demo","private":true,"default_branch":"trunk","owner":{"id":1,"login":"acme"}}`))
	}))

	repo, err := f.Repository(context.Background(), "acme", "demo", "tok")
	require.NoError(t, err)
	assert.Equal(t, "acme/demo", repo.FullName)
	assert.Equal(t, "trunk", repo.DefaultBranch)
	assert.True(t, repo.Private)
	assert.Equal(t, "acme", repo.Owner.Login)
}

func TestListRepositoriesPaginates(t *testing.T) {
	var gotQuery string
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/repos", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"full_name":"acme/api"},{"id":2,"full_name":"acme/web"}]`))
	}))

	repos, err := f.ListRepositories(context.Background(), "tok", 3, 500)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "acme/web", repos[1].FullName)
	assert.Equal(t, "page=3&per_page=100&sort=updated", gotQuery)

	_, err = f.ListRepositories(context.Background(), "tok", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "page=1&per_page=10&sort=updated", gotQuery)
}

func TestListRepositoriesStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, engine.ErrSourceAuth},
		{"not found", http.StatusNotFound, engine.ErrSourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))

			_, err := f.ListRepositories(context.Background(), "tok", 1, 10)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckRepository(t *testing.T) {
	branches := map[string]bool{"trunk": true, "release": true}
	var seen []string
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path)
		switch {
		case r.URL.Path == "/repos/acme/demo":
			_, _ = w.Write([]byte(`{"full_name":"acme/demo","default_branch":"trunk"}`))
		case strings.HasPrefix(r.URL.Path, "/repos/acme/demo/branches/"):
			if !branches[strings.TrimPrefix(r.URL.Path, "/repos/acme/demo/branches/")] {
				http.Error(w, `{"message":"Branch not found"}`, http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"name":"ok"}`))
		default:
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	repo, err := f.CheckRepository(ctx, "https://github.com/acme/demo", "release", "tok")
	require.NoError(t, err)
	assert.Equal(t, "acme/demo", repo.FullName)
	assert.Equal(t, []string{"/repos/acme/demo", "/repos/acme/demo/branches/release"}, seen)

	seen = nil
	_, err = f.CheckRepository(ctx, "https://github.com/acme/demo", "", "tok")
	require.NoError(t, err)
	assert.Equal(t, "/repos/acme/demo/branches/trunk", seen[1])

	_, err = f.CheckRepository(ctx, "https://github.com/acme/demo", "gone", "tok")
	assert.ErrorIs(t, err, engine.ErrSourceNotFound)

	_, err = f.CheckRepository(ctx, "https://github.com/acme/missing", "main", "tok")
	assert.ErrorIs(t, err, engine.ErrSourceNotFound)

	_, err = f.CheckRepository(ctx, "ftp://example.com/x", "main", "tok")
	assert.ErrorIs(t, err, engine.ErrConfigValidation)
}
