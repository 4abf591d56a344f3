package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/orchestrator"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/openfroyo/froyodeploy/pkg/stores"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeployer struct {
	deployErr   error
	destroyErr  error
	lastRequest orchestrator.DeployRequest
}

func (f *fakeDeployer) Deploy(_ context.Context, req orchestrator.DeployRequest) (*engine.DeploymentResult, error) {
	f.lastRequest = req
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	return &engine.DeploymentResult{
		Success: true,
		Outputs: map[string]string{engine.OutputURL: "https://demo-app.example.app"},
	}, nil
}

func (f *fakeDeployer) Teardown(_ context.Context, req orchestrator.TeardownRequest) (*orchestrator.TeardownResult, error) {
	return &orchestrator.TeardownResult{ProjectID: req.ProjectID, StackID: "froyo-x", DestroyErr: f.destroyErr}, nil
}

func (f *fakeDeployer) Status(_ context.Context, projectID, _ string, _ int) (*orchestrator.StatusView, error) {
	return &orchestrator.StatusView{Attempts: []*engine.Deployment{{ID: "a1", ProjectID: projectID}}}, nil
}

type fakeRepos struct {
	err       error
	token     string
	page      int
	perPage   int
	requested string
}

func (f *fakeRepos) ListRepositories(_ context.Context, token string, page, perPage int) ([]source.Repository, error) {
	f.token, f.page, f.perPage = token, page, perPage
	if f.err != nil {
		return nil, f.err
	}
	return []source.Repository{{ID: 1, FullName: "acme/demo", DefaultBranch: "main"}}, nil
}

func (f *fakeRepos) Repository(_ context.Context, owner, repo, token string) (*source.Repository, error) {
	f.token, f.requested = token, owner+"/"+repo
	if f.err != nil {
		return nil, f.err
	}
	return &source.Repository{ID: 1, FullName: owner + "/" + repo, DefaultBranch: "trunk"}, nil
}

type testServer struct {
	handler  http.Handler
	deployer *fakeDeployer
	repos    *fakeRepos
	store    *stores.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tel := telemetry.Nop()
	tel.Events.Subscribe(orchestrator.ActivitySubscriber(store, zerolog.Nop()), nil)

	d := &fakeDeployer{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("froyo_up 1\n"))
	})
	repos := &fakeRepos{}
	srv := New(Config{Listen: ":0"}, orchestrator.NewProjects(store, tel.Events), d, store, store, metrics, zerolog.Nop()).
		WithRepositories(repos, engine.StaticSecrets{Token: "ghp_token"})
	return &testServer{handler: srv.Handler(), deployer: d, repos: repos, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createProject(t *testing.T) ProjectResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/projects", "user-1", CreateProjectRequest{
		Name:          "demo-app",
		RepositoryURL: "https://github.com/acme/demo",
		ProjectType:   engine.ProjectTypeWebService,
		EnvVars:       []engine.EnvVar{{Key: "API_KEY", Value: "s3cr3t", IsSecret: true}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p ProjectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "froyo_up 1")
}

func TestProjectsRequireUser(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetProject(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProject(t)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "project-stack-demo-app", p.StackID)
	assert.NotContains(t, p.EnvVars[0].Value, "s3cr3t")

	rec := ts.do(t, http.MethodGet, "/projects/"+p.ID, "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cr3t")

	rec = ts.do(t, http.MethodGet, "/projects/"+p.ID, "user-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/projects/missing", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/projects", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ProjectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestCreateProjectValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/projects", "user-1", CreateProjectRequest{
		Name:          "bad",
		RepositoryURL: "not a url",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewBufferString("{"))
	req.Header.Set(UserHeader, "user-1")
	out := httptest.NewRecorder()
	ts.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestDeployRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/projects/p1/deploy", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://demo-app.example.app")
	assert.Equal(t, orchestrator.DeployRequest{ProjectID: "p1", UserID: "user-1"}, ts.deployer.lastRequest)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", engine.NewConflictError("deploy already running", nil), http.StatusConflict},
		{"timeout", engine.NewTimeoutError("deploy timed out", nil), http.StatusGatewayTimeout},
		{"provision", engine.NewProvisionError("froyo-x", nil, "", errors.New("apply failed")), http.StatusBadGateway},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.deployer.deployErr = tt.err
			rec := ts.do(t, http.MethodPost, "/projects/p1/deploy", "user-1", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.NotContains(t, ts.do(t, http.MethodPost, "/projects/p1/deploy", "user-1", nil).Body.String(), "boom")
}

func TestTeardownReportsDestroyError(t *testing.T) {
	ts := newTestServer(t)
	ts.deployer.destroyErr = errors.New("stack busy")

	rec := ts.do(t, http.MethodDelete, "/projects/p1", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out TeardownResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "p1", out.ProjectID)
	assert.Equal(t, "stack busy", out.DestroyError)
}

func TestEnvVarsAndActivities(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProject(t)

	rec := ts.do(t, http.MethodPut, "/projects/"+p.ID+"/env/MODE", "user-1", SetEnvRequest{Value: "prod"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/projects/"+p.ID+"/env/MODE", "user-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/projects/"+p.ID+"/activities", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acts []engine.Activity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&acts))
	assert.Len(t, acts, 3)

	rec = ts.do(t, http.MethodGet, "/projects/"+p.ID+"/deployments", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"a1"`)
}

func TestRepositoryRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/repositories", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/repositories?page=2&per_page=50", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list RepositoryListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Repositories, 1)
	assert.Equal(t, "acme/demo", list.Repositories[0].FullName)
	assert.Equal(t, 2, list.Page)
	assert.Equal(t, 50, list.PerPage)
	assert.Equal(t, "ghp_token", ts.repos.token)

	rec = ts.do(t, http.MethodGet, "/repositories", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.repos.page)
	assert.Equal(t, source.DefaultPerPage, ts.repos.perPage)

	rec = ts.do(t, http.MethodGet, "/repositories/acme/demo", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var repo source.Repository
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&repo))
	assert.Equal(t, "trunk", repo.DefaultBranch)
	assert.Equal(t, "acme/demo", ts.repos.requested)
}

func TestRepositoryRoutesMapSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"expired credential", engine.NewSourceAuthError("source credential invalid or expired", nil), http.StatusFailedDependency},
		{"missing repository", engine.NewSourceNotFoundError("repository or branch not found", nil), http.StatusUnprocessableEntity},
		{"rate limited", engine.NewThrottledError("source API rate limited", nil), http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.repos.err = tt.err

			for _, path := range []string{"/repositories", "/repositories/acme/demo"} {
				rec := ts.do(t, http.MethodGet, path, "user-1", nil)
				assert.Equal(t, tt.want, rec.Code, path)
				assert.NotContains(t, rec.Body.String(), "ghp_token")
			}
		})
	}
}
