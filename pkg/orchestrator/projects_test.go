package orchestrator

import (
	"context"
	"testing"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/openfroyo/froyodeploy/pkg/stores"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectsRecordActivities(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tel := telemetry.Nop()
	tel.Events.Subscribe(ActivitySubscriber(store, zerolog.Nop()), nil)
	projects := NewProjects(store, tel.Events)

	p := &engine.Project{
		Name:          "demo-app",
		RepositoryURL: "https://github.com/acme/demo",
		ProjectType:   engine.ProjectTypeWebService,
	}
	require.NoError(t, projects.Create(ctx, "user-1", p))
	require.NotEmpty(t, p.ID)

	require.NoError(t, projects.SetEnvVar(ctx, "user-1", p.ID, engine.EnvVar{Key: "MODE", Value: "prod"}))
	require.NoError(t, projects.SetEnvVar(ctx, "user-1", p.ID, engine.EnvVar{Key: "MODE", Value: "dev"}))
	require.NoError(t, projects.DeleteEnvVar(ctx, "user-1", p.ID, "MODE"))

	err = projects.SetEnvVar(ctx, "user-2", p.ID, engine.EnvVar{Key: "X", Value: "1"})
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)

	byName, err := projects.Resolve(ctx, "user-1", "demo-app")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	acts, err := store.ListActivities(ctx, stores.ActivityFilter{ProjectID: p.ID})
	require.NoError(t, err)
	var actions []engine.ActivityAction
	for _, a := range acts {
		actions = append(actions, a.Action)
		assert.NotContains(t, a.Metadata, "value")
	}
	assert.ElementsMatch(t, []engine.ActivityAction{
		engine.ActivityProjectCreated,
		engine.ActivityEnvVarAdded,
		engine.ActivityEnvVarUpdated,
		engine.ActivityEnvVarDeleted,
	}, actions)
}

func TestProjectsCreateRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	projects := NewProjects(store, telemetry.Nop().Events)

	for _, p := range []*engine.Project{
		{Name: "ok", RepositoryURL: "not a url"},
		{Name: "ok", RepositoryURL: "https://github.com/acme/demo", ProjectType: "foo"},
		{Name: "bad name", RepositoryURL: "https://github.com/acme/demo"},
	} {
		assert.ErrorIs(t, projects.Create(ctx, "user-1", p), engine.ErrConfigValidation)
	}
}

type fakeChecker struct {
	err   error
	calls []string
}

func (c *fakeChecker) CheckRepository(_ context.Context, repoURL, branch, token string) (*source.Repository, error) {
	c.calls = append(c.calls, repoURL+"@"+branch+"#"+token)
	if c.err != nil {
		return nil, c.err
	}
	return &source.Repository{FullName: "acme/demo", DefaultBranch: "main"}, nil
}

func TestProjectsCreateChecksRepository(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	checker := &fakeChecker{}
	projects := NewProjects(store, telemetry.Nop().Events).
		CheckRepositories(checker, engine.StaticSecrets{Token: "ghp_token"})

	p := &engine.Project{Name: "demo-app", RepositoryURL: "https://github.com/acme/demo", Branch: "release"}
	require.NoError(t, projects.Create(ctx, "user-1", p))
	assert.Equal(t, []string{"https://github.com/acme/demo@release#ghp_token"}, checker.calls)

	checker.err = engine.NewSourceNotFoundError("repository or branch not found", nil)
	err = projects.Create(ctx, "user-1", &engine.Project{Name: "other-app", RepositoryURL: "https://github.com/acme/gone"})
	assert.ErrorIs(t, err, engine.ErrSourceNotFound)

	_, err = store.GetProjectByName(ctx, "other-app")
	assert.Error(t, err, "rejected projects are not stored")
}
