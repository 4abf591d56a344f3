package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestManagerPrepareRotatesDirectories(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	dirs, err := m.Prepare("demo-app")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "demo-app", SourceDir), dirs.Source)

	stale := filepath.Join(dirs.Source, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	_, err = m.Prepare("demo-app")
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.DirExists(t, dirs.Program)

	require.NoError(t, m.Cleanup("demo-app"))
	assert.NoDirExists(t, dirs.Project)
	require.NoError(t, m.Cleanup("demo-app"))
}

func TestManagerRejectsEscapingNames(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../other", "a/b", "."} {
		_, err := m.ProjectDir(name)
		assert.ErrorIsf(t, err, engine.ErrStage, "name %q", name)
		assert.Error(t, m.Cleanup(name))
	}
}

func TestRenderEnv(t *testing.T) {
	tests := []struct {
		name string
		vars []engine.EnvVar
		port int
		want string
	}{
		{
			name: "empty gets default port",
			want: "PORT=80\n",
		},
		{
			name: "order preserved and port appended",
			vars: []engine.EnvVar{{Key: "B", Value: "2"}, {Key: "A", Value: "1"}},
			port: 3000,
			want: "B=2\nA=1\nPORT=3000\n",
		},
		{
			name: "explicit port kept",
			vars: []engine.EnvVar{{Key: "PORT", Value: "8080"}},
			port: 3000,
			want: "PORT=8080\n",
		},
		{
			name: "special values are single quoted",
			vars: []engine.EnvVar{
				{Key: "GREETING", Value: `hello "world"`},
				{Key: "TAG", Value: "a#b"},
				{Key: "QUOTE", Value: "it's"},
				{Key: "EMPTY", Value: ""},
				{Key: "URL", Value: "postgres://u@db:5432/app"},
			},
			want: "GREETING='hello \"world\"'\nTAG='a#b'\nQUOTE='it'\"'\"'s'\nEMPTY=''\nURL=postgres://u@db:5432/app\nPORT=80\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(RenderEnv(tt.vars, tt.port)))
		})
	}
}

func TestRenderEnvSourcesVerbatimInBash(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}

	vars := []engine.EnvVar{
		{Key: "DB_PASS", Value: "pa$word"},
		{Key: "SUBSHELL", Value: "$(id) `id`"},
		{Key: "QUOTES", Value: `it's "quoted"`},
		{Key: "MULTI", Value: "line1\nline2"},
		{Key: "BACKSLASH", Value: `C:\path\n`},
		{Key: "SPACES", Value: "  padded  "},
	}
	path := filepath.Join(t.TempDir(), EnvFile)
	require.NoError(t, os.WriteFile(path, RenderEnv(vars, 3000), 0o600))

	script := "set -a; . \"$1\"; set +a\n"
	for _, v := range vars {
		script += fmt.Sprintf("printf '%%s\\0' \"$%s\"\n", v.Key)
	}
	out, err := exec.Command(bash, "-c", script, "bash", path).Output()
	require.NoError(t, err)

	got := strings.Split(strings.TrimSuffix(string(out), "\x00"), "\x00")
	require.Len(t, got, len(vars))
	for i, v := range vars {
		assert.Equalf(t, v.Value, got[i], "value of %s", v.Key)
	}
}

func TestRenderDockerfileDefaults(t *testing.T) {
	got := string(RenderDockerfile(engine.BuildDescriptor{}.WithDefaults()))
	assert.Equal(t, "FROM node:16\nWORKDIR /app\nCOPY . /app\nRUN npm install\nCMD npm start\n", got)
}

func TestStageWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(zerolog.Nop())

	manifest := &Manifest{
		Name:     "demo-app",
		StackID:  engine.StackID("demo-app"),
		Branch:   "main",
		Provider: engine.ProviderContainerCluster,
		Port:     3000,
		EnvKeys:  []string{"API_KEY"},
	}
	staged, err := s.Stage(context.Background(), StageRequest{
		SourceDir:  dir,
		EnvVars:    []engine.EnvVar{{Key: "API_KEY", Value: "s3cr3t", IsSecret: true}},
		Port:       3000,
		Descriptor: &engine.BuildDescriptor{Runtime: "python", Version: "3.12", StartCommand: "python app.py"},
		Manifest:   manifest,
	})
	require.NoError(t, err)
	assert.Equal(t, dir, staged)

	info, err := os.Stat(filepath.Join(dir, EnvFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dockerfile, err := os.ReadFile(filepath.Join(dir, DockerfileName))
	require.NoError(t, err)
	assert.Contains(t, string(dockerfile), "FROM python:3.12\n")
	assert.Contains(t, string(dockerfile), "CMD python app.py\n")

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cr3t")
	var got Manifest
	require.NoError(t, yaml.Unmarshal(raw, &got))
	assert.Equal(t, manifest, &got)

	ignore, err := os.ReadFile(filepath.Join(dir, DockerIgnoreFile))
	require.NoError(t, err)
	assert.Equal(t, ".env\n", string(ignore))
}

func TestStageKeepsExistingDockerIgnore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DockerIgnoreFile), []byte("node_modules"), 0o644))
	s := NewStager(zerolog.Nop())

	req := StageRequest{SourceDir: dir, Descriptor: &engine.BuildDescriptor{}}
	_, err := s.Stage(context.Background(), req)
	require.NoError(t, err)
	_, err = s.Stage(context.Background(), req)
	require.NoError(t, err)

	ignore, err := os.ReadFile(filepath.Join(dir, DockerIgnoreFile))
	require.NoError(t, err)
	assert.Equal(t, "node_modules\n.env\n", string(ignore))
}

func TestStageWithoutDescriptorSkipsDockerfile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStager(zerolog.Nop()).Stage(context.Background(), StageRequest{SourceDir: dir})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, DockerfileName))
	assert.FileExists(t, filepath.Join(dir, EnvFile))
}

func TestStageMissingSource(t *testing.T) {
	_, err := NewStager(zerolog.Nop()).Stage(context.Background(), StageRequest{
		SourceDir: filepath.Join(t.TempDir(), "missing"),
	})
	assert.ErrorIs(t, err, engine.ErrStage)
}
