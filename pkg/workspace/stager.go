package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// File names written into a staged source tree.
const (
	EnvFile          = ".env"
	DockerfileName   = "Dockerfile"
	DockerIgnoreFile = ".dockerignore"
	ManifestFile     = "froyo-project.yaml"
)

// Manifest is the typed, non-secret description of a staged project. It is
// written next to the source so the build and program steps never have to
// recover project data from paths.
type Manifest struct {
	Name         string              `yaml:"name"`
	StackID      string              `yaml:"stack_id"`
	AttemptID    string              `yaml:"attempt_id,omitempty"`
	Branch       string              `yaml:"branch"`
	ProjectType  engine.ProjectType  `yaml:"project_type,omitempty"`
	Provider     engine.ProviderKind `yaml:"provider"`
	BuildCommand string              `yaml:"build_command,omitempty"`
	StartCommand string              `yaml:"start_command,omitempty"`
	Port         int                 `yaml:"port"`
	EnvKeys      []string            `yaml:"env_keys,omitempty"`
}

// ManifestFor derives the manifest of a project config. Only env keys are kept.
func ManifestFor(cfg *engine.ProjectConfig) Manifest {
	keys := make([]string, 0, len(cfg.EnvVars))
	for _, v := range cfg.EnvVars {
		keys = append(keys, v.Key)
	}
	return Manifest{
		Name:         cfg.Name,
		StackID:      cfg.StackID,
		AttemptID:    cfg.AttemptID,
		Branch:       cfg.Branch,
		ProjectType:  cfg.ProjectType,
		Provider:     cfg.Target,
		BuildCommand: cfg.BuildCommand,
		StartCommand: cfg.StartCommand,
		Port:         cfg.Settings.Port,
		EnvKeys:      keys,
	}
}

// StageRequest describes one staging call.
type StageRequest struct {
	// SourceDir is the expanded source root.
	SourceDir string

	// EnvVars are written to .env in order.
	EnvVars []engine.EnvVar

	// Port is appended as PORT when EnvVars has none. Zero means engine.DefaultPort.
	Port int

	// Descriptor produces a Dockerfile when set. The .env is then listed in
	// .dockerignore so it never reaches an image layer.
	Descriptor *engine.BuildDescriptor

	// Manifest is written as froyo-project.yaml when set.
	Manifest *Manifest
}

// Stager writes build inputs into an expanded source tree.
type Stager struct {
	logger zerolog.Logger
}

// NewStager creates a new stager.
func NewStager(logger zerolog.Logger) *Stager {
	return &Stager{logger: logger.With().Str("component", "workspace-stager").Logger()}
}

// Stage writes the env manifest, the optional Dockerfile and the optional
// project manifest into req.SourceDir and returns that directory.
func (s *Stager) Stage(ctx context.Context, req StageRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(req.SourceDir)
	if err != nil {
		return "", engine.NewStageError("source directory unavailable", err)
	}
	if !info.IsDir() {
		return "", engine.NewStageError("source path is not a directory", nil).WithResource(req.SourceDir)
	}

	if err := writeFile(filepath.Join(req.SourceDir, EnvFile), RenderEnv(req.EnvVars, req.Port), 0o600); err != nil {
		return "", err
	}

	if req.Descriptor != nil {
		dockerfile := RenderDockerfile(req.Descriptor.WithDefaults())
		if err := writeFile(filepath.Join(req.SourceDir, DockerfileName), dockerfile, 0o644); err != nil {
			return "", err
		}
		if err := ignoreInBuild(req.SourceDir, EnvFile); err != nil {
			return "", err
		}
	}

	if req.Manifest != nil {
		data, err := yaml.Marshal(req.Manifest)
		if err != nil {
			return "", engine.NewStageError("failed to encode project manifest", err)
		}
		if err := writeFile(filepath.Join(req.SourceDir, ManifestFile), data, 0o644); err != nil {
			return "", err
		}
	}

	s.logger.Debug().
		Str("dir", req.SourceDir).
		Int("env_vars", len(req.EnvVars)).
		Bool("dockerfile", req.Descriptor != nil).
		Msg("Workspace staged")

	return req.SourceDir, nil
}

// RenderEnv renders env vars as KEY=VALUE lines in declaration order and
// appends PORT when no entry defines it. The file is sourced by bash on
// instances, so values use shell quoting.
func RenderEnv(vars []engine.EnvVar, port int) []byte {
	if port <= 0 {
		port = engine.DefaultPort
	}
	var b strings.Builder
	hasPort := false
	for _, v := range vars {
		if v.Key == "PORT" {
			hasPort = true
		}
		b.WriteString(v.Key)
		b.WriteByte('=')
		b.WriteString(shellescape.Quote(v.Value))
		b.WriteByte('\n')
	}
	if !hasPort {
		fmt.Fprintf(&b, "PORT=%d\n", port)
	}
	return []byte(b.String())
}

// ignoreInBuild appends name to the tree's .dockerignore unless a line already
// lists it.
func ignoreInBuild(dir, name string) error {
	path := filepath.Join(dir, DockerIgnoreFile)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return engine.NewStageError("failed to read "+DockerIgnoreFile, err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == name {
			return nil
		}
	}
	data := existing
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	data = append(data, name+"\n"...)
	return writeFile(path, data, 0o644)
}

// RenderDockerfile renders the single-stage image recipe of a descriptor.
func RenderDockerfile(d engine.BuildDescriptor) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s:%s\n", d.Runtime, d.Version)
	fmt.Fprintf(&b, "WORKDIR %s\n", d.WorkDir)
	fmt.Fprintf(&b, "COPY %s %s\n", d.Root, d.WorkDir)
	fmt.Fprintf(&b, "RUN %s\n", d.BuildCommand)
	fmt.Fprintf(&b, "CMD %s\n", d.StartCommand)
	return []byte(b.String())
}

func writeFile(path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return engine.NewStageError("failed to write "+filepath.Base(path), err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, mode); err != nil {
		return engine.NewStageError("failed to set mode of "+filepath.Base(path), err)
	}
	return nil
}
