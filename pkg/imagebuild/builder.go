// Package imagebuild builds container images from staged workspaces and pushes
// them to a registry through the Docker Engine API.
package imagebuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
)

// DockerAPI is the subset of the Docker client used by the builder.
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

// Auth holds registry credentials.
type Auth struct {
	Username      string
	Password      string
	ServerAddress string
}

// Request describes one build and push.
type Request struct {
	// ContextDir is the staged directory holding the Dockerfile.
	ContextDir string

	// Image is the fully qualified reference, e.g. registry/apps:tag.
	Image string

	// Platform defaults to linux/amd64.
	Platform string

	// BuildArgs are passed to the Dockerfile.
	BuildArgs map[string]*string

	Auth Auth

	// Secrets are removed from logged build output and from errors.
	Secrets []string
}

// Builder builds and pushes images.
type Builder struct {
	api    DockerAPI
	logger zerolog.Logger
}

// NewFromEnv creates a builder over a Docker client configured from the
// environment (DOCKER_HOST and friends).
func NewFromEnv(host string, logger zerolog.Logger) (*Builder, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return New(cli, logger), nil
}

// New creates a builder over api.
func New(api DockerAPI, logger zerolog.Logger) *Builder {
	return &Builder{api: api, logger: logger.With().Str("component", "image-builder").Logger()}
}

// BuildAndPush builds req.Image from req.ContextDir and pushes it. It returns
// the pushed reference.
func (b *Builder) BuildAndPush(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.ContextDir) == "" {
		return "", imageError("build context cannot be empty", nil)
	}
	if strings.TrimSpace(req.Image) == "" {
		return "", imageError("image reference cannot be empty", nil)
	}
	if _, err := b.api.Ping(ctx); err != nil {
		return "", engine.NewTransientError("docker daemon unreachable", err).WithCode(engine.ErrCodeImageBuild)
	}

	redact := automation.NewRedactor(req.Secrets...).Redact

	start := time.Now()
	if err := b.build(ctx, req, redact); err != nil {
		return "", err
	}
	b.logger.Info().Str("image", req.Image).Dur("duration", time.Since(start)).Msg("Image built")

	start = time.Now()
	if err := b.push(ctx, req, redact); err != nil {
		return "", err
	}
	b.logger.Info().Str("image", req.Image).Dur("duration", time.Since(start)).Msg("Image pushed")

	return req.Image, nil
}

func (b *Builder) build(ctx context.Context, req Request, redact func(string) string) error {
	excludes, err := readDockerIgnore(req.ContextDir)
	if err != nil {
		return err
	}
	buildCtx, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return imageError("failed to create build context", err)
	}
	defer buildCtx.Close()

	platform := req.Platform
	if platform == "" {
		platform = "linux/amd64"
	}
	resp, err := b.api.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{req.Image},
		Dockerfile:  "Dockerfile",
		Platform:    platform,
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
		BuildArgs:   req.BuildArgs,
	})
	if err != nil {
		return imageError("docker image build", errors.New(redact(err.Error())))
	}
	defer resp.Body.Close()

	return b.drain(resp.Body, "build", redact)
}

// readDockerIgnore returns the patterns of dir/.dockerignore. The daemon API
// does not apply them; the client has to.
func readDockerIgnore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, imageError("failed to open .dockerignore", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, imageError("failed to parse .dockerignore", err)
	}
	return patterns, nil
}

func (b *Builder) push(ctx context.Context, req Request, redact func(string) string) error {
	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      req.Auth.Username,
		Password:      req.Auth.Password,
		ServerAddress: req.Auth.ServerAddress,
	})
	if err != nil {
		return imageError("failed to encode registry auth", err)
	}
	rc, err := b.api.ImagePush(ctx, req.Image, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return imageError("docker image push", errors.New(redact(err.Error())))
	}
	defer rc.Close()

	return b.drain(rc, "push", redact)
}

// drain consumes a JSON message stream and fails on the first error message.
// Every line passes through redact before it is logged or returned.
func (b *Builder) drain(r io.Reader, phase string, redact func(string) string) error {
	dec := json.NewDecoder(r)
	for {
		var msg streamMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return imageError("failed to decode "+phase+" output", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return imageError("docker image "+phase, errors.New(redact(errMsg)))
		}
		if line := msg.render(); line != "" {
			b.logger.Debug().Str("phase", phase).Msg(redact(line))
		}
	}
}

func imageError(message string, err error) *engine.EngineError {
	return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeImageBuild)
}

type streamMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	ID          string `json:"id"`
	Progress    string `json:"progress"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m streamMessage) errorMessage() string {
	if s := strings.TrimSpace(m.Error); s != "" {
		return s
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m streamMessage) render() string {
	if m.Stream != "" {
		return strings.TrimSpace(m.Stream)
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{m.ID, m.Status, m.Progress} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
