package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
)

const projectColumns = `id, name, description, user_id, repository_url, branch, project_type,
	build_command, start_command, env_vars, settings, deployment_status, deployment_url,
	last_deployed_at, last_error, status, created_at, updated_at`

// CreateProject inserts p. ID, timestamps, branch and statuses are filled when empty.
// A duplicate name is a conflict.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *engine.Project) error {
	if err := engine.ValidateProjectName(p.Name); err != nil {
		return engine.NewConfigValidationError("invalid project", err).WithResource(p.Name)
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Branch == "" {
		p.Branch = engine.DefaultBranch
	}
	if p.DeploymentStatus == "" {
		p.DeploymentStatus = engine.DeploymentStatusNotDeployed
	}
	if p.Status == "" {
		p.Status = engine.ProjectStatusActive
	}
	if p.EnvVars == nil {
		p.EnvVars = []engine.EnvVar{}
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	env, err := encodeJSON(p.EnvVars)
	if err != nil {
		return err
	}
	settings, err := encodeJSON(p.Settings)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.UserID, p.RepositoryURL, p.Branch, string(p.ProjectType),
		p.BuildCommand, p.StartCommand, env, settings, string(p.DeploymentStatus), p.DeploymentURL,
		nullTime(p.LastDeployedAt), p.LastError, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return engine.NewConflictError("project name already taken", err).WithResource(p.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject loads a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*engine.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetProjectByName loads a project by its unique name.
func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*engine.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, notFound("project", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects lists projects ordered by name.
func (s *SQLiteStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]*engine.Project, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.IncludeArchived {
		where = append(where, "status != ?")
		args = append(args, string(engine.ProjectStatusArchived))
	}

	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*engine.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// UpdateProject writes the user-editable fields of p. Deployment fields are
// owned by the orchestrator and left untouched.
func (s *SQLiteStore) UpdateProject(ctx context.Context, p *engine.Project) error {
	env, err := encodeJSON(p.EnvVars)
	if err != nil {
		return err
	}
	settings, err := encodeJSON(p.Settings)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `UPDATE projects SET
		description = ?, repository_url = ?, branch = ?, project_type = ?, build_command = ?,
		start_command = ?, env_vars = ?, settings = ?, updated_at = ?
		WHERE id = ?`,
		p.Description, p.RepositoryURL, p.Branch, string(p.ProjectType), p.BuildCommand,
		p.StartCommand, env, settings, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return checkAffected(res, "project", p.ID)
}

// SetEnvVar adds or replaces one env var, keeping declaration order. It
// reports whether the key already existed.
func (s *SQLiteStore) SetEnvVar(ctx context.Context, projectID string, v engine.EnvVar) (bool, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}

	replaced := false
	for i := range p.EnvVars {
		if p.EnvVars[i].Key == v.Key {
			p.EnvVars[i] = v
			replaced = true
			break
		}
	}
	if !replaced {
		p.EnvVars = append(p.EnvVars, v)
	}
	return replaced, s.UpdateProject(ctx, p)
}

// DeleteEnvVar removes one env var. A missing key is not found.
func (s *SQLiteStore) DeleteEnvVar(ctx context.Context, projectID, key string) error {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	kept := p.EnvVars[:0]
	for _, v := range p.EnvVars {
		if v.Key != key {
			kept = append(kept, v)
		}
	}
	if len(kept) == len(p.EnvVars) {
		return notFound("env var", key)
	}
	p.EnvVars = kept
	return s.UpdateProject(ctx, p)
}

// UpdateDeploymentState implements engine.ProjectStore.
func (s *SQLiteStore) UpdateDeploymentState(ctx context.Context, id string, u engine.DeploymentUpdate) error {
	sets := []string{"deployment_status = ?", "updated_at = ?"}
	args := []interface{}{string(u.Status), time.Now().UTC()}
	if u.URL != nil {
		sets = append(sets, "deployment_url = ?")
		args = append(args, *u.URL)
	}
	if u.LastDeployedAt != nil {
		sets = append(sets, "last_deployed_at = ?")
		args = append(args, nullTime(u.LastDeployedAt))
	}
	if u.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *u.LastError)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update deployment state: %w", err)
	}
	return checkAffected(res, "project", id)
}

// UpdateProjectStatus implements engine.ProjectStore.
func (s *SQLiteStore) UpdateProjectStatus(ctx context.Context, id string, status engine.ProjectStatus) error {
	if err := status.Validate(); err != nil {
		return engine.NewConfigValidationError("invalid project status", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	return checkAffected(res, "project", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*engine.Project, error) {
	var (
		p                      engine.Project
		projectType, depStatus string
		status, env, settings  string
		lastDeployed           sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.UserID, &p.RepositoryURL, &p.Branch, &projectType,
		&p.BuildCommand, &p.StartCommand, &env, &settings, &depStatus, &p.DeploymentURL,
		&lastDeployed, &p.LastError, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ProjectType = engine.ProjectType(projectType)
	p.DeploymentStatus = engine.DeploymentStatus(depStatus)
	p.Status = engine.ProjectStatus(status)
	p.LastDeployedAt = timePtr(lastDeployed)

	if err := json.Unmarshal([]byte(env), &p.EnvVars); err != nil {
		return nil, fmt.Errorf("failed to decode env vars: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &p, nil
}
