package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// CreateDeployment implements engine.ProjectStore.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *engine.Deployment) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = engine.AttemptStatusRunning
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO deployments
		(id, project_id, status, provider, stack_id, url, error, error_code, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, string(d.Status), string(d.Provider), d.StackID, d.URL, d.Error,
		d.ErrorCode, d.StartedAt, nullTime(d.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// FinishDeployment implements engine.ProjectStore.
func (s *SQLiteStore) FinishDeployment(ctx context.Context, id string, status engine.AttemptStatus, url, errMsg, errCode string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deployments
		SET status = ?, url = ?, error = ?, error_code = ?, finished_at = ?
		WHERE id = ?`,
		string(status), url, errMsg, errCode, finishedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish deployment: %w", err)
	}
	return checkAffected(res, "deployment", id)
}

// ListDeployments returns the attempts of a project, newest first. limit <= 0
// returns all of them.
func (s *SQLiteStore) ListDeployments(ctx context.Context, projectID string, limit int) ([]*engine.Deployment, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, project_id, status, provider, stack_id, url, error, error_code, started_at, finished_at
		FROM deployments WHERE project_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*engine.Deployment{}
	for rows.Next() {
		var (
			d                sql.NullTime
			dep              engine.Deployment
			status, provider string
		)
		if err := rows.Scan(&dep.ID, &dep.ProjectID, &status, &provider, &dep.StackID, &dep.URL,
			&dep.Error, &dep.ErrorCode, &dep.StartedAt, &d); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		dep.Status = engine.AttemptStatus(status)
		dep.Provider = engine.ProviderKind(provider)
		dep.FinishedAt = timePtr(d)
		deployments = append(deployments, &dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}
	return deployments, nil
}

// RecordActivity implements engine.ActivityRecorder.
func (s *SQLiteStore) RecordActivity(ctx context.Context, a *engine.Activity) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	meta := "{}"
	if len(a.Metadata) > 0 {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode activity metadata: %w", err)
		}
		meta = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO activities (id, user_id, project_id, action, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ProjectID, string(a.Action), meta, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// ListActivities returns activities newest first.
func (s *SQLiteStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]*engine.Activity, error) {
	query := `SELECT id, user_id, project_id, action, metadata, created_at FROM activities WHERE 1 = 1`
	var args []interface{}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	activities := []*engine.Activity{}
	for rows.Next() {
		var (
			a            engine.Activity
			action, meta string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProjectID, &action, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Action = engine.ActivityAction(action)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		activities = append(activities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return activities, nil
}
