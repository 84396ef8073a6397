package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

const workflowColumns = "id, user_id, name, decider, subject, complete, paused, migrated, created_at, updated_at"

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Create inserts a workflow. The identity unique index turns a duplicate into ErrWorkflowAlreadyExists.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	subjectKey, err := workflow.SubjectKey()
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO workflows (id, user_id, name, decider, subject, subject_key, complete, paused, migrated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.UserID,
		workflow.Name,
		workflow.Decider,
		subjectKey,
		subjectKey,
		workflow.Complete,
		workflow.Paused,
		workflow.Migrated,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
		}

		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	return nil
}

// Find returns the workflow owning the identity triple.
func (r *WorkflowRepository) Find(ctx context.Context, userID, name string, subject map[string]any) (*models.Workflow, error) {
	subjectKey, err := models.SubjectKey(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subject: %w", err)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE user_id = $1 AND name = $2 AND subject_key = $3`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, userID, name, subjectKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to find workflow: %w", err)
	}

	return workflow, nil
}

// GetByID returns a workflow. An empty userID skips the ownership check.
func (r *WorkflowRepository) GetByID(ctx context.Context, userID, id string) (*models.Workflow, error) {
	if !validID(id) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 AND ($2 = '' OR user_id = $2)`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}

// List returns workflows matching the filter ordered by creation time.
func (r *WorkflowRepository) List(ctx context.Context, filter models.WorkflowFilter) ([]*models.Workflow, error) {
	var (
		conditions []string
		args       []any
	)

	add := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.UserID != "" {
		add("user_id", filter.UserID)
	}

	if filter.WorkflowType != "" {
		add("name", filter.WorkflowType)
	}

	if filter.Decider != "" {
		add("decider", filter.Decider)
	}

	if filter.Subject != nil {
		subjectKey, err := models.SubjectKey(filter.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal subject: %w", err)
		}

		add("subject_key", subjectKey)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// Names returns the distinct workflow names of a user.
func (r *WorkflowRepository) Names(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM workflows WHERE ($1 = '' OR user_id = $1) ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow names: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	names := make([]string, 0)

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan workflow name: %w", err)
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow names: %w", err)
	}

	return names, nil
}

// SetComplete updates the completion flag.
func (r *WorkflowRepository) SetComplete(ctx context.Context, id string, complete bool) error {
	return r.setFlag(ctx, "SetComplete", "complete", id, complete)
}

// SetPaused updates the paused flag.
func (r *WorkflowRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	return r.setFlag(ctx, "SetPaused", "paused", id, paused)
}

func (r *WorkflowRepository) setFlag(ctx context.Context, op, column, id string, value bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET `+column+` = $2, updated_at = NOW() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", column, err)
	}

	return expectRow(result, persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound))
}

// Delete removes a workflow row. Nodes must be removed first.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return expectRow(result, persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow models.Workflow
		subject  []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.UserID,
		&workflow.Name,
		&workflow.Decider,
		&subject,
		&workflow.Complete,
		&workflow.Paused,
		&workflow.Migrated,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(subject, &workflow.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject: %w", err)
	}

	return &workflow, nil
}

func expectRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
