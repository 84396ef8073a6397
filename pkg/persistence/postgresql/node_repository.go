package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

const nodeSelect = `
	SELECT n.id, n.seq, n.workflow_id, n.user_id, n.parent_id, n.name, n.mode,
		n.current_server_status, n.current_client_status, n.fires_at, n.link_id,
		n.created_at, n.updated_at,
		c.metadata, c.data,
		d.legacy_type, d.retry_interval_ms, d.retries_remaining, d.timeout_ms
	FROM nodes n
	JOIN client_node_details c ON c.node_id = n.id
	JOIN node_details d ON d.node_id = n.id
`

// NodeRepository handles node-related database operations.
type NodeRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeRepository creates a new node repository.
func NewNodeRepository(db *sql.DB, logger *slog.Logger) *NodeRepository {
	return &NodeRepository{db: db, logger: logger}
}

// Create inserts the node and both detail records in one transaction.
func (nr *NodeRepository) Create(ctx context.Context, node *models.Node) error {
	if node.ClientDetail == nil || node.Detail == nil {
		return persistence.NewNodeError("Create", node.ID, persistence.ErrIncompleteNode)
	}

	metadata, err := json.Marshal(nonNil(node.ClientDetail.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal node metadata: %w", err)
	}

	data, err := json.Marshal(nonNil(node.ClientDetail.Data))
	if err != nil {
		return fmt.Errorf("failed to marshal node data: %w", err)
	}

	tx, err := nr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, nr.logger, tx)

	now := time.Now().UTC()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO nodes (id, workflow_id, user_id, parent_id, name, mode, current_server_status,
			current_client_status, fires_at, link_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING seq
	`,
		node.ID,
		node.WorkflowID,
		node.UserID,
		node.ParentID,
		node.Name,
		node.Mode,
		node.CurrentServerStatus,
		node.CurrentClientStatus,
		node.FiresAt,
		node.LinkID,
		now,
	).Scan(&node.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO client_node_details (node_id, metadata, data) VALUES ($1, $2, $3)`,
		node.ID, metadata, data)
	if err != nil {
		return fmt.Errorf("failed to insert client node details: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO node_details (node_id, legacy_type, retry_interval_ms, retries_remaining, timeout_ms)
		VALUES ($1, $2, $3, $4, $5)
	`,
		node.ID,
		node.Detail.LegacyType,
		node.Detail.RetryInterval.Milliseconds(),
		node.Detail.RetriesRemaining,
		node.Detail.Timeout.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert node details: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit node: %w", err)
	}

	node.CreatedAt = now
	node.UpdatedAt = now
	node.ClientDetail.NodeID = node.ID
	node.Detail.NodeID = node.ID

	return nil
}

// GetByID returns a node with both details.
func (nr *NodeRepository) GetByID(ctx context.Context, id string) (*models.Node, error) {
	if !validID(id) {
		return nil, persistence.NewNodeError("GetByID", id, persistence.ErrNodeNotFound)
	}

	node, err := scanNode(nr.db.QueryRowContext(ctx, nodeSelect+` WHERE n.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewNodeError("GetByID", id, persistence.ErrNodeNotFound)
		}

		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return node, nil
}

// ListByWorkflow returns the nodes of a workflow in insertion order.
func (nr *NodeRepository) ListByWorkflow(ctx context.Context, workflowID string, filter models.NodeFilter) ([]*models.Node, error) {
	query := nodeSelect + `
		WHERE n.workflow_id = $1
			AND ($2 = '' OR n.current_server_status = $2)
			AND ($3 = '' OR n.current_client_status = $3)
		ORDER BY n.seq
	`

	return nr.query(ctx, query, workflowID, string(filter.ServerStatus), string(filter.ClientStatus))
}

// ListStale returns nodes stuck in status since before cutoff.
func (nr *NodeRepository) ListStale(ctx context.Context, status models.ServerStatus, cutoff time.Time, limit int) ([]*models.Node, error) {
	query := nodeSelect + `
		WHERE n.current_server_status = $1 AND n.fires_at < $2
		ORDER BY n.seq
		LIMIT $3
	`

	return nr.query(ctx, query, status, cutoff, limit)
}

func (nr *NodeRepository) query(ctx context.Context, query string, args ...any) ([]*models.Node, error) {
	rows, err := nr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			nr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

// CompareAndSwapStatus applies both axes only when the stored pair equals expected.
func (nr *NodeRepository) CompareAndSwapStatus(
	ctx context.Context,
	id string,
	expected, next models.StatusPair,
	changes []*models.StatusChange,
) error {
	tx, err := nr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, nr.logger, tx)

	result, err := tx.ExecContext(ctx, `
		UPDATE nodes
		SET current_server_status = $2, current_client_status = $3, updated_at = NOW()
		WHERE id = $1 AND current_server_status = $4 AND current_client_status = $5
	`, id, next.Server, next.Client, expected.Server, expected.Client)
	if err != nil {
		return fmt.Errorf("failed to update node status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		var exists bool

		err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM nodes WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check node: %w", err)
		}

		if !exists {
			return persistence.NewNodeError("CompareAndSwapStatus", id, persistence.ErrNodeNotFound)
		}

		return persistence.NewNodeError("CompareAndSwapStatus", id, persistence.ErrStaleStatus)
	}

	for _, change := range changes {
		var response []byte

		if change.Response != nil {
			response, err = json.Marshal(change.Response)
			if err != nil {
				return fmt.Errorf("failed to marshal status change response: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO status_changes (node_id, status_type, from_status, to_status, response, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`, id, change.StatusType, change.FromStatus, change.ToStatus, response)
		if err != nil {
			return fmt.Errorf("failed to record status change: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}

	return nil
}

// UpdateFiresAt stores the next dispatch time.
func (nr *NodeRepository) UpdateFiresAt(ctx context.Context, id string, firesAt time.Time) error {
	result, err := nr.db.ExecContext(ctx,
		`UPDATE nodes SET fires_at = $2, updated_at = NOW() WHERE id = $1`, id, firesAt)
	if err != nil {
		return fmt.Errorf("failed to update fires_at: %w", err)
	}

	return expectRow(result, persistence.NewNodeError("UpdateFiresAt", id, persistence.ErrNodeNotFound))
}

// DecrementRetries lowers the retry budget, never below zero.
func (nr *NodeRepository) DecrementRetries(ctx context.Context, id string) (int, error) {
	var remaining int

	err := nr.db.QueryRowContext(ctx, `
		UPDATE node_details SET retries_remaining = GREATEST(retries_remaining - 1, 0)
		WHERE node_id = $1
		RETURNING retries_remaining
	`, id).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, persistence.NewNodeError("DecrementRetries", id, persistence.ErrNodeNotFound)
		}

		return 0, fmt.Errorf("failed to decrement retries: %w", err)
	}

	return remaining, nil
}

// StatusChanges returns the audit trail of a node, oldest first.
func (nr *NodeRepository) StatusChanges(ctx context.Context, nodeID string) ([]*models.StatusChange, error) {
	rows, err := nr.db.QueryContext(ctx, `
		SELECT id, node_id, status_type, from_status, to_status, response, created_at
		FROM status_changes WHERE node_id = $1 ORDER BY id
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status changes: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			nr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	changes := make([]*models.StatusChange, 0)

	for rows.Next() {
		var (
			change   models.StatusChange
			response []byte
		)

		err := rows.Scan(&change.ID, &change.NodeID, &change.StatusType, &change.FromStatus,
			&change.ToStatus, &response, &change.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}

		if len(response) > 0 {
			if err := json.Unmarshal(response, &change.Response); err != nil {
				return nil, fmt.Errorf("failed to unmarshal status change response: %w", err)
			}
		}

		changes = append(changes, &change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status changes: %w", err)
	}

	return changes, nil
}

// Delete removes a node with its details and audit trail.
func (nr *NodeRepository) Delete(ctx context.Context, id string) error {
	tx, err := nr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, nr.logger, tx)

	for _, table := range []string{"status_changes", "client_node_details", "node_details"} {
		_, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE node_id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	err = expectRow(result, persistence.NewNodeError("Delete", id, persistence.ErrNodeNotFound))
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit node delete: %w", err)
	}

	return nil
}

func scanNode(row scanner) (*models.Node, error) {
	var (
		node             models.Node
		parentID, linkID sql.NullString
		metadata, data   []byte
		detail           models.NodeDetail
		retryMS, timeout int64
	)

	err := row.Scan(
		&node.ID,
		&node.Seq,
		&node.WorkflowID,
		&node.UserID,
		&parentID,
		&node.Name,
		&node.Mode,
		&node.CurrentServerStatus,
		&node.CurrentClientStatus,
		&node.FiresAt,
		&linkID,
		&node.CreatedAt,
		&node.UpdatedAt,
		&metadata,
		&data,
		&detail.LegacyType,
		&retryMS,
		&detail.RetriesRemaining,
		&timeout,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		node.ParentID = &parentID.String
	}

	if linkID.Valid {
		node.LinkID = &linkID.String
	}

	clientDetail := &models.ClientNodeDetail{NodeID: node.ID}

	if err := json.Unmarshal(metadata, &clientDetail.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node metadata: %w", err)
	}

	if err := json.Unmarshal(data, &clientDetail.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node data: %w", err)
	}

	detail.NodeID = node.ID
	detail.RetryInterval = time.Duration(retryMS) * time.Millisecond
	detail.Timeout = time.Duration(timeout) * time.Millisecond

	node.ClientDetail = clientDetail
	node.Detail = &detail

	return &node, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
