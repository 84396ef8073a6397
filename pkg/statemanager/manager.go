// Package statemanager is the single gate through which node statuses change.
package statemanager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

const defaultMaxAttempts = 3

// Change requests new values for one or both axes. Empty fields stay as they are.
type Change struct {
	Server   models.ServerStatus
	Client   models.ClientStatus
	Response map[string]any
}

// Manager validates transitions against a Table and applies them with compare-and-set.
type Manager struct {
	nodes       persistence.NodeRepository
	table       Table
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With("component", "state_manager")
	}
}

// WithMetrics records transition outcomes.
func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithMaxAttempts bounds how often a lost compare-and-set is retried against fresh state.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// New creates a Manager that persists through nodes.
func New(nodes persistence.NodeRepository, table Table, opts ...Option) *Manager {
	m := &Manager{
		nodes:       nodes,
		table:       table,
		logger:      slog.Default().With("component", "state_manager"),
		maxAttempts: defaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Validate checks change against the node's current statuses without writing.
// The server axis is checked first.
func (m *Manager) Validate(node *models.Node, change Change) error {
	if change.Server != "" && !m.table.ServerAllowed(node.CurrentServerStatus, change.Server) {
		return &StatusChangeError{
			Axis:      models.StatusTypeServer,
			NodeID:    node.ID,
			Current:   string(node.CurrentServerStatus),
			Requested: string(change.Server),
		}
	}

	if change.Client != "" && !m.table.ClientAllowed(node.CurrentClientStatus, change.Client) {
		return &StatusChangeError{
			Axis:      models.StatusTypeClient,
			NodeID:    node.ID,
			Current:   string(node.CurrentClientStatus),
			Requested: string(change.Client),
		}
	}

	return nil
}

// Transition applies change to node. Both axes are written together or not at
// all. When another writer got there first the node is reloaded and the change
// re-validated against the fresh state. On return node holds the latest known statuses.
func (m *Manager) Transition(ctx context.Context, node *models.Node, change Change) error {
	if change.Server == "" && change.Client == "" {
		return nil
	}

	current := node

	for attempt := 1; ; attempt++ {
		err := m.Validate(current, change)
		if err != nil {
			m.record(change, "rejected")
			setStatuses(node, current.Statuses())

			return err
		}

		expected := current.Statuses()
		next := expected

		if change.Server != "" {
			next.Server = change.Server
		}

		if change.Client != "" {
			next.Client = change.Client
		}

		err = m.nodes.CompareAndSwapStatus(ctx, node.ID, expected, next, auditTrail(expected, next, change))
		if err == nil {
			m.record(change, "applied")
			setStatuses(node, next)

			m.logger.DebugContext(ctx, "node transitioned",
				"node_id", node.ID,
				"server_status", next.Server,
				"client_status", next.Client)

			return nil
		}

		if !persistence.IsStaleStatus(err) || attempt >= m.maxAttempts {
			return fmt.Errorf("failed to transition node %s: %w", node.ID, err)
		}

		m.logger.DebugContext(ctx, "node status changed concurrently, retrying", "node_id", node.ID, "attempt", attempt)

		current, err = m.nodes.GetByID(ctx, node.ID)
		if err != nil {
			return fmt.Errorf("failed to reload node %s: %w", node.ID, err)
		}
	}
}

func (m *Manager) record(change Change, result string) {
	if change.Server != "" {
		m.metrics.Transition(string(models.StatusTypeServer), result)
	}

	if change.Client != "" {
		m.metrics.Transition(string(models.StatusTypeClient), result)
	}
}

func auditTrail(from, to models.StatusPair, change Change) []*models.StatusChange {
	var changes []*models.StatusChange

	if change.Server != "" {
		changes = append(changes, &models.StatusChange{
			StatusType: models.StatusTypeServer,
			FromStatus: string(from.Server),
			ToStatus:   string(to.Server),
			Response:   change.Response,
		})
	}

	if change.Client != "" {
		changes = append(changes, &models.StatusChange{
			StatusType: models.StatusTypeClient,
			FromStatus: string(from.Client),
			ToStatus:   string(to.Client),
			Response:   change.Response,
		})
	}

	return changes
}

func setStatuses(node *models.Node, pair models.StatusPair) {
	node.CurrentServerStatus = pair.Server
	node.CurrentClientStatus = pair.Client
}
