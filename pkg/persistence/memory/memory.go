// Package memory provides a goroutine-safe in-memory persistence implementation
// for tests and single-process development.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

// Persistence keeps every record in maps guarded by one mutex, so each
// repository call behaves as a single transaction.
type Persistence struct {
	mu sync.RWMutex

	workflows     map[string]*models.Workflow
	nodes         map[string]*models.Node
	statusChanges map[string][]*models.StatusChange
	watchdogs     map[string]*models.Watchdog

	seq      int64
	changeID int64
	now      func() time.Time

	workflowRepo *WorkflowRepository
	nodeRepo     *NodeRepository
	watchdogRepo *WatchdogRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	p := &Persistence{
		workflows:     make(map[string]*models.Workflow),
		nodes:         make(map[string]*models.Node),
		statusChanges: make(map[string][]*models.StatusChange),
		watchdogs:     make(map[string]*models.Watchdog),
		now:           func() time.Time { return time.Now().UTC() },
	}

	p.workflowRepo = &WorkflowRepository{p: p}
	p.nodeRepo = &NodeRepository{p: p}
	p.watchdogRepo = &WatchdogRepository{p: p}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflowRepo }

func (p *Persistence) NodeRepository() persistence.NodeRepository { return p.nodeRepo }

func (p *Persistence) WatchdogRepository() persistence.WatchdogRepository { return p.watchdogRepo }

func (p *Persistence) HealthCheck(context.Context) error { return nil }

func (p *Persistence) Close(context.Context) error { return nil }

func cloneWorkflow(w *models.Workflow) *models.Workflow {
	c := *w
	c.Subject = maps.Clone(w.Subject)

	return &c
}

func cloneNode(n *models.Node) *models.Node {
	c := *n

	if n.ParentID != nil {
		parentID := *n.ParentID
		c.ParentID = &parentID
	}

	if n.LinkID != nil {
		linkID := *n.LinkID
		c.LinkID = &linkID
	}

	if n.ClientDetail != nil {
		detail := *n.ClientDetail
		detail.Metadata = maps.Clone(n.ClientDetail.Metadata)
		detail.Data = maps.Clone(n.ClientDetail.Data)
		c.ClientDetail = &detail
	}

	if n.Detail != nil {
		detail := *n.Detail
		c.Detail = &detail
	}

	return &c
}

func cloneWatchdog(w *models.Watchdog) *models.Watchdog {
	c := *w

	return &c
}

func sortNodes(nodes []*models.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Seq < nodes[j].Seq
	})
}
