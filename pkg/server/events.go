package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/schedulers"
	"github.com/satchwsm/backbeat/pkg/statemanager"
	"github.com/satchwsm/backbeat/pkg/tree"
	"github.com/satchwsm/backbeat/pkg/watchdog"
)

// TimeoutWatchdog is the watchdog armed on every node handed to a client.
const TimeoutWatchdog = "timeout"

// EventName identifies an event.
type EventName string

const (
	EventMarkChildrenReady EventName = "MarkChildrenReady"
	EventScheduleNextNode  EventName = "ScheduleNextNode"
	EventStartNode         EventName = "StartNode"
	EventClientComplete    EventName = "ClientComplete"
	EventNodeComplete      EventName = "NodeComplete"
	EventClientError       EventName = "ClientError"
	EventRetryNode         EventName = "RetryNode"
	EventResetNode         EventName = "ResetNode"
)

var errNodeTarget = errors.New("event needs a node target")

type event struct {
	scheduler schedulers.Kind
	perform   func(s *Server, ctx context.Context, node *models.Node) error
	// set on events that also accept a workflow
	performWorkflow func(s *Server, ctx context.Context, workflow *models.Workflow) error
}

func defaultEvents() map[EventName]event {
	return map[EventName]event{
		EventMarkChildrenReady: {scheduler: schedulers.KindNow, perform: (*Server).markChildrenReady},
		EventStartNode:         {scheduler: schedulers.KindAt, perform: (*Server).startNode},
		EventClientComplete:    {scheduler: schedulers.KindNow, perform: (*Server).clientComplete},
		EventNodeComplete:      {scheduler: schedulers.KindNow, perform: (*Server).nodeComplete},
		EventClientError:       {scheduler: schedulers.KindNow, perform: (*Server).clientError},
		EventRetryNode:         {scheduler: schedulers.KindRetry, perform: (*Server).retryNode},
		EventResetNode:         {scheduler: schedulers.KindNow, perform: (*Server).resetNode},
		EventScheduleNextNode: {
			scheduler:       schedulers.KindNow,
			perform:         (*Server).scheduleNextNode,
			performWorkflow: (*Server).scheduleNextTopLevel,
		},
	}
}

type fireOptions struct {
	scheduler schedulers.Kind
}

// FireOption adjusts a single FireEvent call.
type FireOption func(*fireOptions)

// WithScheduler overrides the event's default scheduler.
func WithScheduler(kind schedulers.Kind) FireOption {
	return func(o *fireOptions) {
		o.scheduler = kind
	}
}

// FireEvent schedules the event on target. Events on deactivated nodes are
// dropped without reaching a scheduler.
func (s *Server) FireEvent(ctx context.Context, name EventName, target models.Target, opts ...FireOption) error {
	ev, ok := s.events[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	options := fireOptions{scheduler: ev.scheduler}
	for _, opt := range opts {
		opt(&options)
	}

	if node, ok := target.(*models.Node); ok {
		deactivated, err := s.deactivated(ctx, node)
		if err != nil {
			return err
		}

		if deactivated {
			s.metrics.Skipped(string(name))
			s.logger.DebugContext(ctx, "Skipping event on deactivated node", "event", name, "node_id", node.ID)

			return nil
		}
	}

	scheduler, err := s.schedulers.Get(options.scheduler)
	if err != nil {
		return err
	}

	_, err = scheduler.Schedule(ctx, string(name), target)

	return err
}

func (s *Server) deactivated(ctx context.Context, node *models.Node) (bool, error) {
	if node.CurrentServerStatus == models.ServerDeactivated {
		return true, nil
	}

	if node.ParentID == nil {
		return false, nil
	}

	nodes, err := s.nodes().ListByWorkflow(ctx, node.WorkflowID, models.NodeFilter{})
	if err != nil {
		return false, err
	}

	return tree.Deactivated(node, tree.Ancestors(nodes, node)), nil
}

// HandleJob runs a claimed job: event jobs are performed, watchdog jobs fired.
func (s *Server) HandleJob(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindEvent:
		return s.Perform(ctx, job)
	case queue.KindWatchdog:
		return s.watchdogs.Fire(ctx, job, s)
	default:
		return fmt.Errorf("%w: unknown kind %q", queue.ErrInvalidJob, job.Kind)
	}
}

// Perform executes an event job against the current state of its target.
// Events whose target is gone or deactivated, or whose transition no longer
// applies, finish without error.
func (s *Server) Perform(ctx context.Context, job *queue.Job) error {
	name := EventName(job.Event)

	ev, ok := s.events[name]
	if !ok {
		s.logger.ErrorContext(ctx, "Dropping job for unknown event", "event", job.Event, "job_id", job.ID)

		return nil
	}

	target, err := s.loadTarget(ctx, job.TargetType, job.TargetID)
	if persistence.IsNodeNotFound(err) || persistence.IsWorkflowNotFound(err) {
		s.logger.InfoContext(ctx, "Dropping event for deleted target", "event", name, "target_id", job.TargetID)

		return nil
	}

	if err != nil {
		return err
	}

	var run func(ctx context.Context) error

	switch t := target.(type) {
	case *models.Node:
		deactivated, err := s.deactivated(ctx, t)
		if err != nil {
			return err
		}

		if deactivated {
			s.metrics.Skipped(string(name))

			return nil
		}

		run = func(ctx context.Context) error { return ev.perform(s, ctx, t) }
	case *models.Workflow:
		if ev.performWorkflow == nil {
			s.logger.ErrorContext(ctx, "Dropping job", "event", name, "workflow_id", t.ID, "error", errNodeTarget)

			return nil
		}

		run = func(ctx context.Context) error { return ev.performWorkflow(s, ctx, t) }
	}

	err = schedulers.PerformEvent(ctx, s.tracer, string(name), job.ID, target, run)
	s.metrics.Performed(string(name), err)

	if isRejected(err) {
		s.logger.DebugContext(ctx, "Event no longer applies", "event", name, "target_id", job.TargetID, "error", err)

		return nil
	}

	return err
}

//nolint:ireturn
func (s *Server) loadTarget(ctx context.Context, targetType models.SubjectType, id string) (models.Target, error) {
	switch targetType {
	case models.SubjectNode:
		return s.nodes().GetByID(ctx, id)
	case models.SubjectWorkflow:
		return s.workflows().GetByID(ctx, "", id)
	default:
		return nil, fmt.Errorf("%w: unknown target type %q", queue.ErrInvalidJob, targetType)
	}
}

func isRejected(err error) bool {
	return statemanager.IsInvalidServerStatusChange(err) || statemanager.IsInvalidClientStatusChange(err)
}

// HandleTimeout turns an expired node watchdog into a client error.
func (s *Server) HandleTimeout(ctx context.Context, subjectType models.SubjectType, subjectID, name string) error {
	if subjectType != models.SubjectNode {
		s.logger.WarnContext(ctx, "Ignoring timeout on non-node subject", "subject_type", subjectType, "subject_id", subjectID)

		return nil
	}

	node, err := s.nodes().GetByID(ctx, subjectID)
	if persistence.IsNodeNotFound(err) {
		return nil
	}

	if err != nil {
		return err
	}

	if node.CurrentServerStatus != models.ServerSentToClient {
		return nil
	}

	s.logger.InfoContext(ctx, "Node timed out", "node_id", node.ID, "watchdog", name)

	err = s.states.Transition(ctx, node, statemanager.Change{
		Client:   models.ClientErrored,
		Response: map[string]any{"error": "timeout", "watchdog": name},
	})
	if isRejected(err) {
		// the client reported in the meantime
		return nil
	}

	if err != nil {
		return err
	}

	return s.FireEvent(ctx, EventClientError, node)
}

func (s *Server) markChildrenReady(ctx context.Context, node *models.Node) error {
	nodes, err := s.nodes().ListByWorkflow(ctx, node.WorkflowID, models.NodeFilter{})
	if err != nil {
		return err
	}

	id := node.ID

	for _, child := range tree.Children(nodes, &id) {
		if child.CurrentServerStatus != models.ServerPending {
			continue
		}

		err = s.states.Transition(ctx, child, statemanager.Change{Server: models.ServerReady, Client: models.ClientReady})
		if err != nil && !isRejected(err) {
			return err
		}
	}

	return s.FireEvent(ctx, EventScheduleNextNode, node)
}

func (s *Server) scheduleNextTopLevel(ctx context.Context, workflow *models.Workflow) error {
	nodes, err := s.nodes().ListByWorkflow(ctx, workflow.ID, models.NodeFilter{})
	if err != nil {
		return err
	}

	_, err = s.startReadyChildren(ctx, tree.Children(nodes, nil))

	return err
}

func (s *Server) scheduleNextNode(ctx context.Context, node *models.Node) error {
	nodes, err := s.nodes().ListByWorkflow(ctx, node.WorkflowID, models.NodeFilter{})
	if err != nil {
		return err
	}

	id := node.ID

	done, err := s.startReadyChildren(ctx, tree.Children(nodes, &id))
	if err != nil {
		return err
	}

	if done && node.CurrentServerStatus == models.ServerProcessingChildren {
		return s.FireEvent(ctx, EventNodeComplete, node)
	}

	return nil
}

// startReadyChildren starts ready children in order up to the first blocking
// child that is not complete. It reports whether every child is finished.
func (s *Server) startReadyChildren(ctx context.Context, children []*models.Node) (bool, error) {
	done := true

	for _, child := range tree.NotComplete(children) {
		if child.CurrentServerStatus == models.ServerDeactivated {
			continue
		}

		done = false

		if child.CurrentServerStatus == models.ServerReady {
			err := s.states.Transition(ctx, child, statemanager.Change{Server: models.ServerStarted})

			switch {
			case err == nil:
				err = s.FireEvent(ctx, EventStartNode, child)
				if err != nil {
					return false, err
				}
			case !isRejected(err):
				return false, err
			}
		}

		if child.Blocking() {
			break
		}
	}

	return done, nil
}

func (s *Server) startNode(ctx context.Context, node *models.Node) error {
	if node.CurrentServerStatus != models.ServerStarted {
		return nil
	}

	workflow, err := s.workflows().GetByID(ctx, "", node.WorkflowID)
	if err != nil {
		return err
	}

	if workflow.Paused {
		return s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerPaused})
	}

	if !node.Kind().Behavior().Dispatchable() {
		// nothing to hand out; the server plays the client's part
		err = s.states.Transition(ctx, node, statemanager.Change{
			Server: models.ServerSentToClient,
			Client: models.ClientReceived,
		})
		if err != nil {
			return err
		}

		err = s.states.Transition(ctx, node, statemanager.Change{Client: models.ClientComplete})
		if err != nil {
			return err
		}

		return s.FireEvent(ctx, EventClientComplete, node)
	}

	// the node is sent_to_client and watched before the client can see it, so
	// a client reporting straight back always finds it there
	err = s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerSentToClient})
	if err != nil {
		return err
	}

	_, err = s.watchdogs.Start(ctx, models.SubjectOf(node), TimeoutWatchdog, nodeTimeout(node))
	if err != nil {
		return err
	}

	err = s.notifier.Notify(ctx, workflow, node)
	if err != nil {
		// the armed watchdog times the node out into a retry
		s.logger.ErrorContext(ctx, "Failed to notify client", "node_id", node.ID, "workflow_id", workflow.ID, "error", err)
	}

	return nil
}

func nodeTimeout(node *models.Node) time.Duration {
	if node.Detail != nil && node.Detail.Timeout > 0 {
		return node.Detail.Timeout
	}

	return watchdog.DefaultDuration
}

func (s *Server) clientComplete(ctx context.Context, node *models.Node) error {
	err := s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerProcessingChildren})
	if err != nil {
		return err
	}

	return s.FireEvent(ctx, EventMarkChildrenReady, node)
}

func (s *Server) nodeComplete(ctx context.Context, node *models.Node) error {
	if node.CurrentServerStatus != models.ServerProcessingChildren {
		return nil
	}

	err := s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerComplete})
	if err != nil {
		return err
	}

	err = s.watchdogs.MassStop(ctx, models.SubjectOf(node))
	if err != nil {
		return err
	}

	if node.ParentID == nil {
		workflow, err := s.workflows().GetByID(ctx, "", node.WorkflowID)
		if err != nil {
			return err
		}

		return s.FireEvent(ctx, EventScheduleNextNode, workflow)
	}

	parent, err := s.nodes().GetByID(ctx, *node.ParentID)
	if err != nil {
		return err
	}

	return s.FireEvent(ctx, EventScheduleNextNode, parent)
}

func (s *Server) clientError(ctx context.Context, node *models.Node) error {
	err := s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerErrored})
	if err != nil {
		return err
	}

	if node.RetriesRemaining() <= 0 {
		s.logger.WarnContext(ctx, "Node errored with no retries remaining", "node_id", node.ID, "name", node.Name)

		return nil
	}

	err = s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerRetrying})
	if err != nil {
		return err
	}

	return s.FireEvent(ctx, EventRetryNode, node)
}

func (s *Server) retryNode(ctx context.Context, node *models.Node) error {
	if node.CurrentServerStatus != models.ServerRetrying {
		return nil
	}

	err := s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerStarted, Client: models.ClientReady})
	if err != nil {
		return err
	}

	// only the delivery that won the transition spends a retry
	remaining, err := s.nodes().DecrementRetries(ctx, node.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to decrement retries", "node_id", node.ID, "error", err)
	} else if node.Detail != nil {
		node.Detail.RetriesRemaining = remaining
	}

	return s.FireEvent(ctx, EventStartNode, node)
}

func (s *Server) resetNode(ctx context.Context, node *models.Node) error {
	nodes, err := s.nodes().ListByWorkflow(ctx, node.WorkflowID, models.NodeFilter{})
	if err != nil {
		return err
	}

	for _, descendant := range tree.Descendants(nodes, node) {
		if descendant.CurrentServerStatus == models.ServerDeactivated {
			continue
		}

		err = s.states.Transition(ctx, descendant, statemanager.Change{Server: models.ServerDeactivated})
		if err != nil && !isRejected(err) {
			return err
		}

		err = s.watchdogs.MassStop(ctx, models.SubjectOf(descendant))
		if err != nil {
			return err
		}
	}

	return nil
}
