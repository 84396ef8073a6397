package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/satchwsm/backbeat/pkg/channels/gochannel"
	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence/memory"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/schedulers"
	"github.com/satchwsm/backbeat/pkg/server"
	"github.com/satchwsm/backbeat/pkg/statemanager"
	"github.com/satchwsm/backbeat/pkg/watchdog"
	"github.com/satchwsm/backbeat/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	mu   sync.Mutex
	sent int
}

func (n *countingNotifier) Notify(context.Context, *models.Workflow, *models.Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent++

	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.sent
}

func TestService_DispatchesSignaledDecision(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	q := queue.NewMemoryQueue()
	m := metrics.New(prometheus.NewRegistry())
	notifier := &countingNotifier{}

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	defer func() { _ = pub.Close() }()

	srv := server.New(server.Deps{
		Persistence: store,
		States:      statemanager.New(store.NodeRepository(), statemanager.DefaultTable()),
		Schedulers:  schedulers.NewSet(q, store.NodeRepository(), schedulers.WithLogger(logger)),
		Watchdogs:   watchdog.New(store.WatchdogRepository(), q, watchdog.WithLogger(logger)),
		Notifier:    notifier,
	}, server.WithLogger(logger), server.WithMetrics(m))

	service := worker.NewService(srv, q, store.NodeRepository(), pub, sub, m, logger, worker.Config{
		PollInterval:      10 * time.Millisecond,
		ReconcileSchedule: "@every 1h",
	})

	done := make(chan error, 1)

	go func() {
		done <- service.Run(ctx)
	}()

	workflow, err := srv.CreateWorkflow(ctx, server.CreateWorkflowParams{
		Name:    "order",
		Subject: map[string]any{"id": 1},
		Decider: "svc",
	}, "user-1")
	require.NoError(t, err)

	decision, err := srv.Signal(ctx, workflow, server.SignalParams{})
	require.NoError(t, err)
	require.NoError(t, srv.FireEvent(ctx, server.EventScheduleNextNode, workflow))

	require.Eventually(t, func() bool {
		node, err := store.NodeRepository().GetByID(ctx, decision.ID)

		return err == nil && node.CurrentServerStatus == models.ServerSentToClient
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, notifier.count())

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestService_RejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	q := queue.NewMemoryQueue()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	defer func() { _ = pub.Close() }()

	srv := server.New(server.Deps{Persistence: store}, server.WithLogger(logger))

	service := worker.NewService(srv, q, store.NodeRepository(), pub, sub, nil, logger, worker.Config{
		ReconcileSchedule: "every now and then",
	})

	assert.Error(t, service.Run(context.Background()))
}
