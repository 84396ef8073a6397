package watchdog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/otelhelper"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/persistence/memory"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/testutil"
	"github.com/satchwsm/backbeat/pkg/watchdog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type timeout struct {
	subjectType models.SubjectType
	subjectID   string
	name        string
}

type recordingHandler struct {
	mu       sync.Mutex
	timeouts []timeout
	err      error
}

func (h *recordingHandler) HandleTimeout(_ context.Context, subjectType models.SubjectType, subjectID, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return h.err
	}

	h.timeouts = append(h.timeouts, timeout{subjectType: subjectType, subjectID: subjectID, name: name})

	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.timeouts)
}

type fixture struct {
	service *watchdog.Service
	repo    persistence.WatchdogRepository
	queue   *queue.MemoryQueue
	clock   *testutil.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	q := queue.NewMemoryQueue()
	clk := testutil.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	return &fixture{
		service: watchdog.New(store.WatchdogRepository(), q, watchdog.WithClock(clk)),
		repo:    store.WatchdogRepository(),
		queue:   q,
		clock:   clk,
	}
}

// drain fires every job due at the fake clock's current time.
func (f *fixture) drain(t *testing.T, handler watchdog.Handler) {
	t.Helper()

	ctx := context.Background()

	jobs, err := f.queue.ClaimDue(ctx, f.clock.Now(), 0)
	require.NoError(t, err)

	for _, job := range jobs {
		require.NoError(t, f.service.Fire(ctx, job, handler))
	}
}

var subject = models.Subject{Type: models.SubjectNode, ID: "node-1"}

func TestExpired(t *testing.T) {
	t.Parallel()

	armed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	dog := &models.Watchdog{TimerID: "job-1", ArmedAt: armed, Duration: time.Minute}

	tests := []struct {
		name string
		dog  *models.Watchdog
		job  *queue.Job
		now  time.Time
		want bool
	}{
		{name: "current and elapsed", dog: dog, job: &queue.Job{ID: "job-1"}, now: armed.Add(time.Minute), want: true},
		{name: "current but early", dog: dog, job: &queue.Job{ID: "job-1"}, now: armed.Add(59 * time.Second)},
		{name: "replaced timer", dog: dog, job: &queue.Job{ID: "job-0"}, now: armed.Add(time.Hour)},
		{name: "record gone", dog: nil, job: &queue.Job{ID: "job-1"}, now: armed.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, watchdog.Expired(tt.dog, tt.job, tt.now))
		})
	}
}

func TestWatchdog_FiresOnceAfterDuration(t *testing.T) {
	t.Parallel()

	f := setup(t)
	handler := &recordingHandler{}

	_, err := f.service.Start(context.Background(), subject, "timeout", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(59 * time.Second)
	f.drain(t, handler)
	assert.Zero(t, handler.count())

	f.clock.Advance(time.Second)
	f.drain(t, handler)
	require.Equal(t, 1, handler.count())
	assert.Equal(t, timeout{subjectType: models.SubjectNode, subjectID: "node-1", name: "timeout"}, handler.timeouts[0])

	_, err = f.repo.Find(context.Background(), subject, "timeout")
	require.ErrorIs(t, err, persistence.ErrWatchdogNotFound)

	f.clock.Advance(time.Hour)
	f.drain(t, handler)
	assert.Equal(t, 1, handler.count())
}

func TestWatchdog_FeedPostponesFire(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	handler := &recordingHandler{}

	started, err := f.service.Start(ctx, subject, "timeout", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(50 * time.Second)

	fed, err := f.service.Feed(ctx, subject, "timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, started.ID, fed.ID)
	assert.NotEqual(t, started.TimerID, fed.TimerID)

	// original deadline passes without a fire
	f.clock.Advance(10 * time.Second)
	f.drain(t, handler)
	assert.Zero(t, handler.count())

	f.clock.Advance(50 * time.Second)
	f.drain(t, handler)
	assert.Equal(t, 1, handler.count())
}

func TestWatchdog_StaleTimerNeverFires(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	handler := &recordingHandler{}

	started, err := f.service.Start(ctx, subject, "timeout", time.Minute)
	require.NoError(t, err)

	staleJob := &queue.Job{ID: started.TimerID, Kind: queue.KindWatchdog, WatchdogID: started.ID}

	_, err = f.service.Feed(ctx, subject, "timeout", 0)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.service.Fire(ctx, staleJob, handler))
	assert.Zero(t, handler.count())
}

func TestWatchdog_FeedWithoutRecordStartsDefault(t *testing.T) {
	t.Parallel()

	f := setup(t)

	dog, err := f.service.Feed(context.Background(), subject, "timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, watchdog.DefaultDuration, dog.Duration)
	assert.Len(t, f.queue.Pending(), 1)
}

func TestWatchdog_FeedWithoutRecordUsesGivenDuration(t *testing.T) {
	t.Parallel()

	f := setup(t)

	dog, err := f.service.Feed(context.Background(), subject, "timeout", 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, dog.Duration)

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, f.clock.Now().Add(90*time.Second), pending[0].RunAt)
}

func TestWatchdog_EarlyTimerIsRearmed(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	q := queue.NewMemoryQueue()
	clk := testutil.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 700_000, time.UTC))
	service := watchdog.New(store.WatchdogRepository(), q, watchdog.WithClock(clk))
	ctx := context.Background()
	handler := &recordingHandler{}

	dog, err := service.Start(ctx, subject, "timeout", time.Minute)
	require.NoError(t, err)

	pending := q.Pending()
	require.Len(t, pending, 1)
	job := pending[0]

	claimed, err := q.ClaimDue(ctx, job.RunAt, 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// a millisecond-scored queue hands the timer out inside its last millisecond
	clk.Set(job.RunAt.Add(-500 * time.Microsecond))

	require.NoError(t, service.Fire(ctx, claimed[0], handler))
	assert.Zero(t, handler.count())

	pending = q.Pending()
	require.Len(t, pending, 1, "the timer is armed again")
	assert.Equal(t, job.ID, pending[0].ID)
	assert.Equal(t, dog.ExpiresAt(), pending[0].RunAt)

	clk.Set(dog.ExpiresAt())

	claimed, err = q.ClaimDue(ctx, clk.Now(), 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, service.Fire(ctx, claimed[0], handler))
	assert.Equal(t, 1, handler.count())

	_, err = store.WatchdogRepository().Find(ctx, subject, "timeout")
	assert.ErrorIs(t, err, persistence.ErrWatchdogNotFound)
}

func TestWatchdog_RestartReplaces(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	handler := &recordingHandler{}

	first, err := f.service.Start(ctx, subject, "timeout", time.Minute)
	require.NoError(t, err)

	second, err := f.service.Start(ctx, subject, "timeout", 2*time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second.TimerID, pending[0].ID)

	dogs, err := f.repo.ListBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Len(t, dogs, 1)

	f.clock.Advance(time.Minute)
	f.drain(t, handler)
	assert.Zero(t, handler.count())

	f.clock.Advance(time.Minute)
	f.drain(t, handler)
	assert.Equal(t, 1, handler.count())
}

func TestWatchdog_ConcurrentStartsLeaveOneRecord(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = f.service.Start(ctx, subject, "timeout", time.Minute)
		}()
	}

	wg.Wait()

	dogs, err := f.repo.ListBySubject(ctx, subject)
	require.NoError(t, err)
	require.Len(t, dogs, 1)
}

func TestWatchdog_MassStop(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	other := models.Subject{Type: models.SubjectNode, ID: "node-2"}

	for _, name := range []string{"timeout", "heartbeat"} {
		_, err := f.service.Start(ctx, subject, name, time.Minute)
		require.NoError(t, err)
	}

	kept, err := f.service.Start(ctx, other, "timeout", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.service.MassStop(ctx, subject))

	dogs, err := f.repo.ListBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Empty(t, dogs)

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, kept.TimerID, pending[0].ID)

	require.NoError(t, f.service.Stop(ctx, subject, "timeout"))
}

func TestWatchdog_HandlerErrorKeepsRecord(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	handler := &recordingHandler{err: errors.New("store down")}

	_, err := f.service.Start(ctx, subject, "timeout", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)

	jobs, err := f.queue.ClaimDue(ctx, f.clock.Now(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	err = f.service.Fire(ctx, jobs[0], handler)
	require.Error(t, err)

	_, err = f.repo.Find(ctx, subject, "timeout")
	require.NoError(t, err)

	handler.err = nil
	require.NoError(t, f.service.Fire(ctx, jobs[0], handler))
	assert.Equal(t, 1, handler.count())
}

func TestWatchdog_FireRecordsSpan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	q := queue.NewMemoryQueue()
	clk := testutil.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")
	service := watchdog.New(store.WatchdogRepository(), q, watchdog.WithClock(clk), watchdog.WithTracer(tracer))

	dog, err := service.Start(ctx, subject, "timeout", time.Minute)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)

	jobs, err := q.ClaimDue(ctx, clk.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// early deliveries are re-armed without a span
	require.NoError(t, service.Fire(ctx, jobs[0], &recordingHandler{}))
	assert.Empty(t, recorder.Ended())

	clk.Advance(30 * time.Second)
	err = service.Fire(ctx, jobs[0], &recordingHandler{err: errors.New("node store unavailable")})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "watchdog.fire", spans[0].Name())
	assert.Subset(t, spans[0].Attributes(), []attribute.KeyValue{
		attribute.String(otelhelper.WatchdogNameKey, "timeout"),
		attribute.String(otelhelper.JobIDKey, dog.TimerID),
		attribute.String(otelhelper.TargetTypeKey, "node"),
		attribute.String(otelhelper.TargetIDKey, "node-1"),
	})
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
