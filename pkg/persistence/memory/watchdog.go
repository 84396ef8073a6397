package memory

import (
	"context"
	"sort"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

// WatchdogRepository is the in-memory watchdog store.
type WatchdogRepository struct {
	p *Persistence
}

func (r *WatchdogRepository) Create(_ context.Context, watchdog *models.Watchdog) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, existing := range r.p.watchdogs {
		if existing.Name == watchdog.Name && existing.Subject() == watchdog.Subject() {
			return persistence.ErrWatchdogAlreadyExists
		}
	}

	now := r.p.now()
	watchdog.CreatedAt = now
	watchdog.UpdatedAt = now
	r.p.watchdogs[watchdog.ID] = cloneWatchdog(watchdog)

	return nil
}

func (r *WatchdogRepository) GetByID(_ context.Context, id string) (*models.Watchdog, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	watchdog, ok := r.p.watchdogs[id]
	if !ok {
		return nil, persistence.ErrWatchdogNotFound
	}

	return cloneWatchdog(watchdog), nil
}

func (r *WatchdogRepository) Find(_ context.Context, subject models.Subject, name string) (*models.Watchdog, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, watchdog := range r.p.watchdogs {
		if watchdog.Name == name && watchdog.Subject() == subject {
			return cloneWatchdog(watchdog), nil
		}
	}

	return nil, persistence.ErrWatchdogNotFound
}

func (r *WatchdogRepository) ListBySubject(_ context.Context, subject models.Subject) ([]*models.Watchdog, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	result := make([]*models.Watchdog, 0)

	for _, watchdog := range r.p.watchdogs {
		if watchdog.Subject() == subject {
			result = append(result, cloneWatchdog(watchdog))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result, nil
}

func (r *WatchdogRepository) SwapTimer(_ context.Context, id, oldTimerID, newTimerID string, armedAt time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	watchdog, ok := r.p.watchdogs[id]
	if !ok || watchdog.TimerID != oldTimerID {
		return persistence.ErrStaleWatchdog
	}

	watchdog.TimerID = newTimerID
	watchdog.ArmedAt = armedAt
	watchdog.UpdatedAt = r.p.now()

	return nil
}

func (r *WatchdogRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.watchdogs[id]; !ok {
		return persistence.ErrWatchdogNotFound
	}

	delete(r.p.watchdogs, id)

	return nil
}

func (r *WatchdogRepository) DeleteArmed(_ context.Context, id, timerID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	watchdog, ok := r.p.watchdogs[id]
	if !ok || watchdog.TimerID != timerID {
		return persistence.ErrStaleWatchdog
	}

	delete(r.p.watchdogs, id)

	return nil
}
