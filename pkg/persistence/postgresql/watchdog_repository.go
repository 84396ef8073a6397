package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

const watchdogColumns = "id, name, subject_type, subject_id, duration_ms, timer_id, armed_at, created_at, updated_at"

// WatchdogRepository handles watchdog-related database operations.
type WatchdogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWatchdogRepository creates a new watchdog repository.
func NewWatchdogRepository(db *sql.DB, logger *slog.Logger) *WatchdogRepository {
	return &WatchdogRepository{db: db, logger: logger}
}

// Create inserts a watchdog; the identity unique index rejects a second one.
func (wr *WatchdogRepository) Create(ctx context.Context, watchdog *models.Watchdog) error {
	now := time.Now().UTC()

	_, err := wr.db.ExecContext(ctx, `
		INSERT INTO watchdogs (`+watchdogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`,
		watchdog.ID,
		watchdog.Name,
		watchdog.SubjectType,
		watchdog.SubjectID,
		watchdog.Duration.Milliseconds(),
		watchdog.TimerID,
		watchdog.ArmedAt,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.ErrWatchdogAlreadyExists
		}

		return fmt.Errorf("failed to insert watchdog: %w", err)
	}

	watchdog.CreatedAt = now
	watchdog.UpdatedAt = now

	return nil
}

// GetByID returns a watchdog.
func (wr *WatchdogRepository) GetByID(ctx context.Context, id string) (*models.Watchdog, error) {
	if !validID(id) {
		return nil, persistence.ErrWatchdogNotFound
	}

	return wr.get(ctx, `SELECT `+watchdogColumns+` FROM watchdogs WHERE id = $1`, id)
}

// Find returns the watchdog registered under name for subject.
func (wr *WatchdogRepository) Find(ctx context.Context, subject models.Subject, name string) (*models.Watchdog, error) {
	return wr.get(ctx,
		`SELECT `+watchdogColumns+` FROM watchdogs WHERE name = $1 AND subject_type = $2 AND subject_id = $3`,
		name, subject.Type, subject.ID)
}

func (wr *WatchdogRepository) get(ctx context.Context, query string, args ...any) (*models.Watchdog, error) {
	watchdog, err := scanWatchdog(wr.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWatchdogNotFound
		}

		return nil, fmt.Errorf("failed to get watchdog: %w", err)
	}

	return watchdog, nil
}

// ListBySubject returns every watchdog registered for subject.
func (wr *WatchdogRepository) ListBySubject(ctx context.Context, subject models.Subject) ([]*models.Watchdog, error) {
	rows, err := wr.db.QueryContext(ctx,
		`SELECT `+watchdogColumns+` FROM watchdogs WHERE subject_type = $1 AND subject_id = $2 ORDER BY name`,
		subject.Type, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchdogs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			wr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	watchdogs := make([]*models.Watchdog, 0)

	for rows.Next() {
		watchdog, err := scanWatchdog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watchdog: %w", err)
		}

		watchdogs = append(watchdogs, watchdog)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchdogs: %w", err)
	}

	return watchdogs, nil
}

// SwapTimer re-arms the watchdog if it still references oldTimerID.
func (wr *WatchdogRepository) SwapTimer(ctx context.Context, id, oldTimerID, newTimerID string, armedAt time.Time) error {
	result, err := wr.db.ExecContext(ctx, `
		UPDATE watchdogs SET timer_id = $3, armed_at = $4, updated_at = NOW()
		WHERE id = $1 AND timer_id = $2
	`, id, oldTimerID, newTimerID, armedAt)
	if err != nil {
		return fmt.Errorf("failed to swap watchdog timer: %w", err)
	}

	return expectRow(result, persistence.ErrStaleWatchdog)
}

// Delete removes a watchdog.
func (wr *WatchdogRepository) Delete(ctx context.Context, id string) error {
	result, err := wr.db.ExecContext(ctx, `DELETE FROM watchdogs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete watchdog: %w", err)
	}

	return expectRow(result, persistence.ErrWatchdogNotFound)
}

// DeleteArmed removes a watchdog only while it is armed with timerID.
func (wr *WatchdogRepository) DeleteArmed(ctx context.Context, id, timerID string) error {
	result, err := wr.db.ExecContext(ctx, `DELETE FROM watchdogs WHERE id = $1 AND timer_id = $2`, id, timerID)
	if err != nil {
		return fmt.Errorf("failed to delete watchdog: %w", err)
	}

	return expectRow(result, persistence.ErrStaleWatchdog)
}

func scanWatchdog(row scanner) (*models.Watchdog, error) {
	var (
		watchdog   models.Watchdog
		durationMS int64
	)

	err := row.Scan(
		&watchdog.ID,
		&watchdog.Name,
		&watchdog.SubjectType,
		&watchdog.SubjectID,
		&durationMS,
		&watchdog.TimerID,
		&watchdog.ArmedAt,
		&watchdog.CreatedAt,
		&watchdog.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	watchdog.Duration = time.Duration(durationMS) * time.Millisecond

	return &watchdog, nil
}
