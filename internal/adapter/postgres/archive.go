package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskfabric/taskfabric/internal/domain"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
)

// ArchiveStore implements archive.Archiver using PostgreSQL.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates an ArchiveStore backed by the given connection pool.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// Archive upserts a terminal task snapshot.
func (s *ArchiveStore) Archive(ctx context.Context, t *task.Task) error {
	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	attemptsJSON, err := json.Marshal(t.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	var resultJSON []byte
	if t.Result != nil {
		resultJSON, err = json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	modes := make([]string, len(t.ModeHistory))
	for i, m := range t.ModeHistory {
		modes[i] = string(m)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO task_archive
		   (id, description, context, priority, specialty, depends_on, status,
		    attempts, mode_history, result, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   attempts = EXCLUDED.attempts,
		   mode_history = EXCLUDED.mode_history,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error,
		   archived_at = now()`,
		t.ID, t.Description, ctxJSON, int(t.Priority), t.Specialty, t.DependsOn,
		string(t.Status), attemptsJSON, modes, resultJSON, t.Error, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("archive task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns an archived task by ID.
func (s *ArchiveStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, description, context, priority, specialty, depends_on, status,
		        attempts, mode_history, result, error, created_at
		 FROM task_archive WHERE id = $1`, id)

	var (
		t            task.Task
		ctxJSON      []byte
		priority     int
		status       string
		attemptsJSON []byte
		modes        []string
		resultJSON   []byte
	)
	err := row.Scan(&t.ID, &t.Description, &ctxJSON, &priority, &t.Specialty,
		&t.DependsOn, &status, &attemptsJSON, &modes, &resultJSON, &t.Error, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("archived task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get archived task %s: %w", id, err)
	}

	t.Priority = task.Priority(priority)
	t.Status = task.Status(status)
	if err := json.Unmarshal(ctxJSON, &t.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal(attemptsJSON, &t.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	if len(resultJSON) > 0 {
		t.Result = &task.Result{}
		if err := json.Unmarshal(resultJSON, t.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	for _, m := range modes {
		t.ModeHistory = append(t.ModeHistory, strategy.Mode(m))
	}
	return &t, nil
}
