package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/optrun/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a
// Store. Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Study metadata ---

func (s *SQLiteStore) CreateStudy(ctx context.Context, study *model.Study) error {
	s.logger.Debug("sql", "op", "insert", "table", "studies", "id", study.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO studies (id, name, algorithm, trial_number, num_workers, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		study.ID, study.Name, study.Algorithm, study.TrialNumber, study.NumWorkers,
		study.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// GetStudy returns the most recently created study record, or nil if the
// ledger holds none.
func (s *SQLiteStore) GetStudy(ctx context.Context) (*model.Study, error) {
	s.logger.Debug("sql", "op", "select", "table", "studies")

	var study model.Study
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, algorithm, trial_number, num_workers, created_at
		 FROM studies ORDER BY created_at DESC LIMIT 1`,
	).Scan(&study.ID, &study.Name, &study.Algorithm, &study.TrialNumber,
		&study.NumWorkers, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	study.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &study, nil
}

// --- Trial lifecycle ---

func (s *SQLiteStore) CreateTrial(ctx context.Context, trial *model.Trial) error {
	s.logger.Debug("sql", "op", "insert", "table", "trials", "id", trial.ID)

	var paramsJSON *string
	if trial.Params != nil {
		b, err := json.Marshal(trial.Params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		v := string(b)
		paramsJSON = &v
	}

	state := trial.State
	if state == "" {
		state = model.TrialReady
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM trials WHERE id = ?)`, trial.ID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("trial %d: %w", trial.ID, model.ErrDuplicateTrial)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trials (id, state, params, objective, error, started_at, ended_at)
		 VALUES (?, ?, ?, NULL, '', NULL, NULL)`,
		trial.ID, string(state), paramsJSON,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTrial(ctx context.Context, id int) (*model.Trial, error) {
	s.logger.Debug("sql", "op", "select", "table", "trials", "id", id)
	trial, err := scanTrial(s.db.QueryRowContext(ctx,
		`SELECT id, state, params, objective, error, started_at, ended_at
		 FROM trials WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trial %d: %w", id, model.ErrTrialNotFound)
	}
	return trial, err
}

func (s *SQLiteStore) ListTrials(ctx context.Context) ([]*model.Trial, error) {
	s.logger.Debug("sql", "op", "list", "table", "trials")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, params, objective, error, started_at, ended_at
		 FROM trials ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrials(rows)
}

// NextTrialID returns the next dense trial id: max(id)+1, or 0 for an empty
// ledger.
func (s *SQLiteStore) NextTrialID(ctx context.Context) (int, error) {
	s.logger.Debug("sql", "op", "next_id", "table", "trials")

	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id) + 1, 0) FROM trials`).Scan(&next)
	return next, err
}

// --- Aggregates ---

// Counts returns the aggregate (ready, running, finished). Finished counts
// every terminal state: finished, failure and timeout trials all consume one
// unit of the trial budget.
func (s *SQLiteStore) Counts(ctx context.Context) (model.Counts, error) {
	s.logger.Debug("sql", "op", "counts", "table", "trials")

	var c model.Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN state = 'ready' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state IN ('finished', 'failure', 'timeout') THEN 1 ELSE 0 END), 0)
		 FROM trials`,
	).Scan(&c.Ready, &c.Running, &c.Finished)
	return c, err
}

func (s *SQLiteStore) ReadyIDs(ctx context.Context) ([]int, error) {
	s.logger.Debug("sql", "op", "ready_ids", "table", "trials")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM trials WHERE state = 'ready' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- State transitions ---

func (s *SQLiteStore) SetState(ctx context.Context, id int, state model.TrialState) error {
	s.logger.Debug("sql", "op", "set_state", "table", "trials", "id", id, "state", state)

	result, err := s.db.ExecContext(ctx,
		`UPDATE trials SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("trial %d: %w", id, model.ErrTrialNotFound)
	}
	return nil
}

// SetRunning transitions a trial to running and stamps its start time.
func (s *SQLiteStore) SetRunning(ctx context.Context, id int) error {
	s.logger.Debug("sql", "op", "set_running", "table", "trials", "id", id)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE trials SET state = 'running', started_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("trial %d: %w", id, model.ErrTrialNotFound)
	}
	return nil
}

// SetResult writes a terminal state, the objective values and any diagnostic
// in a single statement, stamping the end time.
func (s *SQLiteStore) SetResult(ctx context.Context, id int, state model.TrialState, objective []float64, errMsg string) error {
	s.logger.Debug("sql", "op", "set_result", "table", "trials", "id", id, "state", state)

	if !state.IsTerminal() {
		return fmt.Errorf("trial %d: %s is not a terminal state", id, state)
	}

	var objectiveJSON *string
	if objective != nil {
		b, err := json.Marshal(objective)
		if err != nil {
			return fmt.Errorf("marshal objective: %w", err)
		}
		v := string(b)
		objectiveJSON = &v
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE trials SET state = ?, objective = ?, error = ?, ended_at = ? WHERE id = ?`,
		string(state), objectiveJSON, errMsg, now, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("trial %d: %w", id, model.ErrTrialNotFound)
	}
	return nil
}

// --- Resume support ---

// RollbackToReady resets every trial at or after checkpoint back to ready and
// clears its objective, timestamps and error. Idempotent: trials already
// ready are untouched.
func (s *SQLiteStore) RollbackToReady(ctx context.Context, checkpoint int) error {
	s.logger.Debug("sql", "op", "rollback_to_ready", "table", "trials", "checkpoint", checkpoint)

	_, err := s.db.ExecContext(ctx,
		`UPDATE trials SET state = 'ready', objective = NULL, error = '',
		 started_at = NULL, ended_at = NULL
		 WHERE id >= ? AND state != 'ready'`, checkpoint)
	return err
}

// DeleteTrialDataAfter removes the persisted parameter and result payloads
// for every trial at or after checkpoint by deleting those rows. Must run
// strictly after RollbackToReady in the same resume operation: reversing the
// order would delete data for trials still recorded as finished, silently
// shrinking the aggregate counts.
func (s *SQLiteStore) DeleteTrialDataAfter(ctx context.Context, checkpoint int) error {
	s.logger.Debug("sql", "op", "delete_after", "table", "trials", "checkpoint", checkpoint)

	_, err := s.db.ExecContext(ctx, `DELETE FROM trials WHERE id >= ?`, checkpoint)
	return err
}

// --- Evaluation ---

// BestTrials scans finished trials only and returns, per goal direction, the
// trial with the extremal objective for that dimension. Ties break to the
// lowest trial id. Failure and timeout trials never participate.
func (s *SQLiteStore) BestTrials(ctx context.Context, goals []model.Goal) ([]*model.Trial, error) {
	s.logger.Debug("sql", "op", "best", "table", "trials", "goals", len(goals))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, params, objective, error, started_at, ended_at
		 FROM trials WHERE state = 'finished' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	finished, err := scanTrials(rows)
	if err != nil {
		return nil, err
	}
	if len(finished) == 0 {
		return nil, model.ErrNoFinishedTrials
	}

	best := make([]*model.Trial, len(goals))
	for dim, goal := range goals {
		for _, trial := range finished {
			if dim >= len(trial.Objective) {
				continue
			}
			if best[dim] == nil {
				best[dim] = trial
				continue
			}
			cur := best[dim].Objective[dim]
			val := trial.Objective[dim]
			// Ascending id order makes strict comparison keep the
			// lowest id among ties.
			if (goal == model.GoalMinimize && val < cur) ||
				(goal == model.GoalMaximize && val > cur) {
				best[dim] = trial
			}
		}
		if best[dim] == nil {
			return nil, model.ErrNoFinishedTrials
		}
	}
	return best, nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTrial(row scanner) (*model.Trial, error) {
	var trial model.Trial
	var state string
	var paramsJSON, objectiveJSON *string
	var startedAt, endedAt *string

	err := row.Scan(&trial.ID, &state, &paramsJSON, &objectiveJSON,
		&trial.Error, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	trial.State = model.TrialState(state)
	if paramsJSON != nil {
		if err := json.Unmarshal([]byte(*paramsJSON), &trial.Params); err != nil {
			return nil, &model.CorruptionError{TrialID: trial.ID, Err: fmt.Errorf("unmarshal params: %w", err)}
		}
	}
	if objectiveJSON != nil {
		if err := json.Unmarshal([]byte(*objectiveJSON), &trial.Objective); err != nil {
			return nil, &model.CorruptionError{TrialID: trial.ID, Err: fmt.Errorf("unmarshal objective: %w", err)}
		}
	}
	if startedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *startedAt)
		trial.StartedAt = &t
	}
	if endedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *endedAt)
		trial.EndedAt = &t
	}
	return &trial, nil
}

func scanTrials(rows *sql.Rows) ([]*model.Trial, error) {
	var trials []*model.Trial
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}
	return trials, rows.Err()
}
