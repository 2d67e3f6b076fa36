// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/streamops/internal/opserr"
)

// Store persists jobs in sqlite. Every state change is guarded by a WHERE
// clause on the previous state, so an illegal transition surfaces as zero
// affected rows instead of overwriting a terminal job.
type Store struct {
	db      *sql.DB
	backoff func(n int) time.Duration
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, backoff: Backoff}
}

const jobColumns = `j.id, j.type, j.asset_id, j.payload, j.state, j.priority, j.progress,
	j.retry_count, j.max_retries, j.timeout_sec, j.retry_at, j.result, j.error_message,
	j.created_at, j.started_at, j.completed_at, j.updated_at, p.progress, p.message`

const jobFrom = ` FROM so_jobs j LEFT JOIN so_progress p ON p.job_id = j.id `

// priorityOrder sorts critical before high before normal before low.
const priorityOrder = `CASE j.priority
	WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END`

// Enqueue inserts the job or coalesces it onto the existing row with the
// same id. A live row is returned untouched; a terminal row is resurrected
// as a fresh queued run with progress and retry counters reset. The bool
// reports whether new work entered the queue.
func (s *Store) Enqueue(ctx context.Context, j *Job) (*Job, bool, error) {
	const op = "jobs.enqueue"
	if j.ID == "" || j.Type == "" {
		return nil, false, opserr.New(opserr.KindValidation, op, "id and type are required")
	}
	if j.Priority == "" {
		j.Priority = PriorityNormal
	}

	payload, err := marshalMap(j.Params)
	if err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindValidation, op, "encode params")
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindIO, op, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getTx(ctx, tx, j.ID)
	if err != nil && opserr.KindOf(err) != opserr.KindNotFound {
		return nil, false, err
	}
	if existing != nil && !existing.State.Terminal() {
		return existing, false, nil
	}

	if existing != nil {
		_, err = tx.ExecContext(ctx, `UPDATE so_jobs SET
			type = ?, asset_id = ?, payload = ?, state = ?, priority = ?, progress = 0,
			retry_count = 0, max_retries = ?, timeout_sec = ?, retry_at = NULL,
			result = NULL, error_message = NULL, created_at = ?, started_at = NULL,
			completed_at = NULL, updated_at = ?
			WHERE id = ?`,
			j.Type, strOrNil(j.AssetID), payload, StateQueued, j.Priority,
			j.MaxRetries, intOrNil(j.TimeoutSec), fmtTime(now), fmtTime(now), j.ID)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO so_jobs
			(id, type, asset_id, payload, state, priority, retry_count, max_retries,
			 timeout_sec, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			j.ID, j.Type, strOrNil(j.AssetID), payload, StateQueued, j.Priority,
			j.MaxRetries, intOrNil(j.TimeoutSec), fmtTime(now), fmtTime(now))
	}
	if err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindIO, op, "write job")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM so_progress WHERE job_id = ?`, j.ID); err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindIO, op, "clear progress")
	}

	fresh, err := getTx(ctx, tx, j.ID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindIO, op, "commit")
	}
	return fresh, true, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+jobFrom+`WHERE j.id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opserr.Newf(opserr.KindNotFound, "jobs.get", "job %s not found", id)
	}
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, "jobs.get", "scan job")
	}
	return j, nil
}

// ListOptions filter the job listing. Zero values mean "any".
type ListOptions struct {
	State   State
	Type    string
	AssetID string
	Limit   int
	Offset  int
}

// List returns jobs newest first plus the total count for the filter.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Job, int, error) {
	const op = "jobs.list"
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if opts.State != "" {
		where = append(where, "j.state = ?")
		args = append(args, opts.State)
	}
	if opts.Type != "" {
		where = append(where, "j.type = ?")
		args = append(args, opts.Type)
	}
	if opts.AssetID != "" {
		where = append(where, "j.asset_id = ?")
		args = append(args, opts.AssetID)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQ := `SELECT COUNT(*) FROM so_jobs j ` + clause
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, opserr.Wrap(err, opserr.KindIO, op, "count")
	}

	q := `SELECT ` + jobColumns + jobFrom + clause +
		` ORDER BY j.created_at DESC, j.rowid DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, opserr.Wrap(err, opserr.KindIO, op, "query")
	}
	defer func() { _ = rows.Close() }()

	out := make([]Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, opserr.Wrap(err, opserr.KindIO, op, "scan")
		}
		out = append(out, *j)
	}
	return out, total, rows.Err()
}

// ClaimNext moves the oldest queued job of the highest priority class to
// running and returns it. Within a class, jobs with equal create times
// keep insertion order via rowid. It returns (nil, nil) on an empty queue.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	const op = "jobs.claim"
	// Truncated so the returned job matches the stored RFC 3339 second.
	now := time.Now().UTC().Truncate(time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+jobFrom+
		`WHERE j.state = ? ORDER BY `+priorityOrder+`, j.created_at ASC, j.rowid ASC LIMIT 1`,
		StateQueued)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "scan")
	}

	// started_at keeps the first-run timestamp across retries.
	res, err := tx.ExecContext(ctx, `UPDATE so_jobs SET state = ?,
		started_at = COALESCE(started_at, ?), updated_at = ? WHERE id = ? AND state = ?`,
		StateRunning, fmtTime(now), fmtTime(now), j.ID, StateQueued)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "mark running")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	// A fresh run starts with a clean progress row.
	if _, err := tx.ExecContext(ctx, `DELETE FROM so_progress WHERE job_id = ?`, j.ID); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "clear progress")
	}
	if err := tx.Commit(); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "commit")
	}

	j.State = StateRunning
	if j.StartedAt.IsZero() {
		j.StartedAt = now
	}
	j.UpdatedAt = now
	j.Progress = 0
	j.Message = ""
	return j, nil
}

// MarkCompleted finishes a running job. Zero affected rows means the job
// left running underneath the worker and is reported as a conflict.
func (s *Store) MarkCompleted(ctx context.Context, id string, result map[string]any) (*Job, error) {
	const op = "jobs.complete"
	var resJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, opserr.Wrap(err, opserr.KindInternal, op, "encode result")
		}
		resJSON = string(b)
	}

	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `UPDATE so_jobs SET state = ?, progress = 100,
		result = ?, error_message = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateCompleted, resJSON, now, now, id, StateRunning)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "update")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, opserr.Newf(opserr.KindConflict, op, "job %s is not running", id)
	}
	return s.Get(ctx, id)
}

// MarkFailed records a failure on a running job. With retry budget left
// the job parks in retrying with retry_at set by the backoff schedule,
// otherwise it lands in failed for good. The bool reports a pending retry.
func (s *Store) MarkFailed(ctx context.Context, id, message string) (*Job, bool, error) {
	const op = "jobs.fail"
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindIO, op, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	j, err := getTx(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if j.State != StateRunning {
		return nil, false, opserr.Newf(opserr.KindConflict, op, "job %s is %s, not running", id, j.State)
	}

	if j.RetryCount < j.MaxRetries {
		retryAt := now.Add(s.backoff(j.RetryCount))
		_, err = tx.ExecContext(ctx, `UPDATE so_jobs SET state = ?, retry_count = retry_count + 1,
			retry_at = ?, error_message = ?, updated_at = ? WHERE id = ? AND state = ?`,
			StateRetrying, fmtTime(retryAt), message, fmtTime(now), id, StateRunning)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE so_jobs SET state = ?, error_message = ?,
			completed_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
			StateFailed, message, fmtTime(now), fmtTime(now), id, StateRunning)
	}
	if err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindIO, op, "update")
	}

	fresh, err := getTx(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, opserr.Wrap(err, opserr.KindIO, op, "commit")
	}
	return fresh, fresh.State == StateRetrying, nil
}

// CancelPending cancels a job that is still waiting in queued or retrying.
// Running jobs are cancelled cooperatively through their worker instead;
// the bool reports whether this call changed a row.
func (s *Store) CancelPending(ctx context.Context, id string) (bool, error) {
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `UPDATE so_jobs SET state = ?, completed_at = ?,
		updated_at = ? WHERE id = ? AND state IN (?, ?)`,
		StateCancelled, now, now, id, StateQueued, StateRetrying)
	if err != nil {
		return false, opserr.Wrap(err, opserr.KindIO, "jobs.cancel", "update")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkCancelledRunning finalizes a cooperative cancel once the worker has
// unwound its handler.
func (s *Store) MarkCancelledRunning(ctx context.Context, id string) (*Job, error) {
	const op = "jobs.cancel"
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `UPDATE so_jobs SET state = ?, completed_at = ?,
		updated_at = ? WHERE id = ? AND state = ?`,
		StateCancelled, now, now, id, StateRunning)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "update")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, opserr.Newf(opserr.KindConflict, op, "job %s is not running", id)
	}
	return s.Get(ctx, id)
}

// RequeueDue flips retrying jobs whose backoff has elapsed back to queued.
// RFC 3339 timestamps compare lexically, so the cutoff works as a string.
func (s *Store) RequeueDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE so_jobs SET state = ?, updated_at = ?
		WHERE state = ? AND retry_at <= ?`,
		StateQueued, fmtTime(now.UTC()), StateRetrying, fmtTime(now.UTC()))
	if err != nil {
		return 0, opserr.Wrap(err, opserr.KindIO, "jobs.requeue", "update")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetRunning requeues jobs that were mid-flight when the previous
// process died. Retry counters stay untouched: a crash is not the job's
// fault.
func (s *Store) ResetRunning(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE so_jobs SET state = ?, updated_at = ?
		WHERE state = ?`,
		StateQueued, fmtTime(time.Now().UTC()), StateRunning)
	if err != nil {
		return 0, opserr.Wrap(err, opserr.KindIO, "jobs.reset", "update")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetProgress records live handler progress in the side table, keeping the
// hot path off the job rows. Readers merge the freshest value back in.
func (s *Store) SetProgress(ctx context.Context, id string, pct float64, message string) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO so_progress (job_id, progress, message, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET progress = excluded.progress,
			message = excluded.message, updated_at = excluded.updated_at`,
		id, pct, strOrNil(message), fmtTime(time.Now().UTC()))
	if err != nil {
		return opserr.Wrap(err, opserr.KindIO, "jobs.progress", "upsert")
	}
	return nil
}

// CountByState returns the number of jobs per state.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM so_jobs GROUP BY state`)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, "jobs.count", "query")
	}
	defer func() { _ = rows.Close() }()

	out := make(map[State]int)
	for rows.Next() {
		var st State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, opserr.Wrap(err, opserr.KindIO, "jobs.count", "scan")
		}
		out[st] = n
	}
	return out, rows.Err()
}

func getTx(ctx context.Context, tx *sql.Tx, id string) (*Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+jobFrom+`WHERE j.id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opserr.Newf(opserr.KindNotFound, "jobs.get", "job %s not found", id)
	}
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, "jobs.get", "scan job")
	}
	return j, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		j                      Job
		assetID                sql.NullString
		payload                string
		timeoutSec             sql.NullInt64
		retryAt, result        sql.NullString
		errMsg                 sql.NullString
		createdAt, updatedAt   string
		startedAt, completedAt sql.NullString
		livePct                sql.NullFloat64
		liveMsg                sql.NullString
	)

	err := sc.Scan(
		&j.ID, &j.Type, &assetID, &payload, &j.State, &j.Priority, &j.Progress,
		&j.RetryCount, &j.MaxRetries, &timeoutSec, &retryAt, &result, &errMsg,
		&createdAt, &startedAt, &completedAt, &updatedAt, &livePct, &liveMsg,
	)
	if err != nil {
		return nil, err
	}

	j.AssetID = assetID.String
	if err := json.Unmarshal([]byte(payload), &j.Params); err != nil {
		return nil, fmt.Errorf("job %s: decode params: %w", j.ID, err)
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &j.Result); err != nil {
			return nil, fmt.Errorf("job %s: decode result: %w", j.ID, err)
		}
	}
	j.Error = errMsg.String
	j.TimeoutSec = int(timeoutSec.Int64)
	j.RetryAt = parseTime(retryAt)
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	j.StartedAt = parseTime(startedAt)
	j.CompletedAt = parseTime(completedAt)

	// The live progress row wins while the job is in flight; terminal rows
	// report their own milestone (completed pins 100).
	j.Message = liveMsg.String
	if livePct.Valid && !j.State.Terminal() {
		j.Progress = livePct.Float64
	}
	return &j, nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intOrNil(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
