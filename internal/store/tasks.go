package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the durable record of one email's unsubscribe history.
type Task struct {
	EmailID         string     `json:"emailId"`
	UnsubscribeLink string     `json:"unsubscribeLink"`
	Status          Status     `json:"status"`
	Attempts        int        `json:"attempts"`
	LastAttempt     *time.Time `json:"lastAttempt,omitempty"`
	SuccessMessage  string     `json:"successMessage,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
}

// Outcome is what an attempt commits back to its task.
type Outcome struct {
	Status         Status
	SuccessMessage string
	ErrorMessage   string
}

const defaultSuccessMessage = "Successfully unsubscribed"

// TaskRepository reads and writes unsubscribe tasks. Writes are
// last-write-wins per email; callers serialise attempts on the same email.
type TaskRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db, now: time.Now}
}

const taskSelectCols = "email_id, unsubscribe_link, status, attempts, last_attempt, success_message, error_message"

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*Task, error) {
	var (
		lastAttempt sql.NullTime
		successMsg  sql.NullString
		errorMsg    sql.NullString
		status      string
	)
	task := &Task{}
	if err := scanner.Scan(&task.EmailID, &task.UnsubscribeLink, &status, &task.Attempts, &lastAttempt, &successMsg, &errorMsg); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.SuccessMessage = successMsg.String
	task.ErrorMessage = errorMsg.String
	if lastAttempt.Valid {
		t := lastAttempt.Time
		task.LastAttempt = &t
	}
	return task, nil
}

// Claim upserts the task for emailID to pending and increments attempts.
func (r *TaskRepository) Claim(ctx context.Context, emailID, link string) (*Task, error) {
	if strings.TrimSpace(emailID) == "" {
		return nil, fmt.Errorf("failed to claim task: empty email id")
	}
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unsubscribe_tasks (email_id, unsubscribe_link, status, attempts, last_attempt, updated_at)
		VALUES (?, ?, 'pending', 1, ?, ?)
		ON CONFLICT(email_id) DO UPDATE SET
			unsubscribe_link = excluded.unsubscribe_link,
			status = 'pending',
			attempts = unsubscribe_tasks.attempts + 1,
			last_attempt = excluded.last_attempt,
			success_message = NULL,
			error_message = NULL,
			updated_at = excluded.updated_at`,
		emailID, link, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return r.Get(ctx, emailID)
}

// Commit records the outcome of the current attempt.
func (r *TaskRepository) Commit(ctx context.Context, emailID string, out Outcome) error {
	var successMsg, errorMsg sql.NullString
	switch out.Status {
	case StatusCompleted:
		if strings.TrimSpace(out.SuccessMessage) == "" {
			out.SuccessMessage = defaultSuccessMessage
		}
		successMsg = sql.NullString{String: out.SuccessMessage, Valid: true}
	case StatusFailed:
		if out.ErrorMessage != "" {
			errorMsg = sql.NullString{String: out.ErrorMessage, Valid: true}
		}
	default:
		return fmt.Errorf("failed to commit task: status %q is not terminal", out.Status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE unsubscribe_tasks
		SET status = ?, success_message = ?, error_message = ?, updated_at = ?
		WHERE email_id = ?`,
		string(out.Status), successMsg, errorMsg, r.now().UTC(), emailID,
	)
	if err != nil {
		return fmt.Errorf("failed to commit task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to commit task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("commit %s: %w", emailID, ErrTaskNotFound)
	}
	return nil
}

// Get returns the task for emailID or ErrTaskNotFound.
func (r *TaskRepository) Get(ctx context.Context, emailID string) (*Task, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+taskSelectCols+" FROM unsubscribe_tasks WHERE email_id = ?", emailID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", emailID, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListFailed returns failed tasks that still have attempts left.
func (r *TaskRepository) ListFailed(ctx context.Context, maxAttempts int) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+taskSelectCols+" FROM unsubscribe_tasks WHERE status = 'failed' AND attempts < ? ORDER BY last_attempt ASC, email_id ASC",
		maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}
