package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ErrTaskIDTaken is returned by CreateTask when a client-supplied id already exists.
var ErrTaskIDTaken = errors.New("task id already exists")

var _ TaskRepository = (*TaskRepo)(nil)

// TaskRepo handles database operations for campaign tasks
type TaskRepo struct {
	db *DB
}

func NewTaskRepository(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

var taskColumns = []string{
	"id", "campaign_id", "type", "topic", "keywords", "research_url",
	"title_override", "slug_override", "feature_image",
	"pub_override", "pub_mode", "pub_date", "pub_random_range",
	"status", "progress", "run_started_at", "scheduled_publication_date", "publication_mode",
	"error_message", "execution_id", "content_id", "result_title", "result_slug", "content",
	"created_at", "updated_at", "completed_at",
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var taskType, status string
	var pubDate, runStartedAt, scheduled, completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.CampaignID, &taskType, &t.Topic, &t.Keywords, &t.ResearchURL,
		&t.TitleOverride, &t.SlugOverride, &t.FeatureImage,
		&t.PubOverride, &t.PubMode, &pubDate, &t.PubRandomRange,
		&status, &t.Progress, &runStartedAt, &scheduled, &t.PublicationMode,
		&t.ErrorMessage, &t.ExecutionID, &t.ContentID, &t.ResultTitle, &t.ResultSlug, &t.Content,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = TaskType(taskType)
	t.Status = TaskStatus(status)
	t.PubDate = timePtr(pubDate)
	t.RunStartedAt = timePtr(runStartedAt)
	t.ScheduledPublicationDate = timePtr(scheduled)
	t.CompletedAt = timePtr(completedAt)
	return &t, nil
}

// CreateTask inserts a pending task. A non-zero ID is used as given and
// ErrTaskIDTaken is returned when it collides; a zero ID is assigned by the store.
func (r *TaskRepo) CreateTask(ctx context.Context, task *Task) error {
	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = TaskPending
	}
	if task.Type == "" {
		task.Type = TaskTypeTopic
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	columns := []string{
		"campaign_id", "type", "topic", "keywords", "research_url",
		"title_override", "slug_override", "feature_image",
		"pub_override", "pub_mode", "pub_date", "pub_random_range",
		"status", "created_at", "updated_at",
	}
	values := []interface{}{
		task.CampaignID, string(task.Type), task.Topic, task.Keywords, task.ResearchURL,
		task.TitleOverride, task.SlugOverride, task.FeatureImage,
		boolInt(task.PubOverride), task.PubMode, nullTime(task.PubDate), task.PubRandomRange,
		string(task.Status), now, now,
	}

	insert := psql.Insert("tasks")
	if task.ID != 0 {
		insert = insert.Columns(append([]string{"id"}, columns...)...).
			Values(append([]interface{}{task.ID}, values...)...).
			Suffix("ON CONFLICT (id) DO NOTHING")
	} else {
		insert = insert.Columns(columns...).Values(values...)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if task.ID != 0 {
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTaskIDTaken
		}
		return nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task id: %w", err)
	}
	task.ID = id
	return nil
}

func (r *TaskRepo) getOne(ctx context.Context, builder sq.SelectBuilder, op string) (*Task, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s query: %w", op, err)
	}

	task, err := scanTask(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return task, nil
}

func (r *TaskRepo) GetTask(ctx context.Context, id int64) (*Task, error) {
	return r.getOne(ctx, psql.Select(taskColumns...).From("tasks").Where(sq.Eq{"id": id}), "get task")
}

func (r *TaskRepo) GetTaskByExecutionID(ctx context.Context, executionID string) (*Task, error) {
	if executionID == "" {
		return nil, nil
	}
	return r.getOne(ctx, psql.Select(taskColumns...).From("tasks").
		Where(sq.Eq{"execution_id": executionID}).
		OrderBy("id DESC").
		Limit(1), "get task by execution id")
}

func (r *TaskRepo) GetProcessingTask(ctx context.Context, campaignID string) (*Task, error) {
	return r.getOne(ctx, psql.Select(taskColumns...).From("tasks").
		Where(sq.Eq{"campaign_id": campaignID, "status": string(TaskProcessing)}).
		OrderBy("run_started_at", "id").
		Limit(1), "get processing task")
}

func (r *TaskRepo) GetOldestPendingTask(ctx context.Context, campaignID string) (*Task, error) {
	return r.getOne(ctx, psql.Select(taskColumns...).From("tasks").
		Where(sq.Eq{"campaign_id": campaignID, "status": string(TaskPending)}).
		OrderBy("created_at", "id").
		Limit(1), "get oldest pending task")
}

func (r *TaskRepo) queryTasks(ctx context.Context, builder sq.SelectBuilder) ([]Task, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build task list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

func (r *TaskRepo) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	builder := psql.Select(taskColumns...).From("tasks").OrderBy("created_at", "id")
	if filter.CampaignID != "" {
		builder = builder.Where(sq.Eq{"campaign_id": filter.CampaignID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}
	return r.queryTasks(ctx, builder)
}

// ListLinkCandidates returns the most recently completed tasks that produced a slug.
func (r *TaskRepo) ListLinkCandidates(ctx context.Context, campaignID string, excludeID int64, limit int) ([]Task, error) {
	builder := psql.Select(taskColumns...).From("tasks").
		Where(sq.Eq{"campaign_id": campaignID, "status": string(TaskCompleted)}).
		Where(sq.NotEq{"id": excludeID, "result_slug": ""}).
		OrderBy("completed_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.queryTasks(ctx, builder)
}

func (r *TaskRepo) ListResearchURLs(ctx context.Context, campaignID string) ([]string, error) {
	query, args, err := psql.Select("research_url").From("tasks").
		Where(sq.Eq{"campaign_id": campaignID}).
		Where(sq.NotEq{"research_url": ""}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build research url query: %w", err)
	}
	return queryStrings(ctx, r.db, query, args)
}

func (r *TaskRepo) CountCompletedInMode(ctx context.Context, campaignID, mode string, excludeID int64) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("tasks").
		Where(sq.Eq{"campaign_id": campaignID, "status": string(TaskCompleted), "publication_mode": mode}).
		Where(sq.NotEq{"id": excludeID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build completed count query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completed tasks: %w", err)
	}
	return count, nil
}

func (r *TaskRepo) GetTaskStats(ctx context.Context, campaignID string) (TaskStats, error) {
	var stats TaskStats
	builder := psql.Select("status", "COUNT(*)").From("tasks").GroupBy("status")
	if campaignID != "" {
		builder = builder.Where(sq.Eq{"campaign_id": campaignID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return stats, fmt.Errorf("failed to build task stats query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, fmt.Errorf("failed to get task stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan task stats row: %w", err)
		}
		switch TaskStatus(status) {
		case TaskPending:
			stats.Pending = count
		case TaskProcessing:
			stats.Processing = count
		case TaskCompleted:
			stats.Completed = count
		case TaskFailed:
			stats.Failed = count
		case TaskCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

func (r *TaskRepo) DeleteTask(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task delete: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// exec runs a conditional update and reports how many rows it changed.
func (r *TaskRepo) exec(ctx context.Context, builder sq.UpdateBuilder, op string) (int, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s: %w", op, err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows of %s: %w", op, err)
	}
	return int(n), nil
}

// MarkProcessing moves a pending task to processing unless another task of the
// same campaign is already processing. The check and the write are one statement.
func (r *TaskRepo) MarkProcessing(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	n, err := r.exec(ctx, psql.Update("tasks").
		Set("status", string(TaskProcessing)).
		Set("run_started_at", startedAt.UTC()).
		Set("progress", "").
		Set("error_message", "").
		Set("execution_id", "").
		Set("updated_at", startedAt.UTC()).
		Where(sq.Eq{"id": id, "status": string(TaskPending)}).
		Where("NOT EXISTS (SELECT 1 FROM tasks AS busy WHERE busy.campaign_id = tasks.campaign_id AND busy.status = ?)", string(TaskProcessing)),
		"mark task processing")
	return n > 0, err
}

func (r *TaskRepo) SetExecutionID(ctx context.Context, id int64, executionID string) error {
	_, err := r.exec(ctx, psql.Update("tasks").
		Set("execution_id", executionID).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}),
		"set execution id")
	return err
}

// UpdateProgress stores worker progress and refreshes run_started_at, which
// pushes the timeout deadline forward. Only processing tasks are touched.
func (r *TaskRepo) UpdateProgress(ctx context.Context, id int64, progress string, at time.Time) (bool, error) {
	n, err := r.exec(ctx, psql.Update("tasks").
		Set("progress", progress).
		Set("run_started_at", at.UTC()).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"id": id, "status": string(TaskProcessing)}),
		"update task progress")
	return n > 0, err
}

func (r *TaskRepo) MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error) {
	n, err := r.exec(ctx, psql.Update("tasks").
		Set("status", string(TaskCompleted)).
		Set("error_message", "").
		Set("completed_at", at.UTC()).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"id": id, "status": string(TaskProcessing)}),
		"mark task completed")
	return n > 0, err
}

func (r *TaskRepo) MarkFailed(ctx context.Context, id int64, message string, at time.Time) (bool, error) {
	n, err := r.exec(ctx, psql.Update("tasks").
		Set("status", string(TaskFailed)).
		Set("error_message", message).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"id": id, "status": string(TaskProcessing)}),
		"mark task failed")
	return n > 0, err
}

func (r *TaskRepo) SaveResult(ctx context.Context, id int64, result TaskResult) error {
	_, err := r.exec(ctx, psql.Update("tasks").
		Set("content_id", result.ContentID).
		Set("result_title", result.Title).
		Set("result_slug", result.Slug).
		Set("content", result.Content).
		Set("publication_mode", result.PublicationMode).
		Set("scheduled_publication_date", nullTime(result.ScheduledPublicationDate)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}),
		"save task result")
	return err
}

func resetToPending(builder sq.UpdateBuilder) sq.UpdateBuilder {
	return builder.
		Set("status", string(TaskPending)).
		Set("progress", "").
		Set("error_message", "").
		Set("run_started_at", nil).
		Set("updated_at", time.Now().UTC())
}

// ResetToPending moves a task in status from back to pending.
func (r *TaskRepo) ResetToPending(ctx context.Context, id int64, from TaskStatus) (bool, error) {
	n, err := r.exec(ctx, resetToPending(psql.Update("tasks")).
		Where(sq.Eq{"id": id, "status": string(from)}),
		"reset task to pending")
	return n > 0, err
}

func (r *TaskRepo) ResetProcessing(ctx context.Context, campaignID string) (int, error) {
	return r.exec(ctx, resetToPending(psql.Update("tasks")).
		Where(sq.Eq{"campaign_id": campaignID, "status": string(TaskProcessing)}),
		"reset processing tasks")
}

// RetryAllFailed resets every failed task of the campaign in a single statement.
func (r *TaskRepo) RetryAllFailed(ctx context.Context, campaignID string) (int, error) {
	return r.exec(ctx, resetToPending(psql.Update("tasks")).
		Where(sq.Eq{"campaign_id": campaignID, "status": string(TaskFailed)}),
		"retry failed tasks")
}

func (r *TaskRepo) CancelTask(ctx context.Context, id int64) (bool, error) {
	n, err := r.exec(ctx, psql.Update("tasks").
		Set("status", string(TaskCancelled)).
		Set("error_message", "").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id, "status": []string{string(TaskPending), string(TaskFailed)}}),
		"cancel task")
	return n > 0, err
}

func queryStrings(ctx context.Context, db *DB, query string, args []interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query strings: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan string row: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
