package database

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ CheckRepository = (*CheckRepo)(nil)

// CheckRepo persists scheduled task status checks
type CheckRepo struct {
	db *DB
}

func NewCheckRepository(db *DB) *CheckRepo {
	return &CheckRepo{db: db}
}

// ScheduleCheck is a no-op when a check for the same (campaign, task, endpoint)
// is already pending. It reports whether a new check was created.
func (r *CheckRepo) ScheduleCheck(ctx context.Context, check ScheduledCheck) (bool, error) {
	query, args, err := psql.Insert("scheduled_checks").
		Options("OR IGNORE").
		Columns("campaign_id", "task_id", "endpoint_id", "next_check_at").
		Values(check.CampaignID, check.TaskID, check.EndpointID, check.NextCheckAt.UTC()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build check insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to schedule check: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func checkKey(campaignID string, taskID int64, endpointID string) sq.Eq {
	return sq.Eq{"campaign_id": campaignID, "task_id": taskID, "endpoint_id": endpointID}
}

func (r *CheckRepo) HasCheck(ctx context.Context, campaignID string, taskID int64, endpointID string) (bool, error) {
	query, args, err := psql.Select("COUNT(*)").From("scheduled_checks").
		Where(checkKey(campaignID, taskID, endpointID)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build check lookup: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to look up check: %w", err)
	}
	return count > 0, nil
}

// ClaimCheck deletes the check and reports whether this caller removed it.
func (r *CheckRepo) ClaimCheck(ctx context.Context, campaignID string, taskID int64, endpointID string) (bool, error) {
	query, args, err := psql.Delete("scheduled_checks").
		Where(checkKey(campaignID, taskID, endpointID)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build check claim: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to claim check: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CheckRepo) ListDueChecks(ctx context.Context, now time.Time) ([]ScheduledCheck, error) {
	query, args, err := psql.Select("campaign_id", "task_id", "endpoint_id", "next_check_at").
		From("scheduled_checks").
		Where(sq.LtOrEq{"next_check_at": now.UTC()}).
		OrderBy("next_check_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build due checks query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list due checks: %w", err)
	}
	defer rows.Close()

	var checks []ScheduledCheck
	for rows.Next() {
		var c ScheduledCheck
		if err := rows.Scan(&c.CampaignID, &c.TaskID, &c.EndpointID, &c.NextCheckAt); err != nil {
			return nil, fmt.Errorf("failed to scan check row: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

func (r *CheckRepo) DeleteTaskChecks(ctx context.Context, taskID int64) error {
	query, args, err := psql.Delete("scheduled_checks").Where(sq.Eq{"task_id": taskID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task checks delete: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete task checks: %w", err)
	}
	return nil
}

func (r *CheckRepo) DeleteCampaignChecks(ctx context.Context, campaignID string) (int, error) {
	query, args, err := psql.Delete("scheduled_checks").Where(sq.Eq{"campaign_id": campaignID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build campaign checks delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete campaign checks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
