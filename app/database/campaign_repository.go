package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lysyi3m/autopress/app/errs"
)

var _ CampaignRepository = (*CampaignRepo)(nil)

// CampaignRepo handles database operations for campaigns and their endpoints
type CampaignRepo struct {
	db *DB
}

func NewCampaignRepository(db *DB) *CampaignRepo {
	return &CampaignRepo{db: db}
}

func (r *CampaignRepo) UpsertEndpoint(ctx context.Context, endpoint Endpoint) error {
	now := time.Now().UTC()
	query, args, err := psql.Insert("endpoints").
		Columns("id", "name", "url", "feed_url", "secret", "created_at", "updated_at").
		Values(endpoint.ID, endpoint.Name, endpoint.URL, endpoint.FeedURL, endpoint.Secret, now, now).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			feed_url = excluded.feed_url,
			secret = excluded.secret,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build endpoint upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert endpoint: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	query, args, err := psql.Select("id", "name", "url", "feed_url", "secret", "created_at", "updated_at").
		From("endpoints").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build endpoint query: %w", err)
	}

	var e Endpoint
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&e.ID, &e.Name, &e.URL, &e.FeedURL, &e.Secret, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return &e, nil
}

// UpsertCampaign stores the campaign definition. The status is only written on
// insert so that pausing through the API survives configuration reloads.
func (r *CampaignRepo) UpsertCampaign(ctx context.Context, c Campaign) (bool, error) {
	generation, err := json.Marshal(c.Generation)
	if err != nil {
		return false, fmt.Errorf("failed to marshal generation policy: %w", err)
	}
	sources, err := json.Marshal(c.Feed.Sources)
	if err != nil {
		return false, fmt.Errorf("failed to marshal feed sources: %w", err)
	}
	filters, err := json.Marshal(c.Feed.Filters)
	if err != nil {
		return false, fmt.Errorf("failed to marshal feed filters: %w", err)
	}

	existing, err := r.GetCampaign(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check existing campaign: %w", err)
	}

	now := time.Now().UTC()
	var builder sq.Sqlizer
	if existing != nil {
		builder = psql.Update("campaigns").
			SetMap(map[string]interface{}{
				"name":             c.Name,
				"endpoint_id":      c.EndpointID,
				"generation":       string(generation),
				"publication_mode": c.Publication.Mode,
				"interval_value":   c.Publication.IntervalValue,
				"interval_unit":    c.Publication.IntervalUnit,
				"rolling_days":     c.Publication.RollingDays,
				"publish_hour":     c.Publication.PublishHour,
				"feed_enabled":     boolInt(c.Feed.Enabled),
				"feed_interval":    c.Feed.Interval,
				"feed_fetch_mode":  c.Feed.FetchMode,
				"feed_sources":     string(sources),
				"feed_filters":     string(filters),
				"updated_at":       now,
			}).
			Where(sq.Eq{"id": c.ID})
	} else {
		status := c.Status
		if status == "" {
			status = CampaignPaused
		}
		builder = psql.Insert("campaigns").
			Columns("id", "name", "status", "endpoint_id", "generation",
				"publication_mode", "interval_value", "interval_unit", "rolling_days", "publish_hour",
				"feed_enabled", "feed_interval", "feed_fetch_mode", "feed_sources", "feed_filters",
				"created_at", "updated_at").
			Values(c.ID, c.Name, string(status), c.EndpointID, string(generation),
				c.Publication.Mode, c.Publication.IntervalValue, c.Publication.IntervalUnit,
				c.Publication.RollingDays, c.Publication.PublishHour,
				boolInt(c.Feed.Enabled), c.Feed.Interval, c.Feed.FetchMode, string(sources), string(filters),
				now, now)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build campaign upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to upsert campaign: %w", err)
	}

	return existing == nil, nil
}

var campaignColumns = []string{
	"id", "name", "status", "endpoint_id", "generation",
	"publication_mode", "interval_value", "interval_unit", "rolling_days", "publish_hour",
	"feed_enabled", "feed_interval", "feed_fetch_mode", "feed_sources", "feed_filters",
	"created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*Campaign, error) {
	var c Campaign
	var status, generation, sources, filters string
	err := row.Scan(
		&c.ID, &c.Name, &status, &c.EndpointID, &generation,
		&c.Publication.Mode, &c.Publication.IntervalValue, &c.Publication.IntervalUnit,
		&c.Publication.RollingDays, &c.Publication.PublishHour,
		&c.Feed.Enabled, &c.Feed.Interval, &c.Feed.FetchMode, &sources, &filters,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = CampaignStatus(status)
	if err := json.Unmarshal([]byte(generation), &c.Generation); err != nil {
		return nil, fmt.Errorf("failed to decode generation policy of campaign %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(sources), &c.Feed.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode feed sources of campaign %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(filters), &c.Feed.Filters); err != nil {
		return nil, fmt.Errorf("failed to decode feed filters of campaign %s: %w", c.ID, err)
	}
	return &c, nil
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	query, args, err := psql.Select(campaignColumns...).
		From("campaigns").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build campaign query: %w", err)
	}

	c, err := scanCampaign(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	query, args, err := psql.Select(campaignColumns...).
		From("campaigns").
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build campaign list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign rows: %w", err)
	}

	return campaigns, nil
}

func (r *CampaignRepo) SetCampaignStatus(ctx context.Context, id string, status CampaignStatus) error {
	query, args, err := psql.Update("campaigns").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build campaign status update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// DeleteCampaign removes the campaign together with its tasks, checks and history.
func (r *CampaignRepo) DeleteCampaign(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"scheduled_checks", "feed_history", "tasks"} {
		query, args, err := psql.Delete(table).Where(sq.Eq{"campaign_id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build %s delete: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete %s of campaign: %w", table, err)
		}
	}

	query, args, err := psql.Delete("campaigns").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build campaign delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit campaign delete: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetCampaignCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get campaign count: %w", err)
	}
	return count, nil
}
