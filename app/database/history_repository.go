package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ HistoryRepository = (*HistoryRepo)(nil)

// HistoryRepo handles the per-campaign log of ingested feed items
type HistoryRepo struct {
	db *DB
}

func NewHistoryRepository(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// LastRunID returns the newest run id recorded for the campaign, sentinel runs included.
func (r *HistoryRepo) LastRunID(ctx context.Context, campaignID string) (int64, bool, error) {
	query, args, err := psql.Select("MAX(run_id)").From("feed_history").
		Where(sq.Eq{"campaign_id": campaignID}).
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("failed to build last run query: %w", err)
	}

	var runID sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&runID); err != nil {
		return 0, false, fmt.Errorf("failed to get last run id: %w", err)
	}
	return runID.Int64, runID.Valid, nil
}

func (r *HistoryRepo) ListURLs(ctx context.Context, campaignID string) ([]string, error) {
	query, args, err := psql.Select("article_url").From("feed_history").
		Where(sq.Eq{"campaign_id": campaignID}).
		Where(sq.NotEq{"article_url": HistoryRunMarker}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history url query: %w", err)
	}
	return queryStrings(ctx, r.db, query, args)
}

// RecordBatch inserts entries under runID and prunes everything older than the
// newest keepRuns distinct runs of the campaign. An empty batch records a
// sentinel row so the run still counts for interval checks.
func (r *HistoryRepo) RecordBatch(ctx context.Context, campaignID string, runID int64, entries []HistoryEntry, keepRuns int) error {
	if len(entries) == 0 {
		entries = []HistoryEntry{{ArticleURL: HistoryRunMarker}}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	insert := psql.Insert("feed_history").
		Columns("campaign_id", "source_id", "article_url", "title", "publication_date", "run_id", "created_at").
		Options("OR IGNORE")
	for _, e := range entries {
		insert = insert.Values(campaignID, e.SourceID, e.ArticleURL, e.Title, nullTime(e.PublicationDate), runID, now)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build history insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert history batch: %w", err)
	}

	if keepRuns > 0 {
		keep := psql.Select("DISTINCT run_id").From("feed_history").
			Where(sq.Eq{"campaign_id": campaignID}).
			OrderBy("run_id DESC").
			Limit(uint64(keepRuns))
		keepSQL, keepArgs, err := keep.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build history keep query: %w", err)
		}

		prune, pruneArgs, err := psql.Delete("feed_history").
			Where(sq.Eq{"campaign_id": campaignID}).
			Where("run_id NOT IN ("+keepSQL+")", keepArgs...).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build history prune: %w", err)
		}
		if _, err := tx.ExecContext(ctx, prune, pruneArgs...); err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history batch: %w", err)
	}
	return nil
}

func (r *HistoryRepo) ListEntries(ctx context.Context, campaignID string, limit int) ([]HistoryEntry, error) {
	builder := psql.Select("id", "campaign_id", "source_id", "article_url", "title", "publication_date", "run_id", "created_at").
		From("feed_history").
		Where(sq.Eq{"campaign_id": campaignID}).
		OrderBy("run_id DESC", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var published sql.NullTime
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.SourceID, &e.ArticleURL, &e.Title, &published, &e.RunID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.PublicationDate = timePtr(published)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
