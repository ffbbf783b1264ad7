package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	"rssagg/models"
)

// ConsumeQuota records one request for fingerprint in scope and returns the
// counters after the increment. The fingerprint row and the scope row are
// upserted in one transaction; an expired window restarts both counts.
func (db *DB) ConsumeQuota(ctx context.Context, fingerprint, scope string, now time.Time, window time.Duration) (models.QuotaCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	nowUnix := now.Unix()
	expires := now.Add(window).Unix()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return models.QuotaCounts{}, fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	stmt, args := sqlbuilder.Build(`
		INSERT INTO guest_quotas (fingerprint, window_start, total, expires_at)
		VALUES ($?, $?, 1, $?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			window_start = CASE WHEN guest_quotas.expires_at <= $? THEN excluded.window_start ELSE guest_quotas.window_start END,
			total = CASE WHEN guest_quotas.expires_at <= $? THEN 1 ELSE guest_quotas.total + 1 END,
			expires_at = CASE WHEN guest_quotas.expires_at <= $? THEN excluded.expires_at ELSE guest_quotas.expires_at END
		RETURNING window_start, total, expires_at`,
		fingerprint, nowUnix, expires,
		nowUnix, nowUnix, nowUnix,
	).BuildWithFlavor(db.flavor)

	var windowStart, expiresAt int64
	var counts models.QuotaCounts
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&windowStart, &counts.Total, &expiresAt); err != nil {
		return counts, fmt.Errorf("upsert guest quota: %w", err)
	}

	stmt, args = sqlbuilder.Build(`
		INSERT INTO guest_quota_scopes (fingerprint, scope, window_start, hits)
		VALUES ($?, $?, $?, 1)
		ON CONFLICT (fingerprint, scope) DO UPDATE SET
			hits = CASE WHEN guest_quota_scopes.window_start = excluded.window_start THEN guest_quota_scopes.hits + 1 ELSE 1 END,
			window_start = excluded.window_start
		RETURNING hits`,
		fingerprint, scope, windowStart,
	).BuildWithFlavor(db.flavor)

	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&counts.ScopeCount); err != nil {
		return counts, fmt.Errorf("upsert guest quota scope: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("commit guest quota: %w", err)
	}

	counts.WindowStart = time.Unix(windowStart, 0).UTC()
	counts.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return counts, nil
}

// GetQuota loads the live quota record of a fingerprint. Scope counts from
// an older window are left out.
func (db *DB) GetQuota(ctx context.Context, fingerprint string, now time.Time) (models.GuestQuota, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	quota := models.GuestQuota{Fingerprint: fingerprint, ScopeCounts: map[string]int{}}

	sb := db.flavor.NewSelectBuilder()
	sb.Select("window_start", "total", "expires_at").From("guest_quotas").
		Where(sb.Equal("fingerprint", fingerprint), sb.GreaterThan("expires_at", now.Unix()))
	stmt, args := sb.Build()

	var windowStart, expiresAt int64
	err := db.db.QueryRowContext(ctx, stmt, args...).Scan(&windowStart, &quota.Total, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return quota, false, nil
	}
	if err != nil {
		return quota, false, fmt.Errorf("query error: %w", err)
	}
	quota.WindowStart = time.Unix(windowStart, 0).UTC()
	quota.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	scopes := db.flavor.NewSelectBuilder()
	scopes.Select("scope", "hits").From("guest_quota_scopes").
		Where(scopes.Equal("fingerprint", fingerprint), scopes.Equal("window_start", windowStart))
	stmt, args = scopes.Build()

	rows, err := db.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return quota, false, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope string
		var hits int
		if err := rows.Scan(&scope, &hits); err != nil {
			return quota, false, fmt.Errorf("scan error: %w", err)
		}
		quota.ScopeCounts[scope] = hits
	}
	return quota, true, rows.Err()
}
