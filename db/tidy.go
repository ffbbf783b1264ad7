package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tidy removes guest quota records whose window has expired. Scope rows go
// with them through the foreign key cascade.
func (db *DB) Tidy(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	deleteQuotas := db.flavor.NewDeleteBuilder()
	sql, args := deleteQuotas.DeleteFrom("guest_quotas").
		Where(deleteQuotas.LessEqualThan("expires_at", now.Unix())).
		Build()

	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Info("Tidying database")

	res, err := db.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete error: %w", err)
	}
	return res.RowsAffected()
}
