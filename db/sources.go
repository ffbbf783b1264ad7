package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"rssagg/models"
	"rssagg/query"
)

var sourceColumns = []string{
	"sources.id",
	"sources.slug",
	"sources.title",
	"sources.kind",
	"sources.locator",
	"sources.scrape_config",
	"sources.enabled",
	"sources.display_order",
	"sources.owner",
	"sources.created_at",
	"sources.updated_at",
}

// CreateSource inserts a source and returns it with its id and timestamps
func (db *DB) CreateSource(ctx context.Context, src models.Source) (models.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	config, err := encodeScrapeConfig(src.ScrapeConfig)
	if err != nil {
		return src, err
	}
	now := db.now().UTC().Truncate(time.Second)

	sql, args := sqlbuilder.Build(`
		INSERT INTO sources (slug, title, kind, locator, scrape_config, enabled, display_order, owner, created_at, updated_at)
		VALUES ($?, $?, $?, $?, $?, $?, $?, $?, $?, $?)
		RETURNING id`,
		src.Slug,
		src.Title,
		string(src.Kind),
		nullString(src.Locator),
		config,
		src.Enabled,
		src.DisplayOrder,
		nullString(src.Owner),
		now.Unix(),
		now.Unix(),
	).BuildWithFlavor(db.flavor)

	if err := db.db.QueryRowContext(ctx, sql, args...).Scan(&src.Id); err != nil {
		return src, fmt.Errorf("insert source: %w", err)
	}
	src.CreatedAt = now
	src.UpdatedAt = now

	log.WithFields(log.Fields{
		"source_id": src.Id,
		"slug":      src.Slug,
		"kind":      src.Kind,
	}).Info("Created source")
	return src, nil
}

// UpdateSource overwrites the editable fields of a source
func (db *DB) UpdateSource(ctx context.Context, src models.Source) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	config, err := encodeScrapeConfig(src.ScrapeConfig)
	if err != nil {
		return err
	}

	ub := db.flavor.NewUpdateBuilder()
	ub.Update("sources").Set(
		ub.Assign("slug", src.Slug),
		ub.Assign("title", src.Title),
		ub.Assign("kind", string(src.Kind)),
		ub.Assign("locator", nullString(src.Locator)),
		ub.Assign("scrape_config", config),
		ub.Assign("enabled", src.Enabled),
		ub.Assign("display_order", src.DisplayOrder),
		ub.Assign("updated_at", db.now().Unix()),
	).Where(ub.Equal("id", src.Id))

	sql, args := ub.Build()
	return db.execOne(ctx, sql, args)
}

// UpdateSourceLocator stores a re-resolved locator
func (db *DB) UpdateSourceLocator(ctx context.Context, id int64, locator string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ub := db.flavor.NewUpdateBuilder()
	ub.Update("sources").Set(
		ub.Assign("locator", locator),
		ub.Assign("updated_at", db.now().Unix()),
	).Where(ub.Equal("id", id))

	sql, args := ub.Build()
	if err := db.execOne(ctx, sql, args); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"source_id": id,
		"locator":   locator,
	}).Info("Updated source locator")
	return nil
}

func (db *DB) execOne(ctx context.Context, sql string, args []interface{}) error {
	res, err := db.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	if n == 0 {
		return ErrSourceNotFound
	}
	return nil
}

// GetSource loads a single source by id
func (db *DB) GetSource(ctx context.Context, id int64) (models.Source, error) {
	sources, err := db.ListSources(ctx, &query.IdsFilter{Column: "sources.id", Ids: []int64{id}})
	if err != nil {
		return models.Source{}, err
	}
	if len(sources) == 0 {
		return models.Source{}, ErrSourceNotFound
	}
	return sources[0], nil
}

// FindSource returns the first enabled source visible to owner with the given
// slug. Owned sources win over shared ones.
func (db *DB) FindSource(ctx context.Context, owner, slug string) (models.Source, error) {
	sources, err := db.ListSources(ctx, &query.EnabledFilter{}, &query.AccessibleFilter{Owner: owner}, &query.SlugFilter{Slug: slug})
	if err != nil {
		return models.Source{}, err
	}
	for _, src := range sources {
		if src.Owner != "" {
			return src, nil
		}
	}
	if len(sources) == 0 {
		return models.Source{}, ErrSourceNotFound
	}
	return sources[0], nil
}

// ListEnabledSources returns every enabled source
func (db *DB) ListEnabledSources(ctx context.Context) ([]models.Source, error) {
	return db.ListSources(ctx, &query.EnabledFilter{})
}

// ListOwnerSources returns the enabled shared and owned sources of owner
func (db *DB) ListOwnerSources(ctx context.Context, owner string) ([]models.Source, error) {
	return db.ListSources(ctx, &query.EnabledFilter{}, &query.AccessibleFilter{Owner: owner})
}

// ListSourcesByIds returns the enabled sources among ids
func (db *DB) ListSourcesByIds(ctx context.Context, ids []int64) ([]models.Source, error) {
	return db.ListSources(ctx, &query.EnabledFilter{}, &query.IdsFilter{Column: "sources.id", Ids: ids})
}

// ListSources returns sources matching all filters ordered for display
func (db *DB) ListSources(ctx context.Context, filters ...query.FilterStrategy) ([]models.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.flavor.NewSelectBuilder()
	sb.Select(sourceColumns...).From("sources")
	for _, filter := range filters {
		filter.ApplyFilter(sb)
	}
	sb.OrderBy("sources.display_order", "sources.id")

	sql, args := sb.Build()
	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	sources := []models.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func scanSource(rows *sql.Rows) (models.Source, error) {
	var (
		src       models.Source
		kind      string
		locator   sql.NullString
		config    sql.NullString
		owner     sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := rows.Scan(
		&src.Id,
		&src.Slug,
		&src.Title,
		&kind,
		&locator,
		&config,
		&src.Enabled,
		&src.DisplayOrder,
		&owner,
		&createdAt,
		&updatedAt,
	); err != nil {
		return src, err
	}

	src.Kind = models.SourceKind(kind)
	src.Locator = locator.String
	src.Owner = owner.String
	src.CreatedAt = time.Unix(createdAt, 0).UTC()
	src.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if config.Valid && config.String != "" {
		// An undecodable config is logged and left nil
		var sc models.ScrapeConfig
		if err := json.Unmarshal([]byte(config.String), &sc); err != nil {
			log.WithFields(log.Fields{
				"source_id": src.Id,
				"slug":      src.Slug,
				"error":     err,
			}).Warn("Ignoring invalid scrape config")
			return src, nil
		}
		src.ScrapeConfig = &sc
	}
	return src, nil
}

func encodeScrapeConfig(config *models.ScrapeConfig) (sql.NullString, error) {
	if config == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode scrape config: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// IsNotFound reports whether err means the source does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSourceNotFound)
}
