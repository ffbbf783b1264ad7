package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"rssagg/models"
	"rssagg/query"
)

var postColumns = []string{
	"posts.id",
	"posts.source_id",
	"posts.owner",
	"posts.title",
	"posts.link",
	"posts.summary",
	"posts.content",
	"posts.source_label",
	"posts.published_at",
	"posts.media_thumbnail",
	"posts.media_views",
	"posts.media_kind",
	"posts.created_at",
	"posts.updated_at",
}

// UpsertPost inserts a post or refreshes the mutable fields of the existing
// row with the same (source_id, link). Id and created_at are preserved.
func (db *DB) UpsertPost(ctx context.Context, post models.Post) (models.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := db.now().UTC().Truncate(time.Second)

	var (
		thumbnail sql.NullString
		views     sql.NullInt64
		mediaKind sql.NullString
	)
	if post.Media != nil {
		thumbnail = nullString(post.Media.Thumbnail)
		views = sql.NullInt64{Int64: post.Media.Views, Valid: post.Media.Views > 0}
		mediaKind = nullString(post.Media.Kind)
	}

	stmt, args := sqlbuilder.Build(`
		INSERT INTO posts (source_id, owner, title, link, summary, content, source_label, published_at,
			media_thumbnail, media_views, media_kind, created_at, updated_at)
		VALUES ($?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?)
		ON CONFLICT (source_id, link) DO UPDATE SET
			owner = excluded.owner,
			title = excluded.title,
			summary = excluded.summary,
			content = excluded.content,
			source_label = excluded.source_label,
			published_at = excluded.published_at,
			media_thumbnail = excluded.media_thumbnail,
			media_views = excluded.media_views,
			media_kind = excluded.media_kind,
			updated_at = excluded.updated_at
		RETURNING id, created_at`,
		post.SourceId,
		nullString(post.Owner),
		post.Title,
		post.Link,
		post.Summary,
		post.Content,
		post.SourceLabel,
		post.PublishedAt.Unix(),
		thumbnail,
		views,
		mediaKind,
		now.Unix(),
		now.Unix(),
	).BuildWithFlavor(db.flavor)

	var createdAt int64
	if err := db.db.QueryRowContext(ctx, stmt, args...).Scan(&post.Id, &createdAt); err != nil {
		return post, fmt.Errorf("upsert error: %w", err)
	}
	post.CreatedAt = time.Unix(createdAt, 0).UTC()
	post.UpdatedAt = now

	log.WithFields(log.Fields{
		"post_id":   post.Id,
		"source_id": post.SourceId,
		"link":      post.Link,
	}).Debug("Upserted post")
	return post, nil
}

// ListPosts returns posts matching all filters, newest first
func (db *DB) ListPosts(ctx context.Context, page query.Page, filters ...query.FilterStrategy) ([]models.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.flavor.NewSelectBuilder()
	sb.Select(postColumns...).From("posts")
	for _, filter := range filters {
		filter.ApplyFilter(sb)
	}
	sb.OrderBy("posts.published_at DESC", "posts.id DESC")
	if page.Limit > 0 {
		sb.Limit(page.Limit)
	}
	if page.Offset > 0 {
		sb.Offset(page.Offset)
	}

	sql, args := sb.Build()
	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Debug("Listing posts")

	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CountPosts counts posts matching all filters
func (db *DB) CountPosts(ctx context.Context, filters ...query.FilterStrategy) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From("posts")
	for _, filter := range filters {
		filter.ApplyFilter(sb)
	}

	sql, args := sb.Build()
	var count int
	if err := db.db.QueryRowContext(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("query error: %w", err)
	}
	return count, nil
}

func scanPost(rows *sql.Rows) (models.Post, error) {
	var (
		post        models.Post
		owner       sql.NullString
		publishedAt int64
		thumbnail   sql.NullString
		views       sql.NullInt64
		mediaKind   sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	if err := rows.Scan(
		&post.Id,
		&post.SourceId,
		&owner,
		&post.Title,
		&post.Link,
		&post.Summary,
		&post.Content,
		&post.SourceLabel,
		&publishedAt,
		&thumbnail,
		&views,
		&mediaKind,
		&createdAt,
		&updatedAt,
	); err != nil {
		return post, err
	}

	post.Owner = owner.String
	post.PublishedAt = time.Unix(publishedAt, 0).UTC()
	post.CreatedAt = time.Unix(createdAt, 0).UTC()
	post.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if thumbnail.Valid || views.Valid || mediaKind.Valid {
		post.Media = &models.Media{
			Thumbnail: thumbnail.String,
			Views:     views.Int64,
			Kind:      mediaKind.String,
		}
	}
	return post, nil
}
