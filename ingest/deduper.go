package ingest

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"rssagg/models"
)

// PostStore writes posts keyed by (source_id, link)
type PostStore interface {
	UpsertPost(ctx context.Context, post models.Post) (models.Post, error)
}

// Deduper normalizes raw items and upserts the ones worth keeping
type Deduper struct {
	store PostStore
	now   func() time.Time
}

func NewDeduper(store PostStore) *Deduper {
	return &Deduper{store: store, now: time.Now}
}

// Ingest upserts every kept item of src and returns how many were written.
// The first storage error stops the source and comes back as an upsert failure
// alongside the count written so far.
func (d *Deduper) Ingest(ctx context.Context, src models.Source, items []models.RawItem) (int, error) {
	now := d.now()
	written := 0

	for _, raw := range items {
		post, reason := Normalize(src, raw, now)
		if reason != Kept {
			postsDropped.WithLabelValues(string(reason)).Inc()
			log.WithFields(log.Fields{
				"source_id": src.Id,
				"reason":    reason,
				"link":      raw.Link,
			}).Debug("Dropped item")
			continue
		}

		if _, err := d.store.UpsertPost(ctx, post); err != nil {
			itemsUpserted.WithLabelValues(string(src.Kind)).Add(float64(written))
			return written, models.Fail(models.FailureUpsert, post.Link, err)
		}
		written++
	}

	itemsUpserted.WithLabelValues(string(src.Kind)).Add(float64(written))
	return written, nil
}
