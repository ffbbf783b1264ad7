package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"rssagg/feeds"
	"rssagg/models"
)

var (
	ErrMissingScrapeConfig = errors.New("scraped source has no scrape config")
	ErrSourceDisabled      = errors.New("source is disabled")
)

// Trigger labels what started a sweep
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerOwner     Trigger = "owner"
	TriggerTargeted  Trigger = "targeted"
	TriggerSelfHeal  Trigger = "self-heal"
)

// SourceStore selects the sources a sweep works on
type SourceStore interface {
	GetSource(ctx context.Context, id int64) (models.Source, error)
	ListEnabledSources(ctx context.Context) ([]models.Source, error)
	ListOwnerSources(ctx context.Context, owner string) ([]models.Source, error)
	ListSourcesByIds(ctx context.Context, ids []int64) ([]models.Source, error)
}

// FeedFetcher produces raw items for syndication and video sources
type FeedFetcher interface {
	Fetch(ctx context.Context, src models.Source) (*feeds.Result, error)
}

// PageScraper produces raw items for scraped sources
type PageScraper interface {
	Scrape(ctx context.Context, config models.ScrapeConfig) ([]models.RawItem, error)
}

type OrchestratorConfig struct {
	Sources SourceStore
	Posts   PostStore
	Feeds   FeedFetcher
	Scraper PageScraper
	// Base is the parent context of queued sweeps. Defaults to context.Background.
	Base context.Context
}

// Orchestrator refreshes sources one at a time and folds the per-source
// outcomes into a batch result. A failing source never aborts the batch.
type Orchestrator struct {
	sources SourceStore
	deduper *Deduper
	feeds   FeedFetcher
	scraper PageScraper
	base    context.Context
	group   singleflight.Group
}

func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	base := config.Base
	if base == nil {
		base = context.Background()
	}
	return &Orchestrator{
		sources: config.Sources,
		deduper: NewDeduper(config.Posts),
		feeds:   config.Feeds,
		scraper: config.Scraper,
		base:    base,
	}
}

// RunScheduledSweep refreshes every enabled source
func (o *Orchestrator) RunScheduledSweep(ctx context.Context) (models.BatchResult, error) {
	return o.sweep(ctx, TriggerScheduled, func(ctx context.Context) ([]models.Source, error) {
		return o.sources.ListEnabledSources(ctx)
	})
}

// RunOwnerSweep refreshes the shared and owned sources visible to owner
func (o *Orchestrator) RunOwnerSweep(ctx context.Context, owner string) (models.BatchResult, error) {
	return o.sweep(ctx, TriggerOwner, func(ctx context.Context) ([]models.Source, error) {
		return o.sources.ListOwnerSources(ctx, owner)
	})
}

// RunTargetedSweep refreshes the enabled sources among ids
func (o *Orchestrator) RunTargetedSweep(ctx context.Context, ids []int64) (models.BatchResult, error) {
	return o.sweep(ctx, TriggerTargeted, func(ctx context.Context) ([]models.Source, error) {
		return o.sources.ListSourcesByIds(ctx, ids)
	})
}

// RefreshSource refreshes one source synchronously. Concurrent calls for the
// same id share a single run.
func (o *Orchestrator) RefreshSource(ctx context.Context, id int64) (models.Outcome, error) {
	v, err, _ := o.group.Do("source:"+strconv.FormatInt(id, 10), func() (interface{}, error) {
		src, err := o.sources.GetSource(ctx, id)
		if err != nil {
			return models.Outcome{}, fmt.Errorf("load source %d: %w", id, err)
		}
		if !src.Enabled {
			return models.Outcome{}, fmt.Errorf("refresh source %d: %w", id, ErrSourceDisabled)
		}
		start := time.Now()
		outcome := o.refresh(ctx, src)
		sweepDuration.WithLabelValues(string(TriggerSelfHeal)).Observe(time.Since(start).Seconds())
		return outcome, nil
	})
	if err != nil {
		return models.Outcome{}, err
	}
	return v.(models.Outcome), nil
}

// QueueScheduledSweep starts a scheduled sweep in the background unless one
// is already running. The returned channel delivers the result.
func (o *Orchestrator) QueueScheduledSweep() <-chan singleflight.Result {
	return o.queue(string(TriggerScheduled), func(ctx context.Context) (models.BatchResult, error) {
		return o.RunScheduledSweep(ctx)
	})
}

func (o *Orchestrator) QueueOwnerSweep(owner string) <-chan singleflight.Result {
	return o.queue(string(TriggerOwner)+":"+owner, func(ctx context.Context) (models.BatchResult, error) {
		return o.RunOwnerSweep(ctx, owner)
	})
}

func (o *Orchestrator) QueueTargetedSweep(ids []int64) <-chan singleflight.Result {
	key := slices.Clone(ids)
	slices.Sort(key)
	key = slices.Compact(key)
	parts := lo.Map(key, func(id int64, _ int) string { return strconv.FormatInt(id, 10) })

	return o.queue(string(TriggerTargeted)+":"+strings.Join(parts, ","), func(ctx context.Context) (models.BatchResult, error) {
		return o.RunTargetedSweep(ctx, key)
	})
}

func (o *Orchestrator) queue(key string, run func(ctx context.Context) (models.BatchResult, error)) <-chan singleflight.Result {
	return o.group.DoChan(key, func() (interface{}, error) {
		result, err := run(o.base)
		if err != nil {
			log.WithFields(log.Fields{
				"sweep": key,
				"error": err,
			}).Error("Queued sweep failed")
		}
		return result, err
	})
}

func (o *Orchestrator) sweep(ctx context.Context, trigger Trigger, selectSources func(context.Context) ([]models.Source, error)) (models.BatchResult, error) {
	start := time.Now()
	defer func() {
		sweepDuration.WithLabelValues(string(trigger)).Observe(time.Since(start).Seconds())
	}()

	sources, err := selectSources(ctx)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("select sources: %w", err)
	}

	outcomes := make([]models.Outcome, 0, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			log.WithFields(log.Fields{
				"trigger":   trigger,
				"remaining": len(sources) - len(outcomes),
			}).Warn("Sweep cancelled")
			break
		}
		outcomes = append(outcomes, o.refresh(ctx, src))
	}

	result := Aggregate(outcomes)
	log.WithFields(log.Fields{
		"trigger":   trigger,
		"attempted": result.SourcesAttempted,
		"succeeded": result.SourcesSucceeded,
		"upserted":  result.ItemsUpserted,
		"duration":  time.Since(start),
	}).Info("Sweep finished")
	return result, nil
}

// refresh runs one source through fetch or scrape and the deduper
func (o *Orchestrator) refresh(ctx context.Context, src models.Source) models.Outcome {
	items, err := o.collect(ctx, src)
	if err != nil {
		return o.skip(src, 0, err)
	}

	written, err := o.deduper.Ingest(ctx, src, items)
	if err != nil {
		return o.skip(src, written, err)
	}

	sourcesRefreshed.WithLabelValues(string(src.Kind), string(models.OutcomeSuccess), "").Inc()
	log.WithFields(log.Fields{
		"source_id": src.Id,
		"slug":      src.Slug,
		"items":     written,
	}).Info("Refreshed source")
	return models.Outcome{SourceId: src.Id, Slug: src.Slug, Status: models.OutcomeSuccess, ItemCount: written}
}

func (o *Orchestrator) collect(ctx context.Context, src models.Source) ([]models.RawItem, error) {
	switch src.Kind {
	case models.KindScraped:
		if src.ScrapeConfig == nil {
			return nil, models.Fail(models.FailureScrape, src.Locator, ErrMissingScrapeConfig)
		}
		return o.scraper.Scrape(ctx, *src.ScrapeConfig)
	case models.KindSyndication, models.KindVideo:
		result, err := o.feeds.Fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		return result.Items, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidSource, src.Kind)
	}
}

func (o *Orchestrator) skip(src models.Source, written int, err error) models.Outcome {
	kind := models.KindOf(err)
	sourcesRefreshed.WithLabelValues(string(src.Kind), string(models.OutcomeSkipped), string(kind)).Inc()
	log.WithFields(log.Fields{
		"source_id": src.Id,
		"slug":      src.Slug,
		"kind":      src.Kind,
		"failure":   kind,
		"written":   written,
		"error":     err,
	}).Warn("Skipping source for this batch")
	return models.Outcome{SourceId: src.Id, Slug: src.Slug, Status: models.OutcomeSkipped, ItemCount: written, Reason: err}
}

// Aggregate folds per-source outcomes into batch counts
func Aggregate(outcomes []models.Outcome) models.BatchResult {
	return models.BatchResult{
		SourcesAttempted: len(outcomes),
		SourcesSucceeded: lo.CountBy(outcomes, func(o models.Outcome) bool { return o.Succeeded() }),
		ItemsUpserted:    lo.SumBy(outcomes, func(o models.Outcome) int { return o.ItemCount }),
		Outcomes:         outcomes,
	}
}
