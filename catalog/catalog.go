package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"rssagg/db"
	"rssagg/models"
	"rssagg/query"
	"rssagg/quota"
)

const (
	DefaultLimit = 20
	MaxLimit     = 50
)

var ErrUnknownScope = errors.New("unknown source")

// Store is the read side of the database
type Store interface {
	ListSources(ctx context.Context, filters ...query.FilterStrategy) ([]models.Source, error)
	FindSource(ctx context.Context, owner, slug string) (models.Source, error)
	ListPosts(ctx context.Context, page query.Page, filters ...query.FilterStrategy) ([]models.Post, error)
	CountPosts(ctx context.Context, filters ...query.FilterStrategy) (int, error)
}

// Refresher refreshes a single source synchronously
type Refresher interface {
	RefreshSource(ctx context.Context, id int64) (models.Outcome, error)
}

// ListRequest asks for one page of posts. An empty Owner is a guest, whose
// read must carry the quota result in Guest.
type ListRequest struct {
	Owner  string
	Scope  string
	Search string
	Page   int
	Limit  int
	Guest  *quota.Result
}

// Preview describes how much of the catalogue a guest gets to see
type Preview struct {
	Scope     string `json:"feed"`
	Max       int    `json:"max"`
	Available int    `json:"available"`
	Remaining int    `json:"remaining"`
}

type ListResponse struct {
	Posts     []models.Post `json:"posts"`
	Page      int           `json:"page"`
	Total     int           `json:"total"`
	Remaining *int          `json:"remaining"`
	Limit     *int          `json:"limit"`
	Preview   *Preview      `json:"guestPreview"`
}

// Service answers post listings
type Service struct {
	store     Store
	refresher Refresher
}

func New(store Store, refresher Refresher) *Service {
	return &Service{store: store, refresher: refresher}
}

// List returns a page of posts in the requested scope. A single-source scope
// with nothing stored yet is refreshed once before answering.
func (s *Service) List(ctx context.Context, req ListRequest) (ListResponse, error) {
	req = normalize(req)

	sourceIds, single, err := s.resolveScope(ctx, req.Owner, req.Scope)
	if err != nil {
		return ListResponse{}, err
	}

	filters := []query.FilterStrategy{
		&query.IdsFilter{Column: "posts.source_id", Ids: sourceIds},
		&query.SearchFilter{Term: req.Search},
	}

	limit := req.Limit
	if req.Guest != nil {
		req.Page = 1
		limit = req.Guest.Reveal(req.Limit)
	}
	page := query.Page{Limit: limit, Offset: (req.Page - 1) * limit}

	posts, total, err := s.fetch(ctx, page, filters)
	if err != nil {
		return ListResponse{}, err
	}

	if single != nil && total == 0 && req.Page == 1 && req.Search == "" && s.refresher != nil {
		posts, total = s.selfHeal(ctx, *single, page, filters, posts, total)
	}

	resp := ListResponse{Posts: posts, Page: req.Page, Total: total}
	if req.Guest != nil {
		previewMax := req.Guest.LimitScope
		resp.Total = min(total, previewMax)
		resp.Remaining = lo.ToPtr(req.Guest.RemainingScope)
		resp.Limit = lo.ToPtr(req.Guest.LimitScope)
		resp.Preview = &Preview{
			Scope:     req.Scope,
			Max:       previewMax,
			Available: total,
			Remaining: max(total-previewMax, 0),
		}
	}
	return resp, nil
}

// CheckScope fails with ErrUnknownScope when owner cannot read scope
func (s *Service) CheckScope(ctx context.Context, owner, scope string) error {
	_, _, err := s.resolveScope(ctx, owner, NormalizeScope(scope))
	return err
}

// PublicSources lists the enabled shared sources
func (s *Service) PublicSources(ctx context.Context) ([]models.Source, error) {
	return s.store.ListSources(ctx, &query.EnabledFilter{}, &query.SharedFilter{})
}

func (s *Service) fetch(ctx context.Context, page query.Page, filters []query.FilterStrategy) ([]models.Post, int, error) {
	total, err := s.store.CountPosts(ctx, filters...)
	if err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}
	if page.Limit == 0 {
		return []models.Post{}, total, nil
	}
	posts, err := s.store.ListPosts(ctx, page, filters...)
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	return posts, total, nil
}

func (s *Service) selfHeal(ctx context.Context, src models.Source, page query.Page, filters []query.FilterStrategy, posts []models.Post, total int) ([]models.Post, int) {
	outcome, err := s.refresher.RefreshSource(ctx, src.Id)
	if err == nil && !outcome.Succeeded() {
		err = outcome.Reason
	}
	if err != nil {
		log.WithFields(log.Fields{
			"source_id": src.Id,
			"slug":      src.Slug,
			"error":     err,
		}).Warn("Self-heal refresh failed")
		return posts, total
	}

	retried, retriedTotal, err := s.fetch(ctx, page, filters)
	if err != nil {
		log.WithFields(log.Fields{
			"source_id": src.Id,
			"error":     err,
		}).Warn("Read after self-heal failed")
		return posts, total
	}
	return retried, retriedTotal
}

// resolveScope maps a scope onto source ids. The returned source is set when
// the scope names a single source.
func (s *Service) resolveScope(ctx context.Context, owner, scope string) ([]int64, *models.Source, error) {
	switch scope {
	case quota.ScopeGlobal:
		sources, err := s.store.ListSources(ctx, &query.EnabledFilter{}, &query.SharedFilter{})
		if err != nil {
			return nil, nil, fmt.Errorf("list sources: %w", err)
		}
		return ids(sources), nil, nil
	case quota.ScopeAllSources:
		sources, err := s.store.ListSources(ctx, &query.EnabledFilter{}, &query.AccessibleFilter{Owner: owner})
		if err != nil {
			return nil, nil, fmt.Errorf("list sources: %w", err)
		}
		return ids(sources), nil, nil
	}

	src, err := s.store.FindSource(ctx, owner, scope)
	if db.IsNotFound(err) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find source: %w", err)
	}
	return []int64{src.Id}, &src, nil
}

// NormalizeScope maps an empty or shorthand scope onto all-sources
func NormalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" || scope == "all" {
		return quota.ScopeAllSources
	}
	return scope
}

func normalize(req ListRequest) ListRequest {
	req.Scope = NormalizeScope(req.Scope)
	req.Search = strings.TrimSpace(req.Search)
	req.Page = max(req.Page, 1)
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	req.Limit = min(req.Limit, MaxLimit)
	return req
}

func ids(sources []models.Source) []int64 {
	return lo.Map(sources, func(src models.Source, _ int) int64 { return src.Id })
}
