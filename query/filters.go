package query

import (
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
)

// EnabledFilter keeps enabled sources only
type EnabledFilter struct{}

func (f *EnabledFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Equal("sources.enabled", true))
}

// AccessibleFilter keeps shared sources plus the ones owned by Owner.
// An empty owner sees shared sources only.
type AccessibleFilter struct {
	Owner string
}

func (f *AccessibleFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if f.Owner == "" {
		sb.Where(sb.IsNull("sources.owner"))
		return
	}
	sb.Where(sb.Or(sb.IsNull("sources.owner"), sb.Equal("sources.owner", f.Owner)))
}

// SharedFilter keeps sources without an owner
type SharedFilter struct{}

func (f *SharedFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.IsNull("sources.owner"))
}

// SlugFilter matches a source slug exactly
type SlugFilter struct {
	Slug string
}

func (f *SlugFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Equal("sources.slug", f.Slug))
}

// IdsFilter restricts a column to a set of ids. An empty set matches nothing.
type IdsFilter struct {
	Column string
	Ids    []int64
}

func (f *IdsFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if len(f.Ids) == 0 {
		sb.Where("1 = 0")
		return
	}
	sb.Where(sb.In(f.Column, lo.ToAnySlice(lo.Uniq(f.Ids))...))
}

// SearchFilter does a case-insensitive substring match on post title and summary
type SearchFilter struct {
	Term string
}

func (f *SearchFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	term := strings.ToLower(strings.TrimSpace(f.Term))
	if term == "" {
		return
	}
	pattern := "%" + escapeLike(term) + "%"
	sb.Where(sb.Or(
		"LOWER(posts.title) LIKE "+sb.Args.Add(pattern)+" ESCAPE '\\'",
		"LOWER(posts.summary) LIKE "+sb.Args.Add(pattern)+" ESCAPE '\\'",
	))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var (
	_ FilterStrategy = (*EnabledFilter)(nil)
	_ FilterStrategy = (*AccessibleFilter)(nil)
	_ FilterStrategy = (*SharedFilter)(nil)
	_ FilterStrategy = (*SlugFilter)(nil)
	_ FilterStrategy = (*IdsFilter)(nil)
	_ FilterStrategy = (*SearchFilter)(nil)
)
