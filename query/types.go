package query

import (
	"github.com/huandu/go-sqlbuilder"
)

// FilterStrategy adds WHERE conditions to the query
type FilterStrategy interface {
	// ApplyFilter adds filter conditions to the query builder
	ApplyFilter(sb *sqlbuilder.SelectBuilder)
}

// Page bounds a listing
type Page struct {
	Limit  int
	Offset int
}
