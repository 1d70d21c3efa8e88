package domain

import "time"

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ListFilter narrows audit queries. Zero values mean "no constraint".
type ListFilter struct {
	From       time.Time
	To         time.Time
	UserID     string
	Status     string
	EventType  string
	Severity   string
	EntityType string
	EntityID   string
	Page       int
	PerPage    int
}

// Normalize clamps pagination to sane bounds.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
}

// Offset is the row offset of the current page.
func (f ListFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}

// Page is one page of query results.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
}
