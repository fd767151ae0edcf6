package shared

import "math"

const (
	defaultPerPage = 20
	maxPerPage     = 100
	// MaxPage bounds the requested page so the row offset stays small.
	MaxPage = 100_000
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	req := PageRequest{Page: page, PerPage: perPage}.Normalize()
	totalPages := int(math.Ceil(float64(total) / float64(req.PerPage)))
	return Pagination{Page: req.Page, PerPage: req.PerPage, Total: total, TotalPages: totalPages}
}

// PageRequest is a requested page of a listing.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize applies defaults and caps the page and page size.
func (p PageRequest) Normalize() PageRequest {
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	return p
}

// Offset returns the row offset of the page.
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PerPage
}

// Limit returns the page size.
func (p PageRequest) Limit() int {
	return p.Normalize().PerPage
}
