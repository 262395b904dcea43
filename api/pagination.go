package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads "limit" and "offset". Missing, invalid or
// non-positive values fall back to the defaults; limit is capped.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = positiveInt(q.Get("limit"), defaultPageLimit)
	offset = positiveInt(q.Get("offset"), 0)
	return min(limit, maxPageLimit), offset
}

func positiveInt(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

// page cuts the requested window out of items. The result is never nil so
// that it encodes as an empty JSON array.
func page[T any](r *http.Request, items []T) ([]T, PaginationMeta) {
	limit, offset := parsePagination(r)
	total := len(items)
	start := min(offset, total)
	end := min(start+limit, total)
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out, PaginationMeta{
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < total,
	}
}
