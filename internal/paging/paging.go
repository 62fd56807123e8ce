// Package paging holds the page/limit/sort contract shared by every listing
// endpoint: parameter defaults, offset and range math, and page counts.
package paging

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrInvalidPage  = errors.New("invalid page")
	ErrInvalidLimit = errors.New("invalid limit")
	ErrInvalidSort  = errors.New("invalid sort")
)

// Defaults configures a listing resource.
type Defaults struct {
	Limit    int
	MaxLimit int
}

// Params is a validated page request. Page is 1-based.
type Params struct {
	Page  int
	Limit int
}

// Parse coerces raw query values into Params. Empty values take the
// defaults; limits above MaxLimit are clamped.
func Parse(rawPage, rawLimit string, d Defaults) (Params, error) {
	p := Params{Page: 1, Limit: d.Limit}

	if raw := strings.TrimSpace(rawPage); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPage, raw)
		}
		p.Page = page
	}

	if raw := strings.TrimSpace(rawLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
		}
		p.Limit = limit
	}

	if d.MaxLimit > 0 && p.Limit > d.MaxLimit {
		p.Limit = d.MaxLimit
	}
	// The offset of the last page must fit in an int.
	if p.Page-1 > math.MaxInt/p.Limit {
		return Params{}, fmt.Errorf("%w: %d is out of range", ErrInvalidPage, p.Page)
	}
	return p, nil
}

// Offset is the number of rows skipped before this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Range returns the inclusive row window [from, to] of this page.
func (p Params) Range() (from, to int) {
	from = p.Offset()
	return from, from + p.Limit - 1
}

// PageCount returns ceil(total/limit).
func PageCount(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Sort is a parsed "field:direction" expression.
type Sort struct {
	Field string
	Desc  bool
}

// String renders the sort back into its wire form.
func (s Sort) String() string {
	if s.Desc {
		return s.Field + ":desc"
	}
	return s.Field + ":asc"
}

// ParseSort parses "field:direction". A missing or unrecognised direction
// means descending. An empty expression yields def. Fields outside allowed
// are rejected because they end up in ORDER BY clauses.
func ParseSort(raw string, allowed []string, def Sort) (Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}

	field, dir, _ := strings.Cut(raw, ":")
	field = strings.TrimSpace(field)
	if field == "" {
		field = def.Field
	}

	if !slices.Contains(allowed, field) {
		return Sort{}, fmt.Errorf("%w: unknown field %q", ErrInvalidSort, field)
	}

	return Sort{
		Field: field,
		Desc:  !strings.EqualFold(strings.TrimSpace(dir), "asc"),
	}, nil
}
