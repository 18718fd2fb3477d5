package apikit

import (
	"context"
	"math"
	"net/url"
	"strconv"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

const (
	// DefaultPageLimit is the number of items per page when the request sets none.
	DefaultPageLimit = 100

	// DefaultMaxPageLimit caps the page size. Out-of-range limits fall back to it.
	DefaultMaxPageLimit = 1000
)

// PagingConfig holds pagination configuration options.
//
// Example:
//
//	cfg := apikit.NewPagingConfig().WithMaxLimit(500)
//	req := apikit.ParsePageRequest(r.URL.Query(), cfg)
type PagingConfig struct {
	// DefaultLimit is the page size used when the request does not carry one.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit is the largest page size served. Invalid limits are replaced by it.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`
}

// NewPagingConfig creates a PagingConfig with the default limits.
func NewPagingConfig() PagingConfig {
	return PagingConfig{
		DefaultLimit: DefaultPageLimit,
		MaxLimit:     DefaultMaxPageLimit,
	}
}

// WithDefaultLimit sets the default page size.
func (c PagingConfig) WithDefaultLimit(limit int) PagingConfig {
	if limit > 0 {
		c.DefaultLimit = limit
	}
	return c
}

// WithMaxLimit sets the maximum page size.
func (c PagingConfig) WithMaxLimit(limit int) PagingConfig {
	if limit > 0 {
		c.MaxLimit = limit
	}
	return c
}

func (c PagingConfig) maxLimit() int {
	if c.MaxLimit <= 0 {
		return DefaultMaxPageLimit
	}
	return c.MaxLimit
}

func (c PagingConfig) defaultLimit() int {
	if c.DefaultLimit <= 0 {
		return DefaultPageLimit
	}
	return c.DefaultLimit
}

// EffectiveLimit returns the page size to use for a requested limit.
// Limits that are zero, negative or above MaxLimit become MaxLimit.
func (c PagingConfig) EffectiveLimit(limit int) int {
	if limit <= 0 || limit > c.maxLimit() {
		return c.maxLimit()
	}
	return limit
}

// DefaultRequest returns the first page with the default limit, counting the total.
func (c PagingConfig) DefaultRequest() PageRequest {
	return PageRequest{Page: 1, Limit: c.defaultLimit(), CountTotal: true}
}

// Normalize clamps a page request to the configured bounds.
// Pages past math.MaxInt/Limit are clamped so Skip cannot overflow.
func (c PagingConfig) Normalize(req PageRequest) PageRequest {
	req.Limit = c.EffectiveLimit(req.Limit)
	if req.Page <= 0 {
		req.Page = 1
	}
	if last := math.MaxInt / req.Limit; req.Page > last {
		req.Page = last
	}
	return req
}

// PageRequest selects one page of a collection.
type PageRequest struct {
	Page       int
	Limit      int
	CountTotal bool
}

// Skip returns the number of rows before the page, saturating at math.MaxInt.
func (r PageRequest) Skip() int {
	if r.Page <= 1 || r.Limit <= 0 {
		return 0
	}
	if r.Page-1 > math.MaxInt/r.Limit {
		return math.MaxInt
	}
	return (r.Page - 1) * r.Limit
}

// ParsePageRequest reads page, limit and total from a query string.
// The last occurrence of each parameter wins.
//
// Unparsable values behave like zero: the limit falls back to the maximum and
// the page to 1. total defaults to true and an unparsable total means false.
func ParsePageRequest(values url.Values, cfg PagingConfig) PageRequest {
	req := cfg.DefaultRequest()

	if v, ok := lastValue(values, "limit"); ok {
		n, _ := strconv.Atoi(v)
		req.Limit = n
	}
	if v, ok := lastValue(values, "page"); ok {
		n, _ := strconv.Atoi(v)
		req.Page = n
	}
	if v, ok := lastValue(values, "total"); ok {
		b, _ := strconv.ParseBool(v)
		req.CountTotal = b
	}

	return cfg.Normalize(req)
}

func lastValue(values url.Values, key string) (string, bool) {
	vs := values[key]
	if len(vs) == 0 {
		return "", false
	}
	return vs[len(vs)-1], true
}

// Page is one page of a collection.
type Page[T any] struct {
	Data        []T `json:"data"`
	Size        int `json:"size"`
	CurrentSize int `json:"currentSize"`
	Page        int `json:"page"`
	PerPage     int `json:"perPage"`
}

// Empty reports whether the page holds no items.
func (p *Page[T]) Empty() bool {
	return p == nil || len(p.Data) == 0
}

// MapPage converts every item of a page, keeping its counters.
func MapPage[T, U any](p *Page[T], fn func(T) (U, error)) (*Page[U], error) {
	out := &Page[U]{
		Data:        make([]U, 0, len(p.Data)),
		Size:        p.Size,
		CurrentSize: p.CurrentSize,
		Page:        p.Page,
		PerPage:     p.PerPage,
	}
	for _, item := range p.Data {
		u, err := fn(item)
		if err != nil {
			return nil, err
		}
		out.Data = append(out.Data, u)
	}
	return out, nil
}

// Paginate runs q for one page. The query's model must be dest.
//
// Example:
//
//	var notes []*Note
//	q := db.NewSelect().Model(&notes).Where("archived = false")
//	page, err := apikit.Paginate(ctx, q, &notes, req)
func Paginate[T any](ctx context.Context, q *bun.SelectQuery, dest *[]T, req PageRequest) (*Page[T], error) {
	q = q.Limit(req.Limit).Offset(req.Skip())

	var total int
	var err error
	if req.CountTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err := dbkit.WithErr1(err, "Paginate").Err(); err != nil && !dbkit.IsNotFound(err) {
		return nil, err
	}

	items := *dest
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Data:        items,
		Size:        total,
		CurrentSize: len(items),
		Page:        req.Page,
		PerPage:     req.Limit,
	}, nil
}

// PageSlice pages an in-memory slice.
func PageSlice[T any](items []T, req PageRequest) *Page[T] {
	start := min(req.Skip(), len(items))
	end := start + min(max(req.Limit, 0), len(items)-start)
	data := items[start:end]
	size := 0
	if req.CountTotal {
		size = len(items)
	}
	return &Page[T]{
		Data:        data,
		Size:        size,
		CurrentSize: len(data),
		Page:        req.Page,
		PerPage:     req.Limit,
	}
}
