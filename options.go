package apikit

// ContextOptions tunes a single DataContext call.
// The zero value applies the query provider and the default order and AND-s predicates.
type ContextOptions struct {
	SkipQueryProvider bool
	SkipOrder         bool
	AllExist          bool
	MatchAny          bool
	Upsert            bool

	// Track is accepted for parity with change-tracking ORMs; bun keeps no tracked state.
	Track bool
}

// ContextOption configures ContextOptions.
type ContextOption func(*ContextOptions)

// SkipQueryProvider reads without the resource query provider scope.
func SkipQueryProvider() ContextOption {
	return func(o *ContextOptions) { o.SkipQueryProvider = true }
}

// SkipOrder reads without the default ordering.
func SkipOrder() ContextOption {
	return func(o *ContextOptions) { o.SkipOrder = true }
}

// AllExist requires every key passed to ExistsIDs to exist.
func AllExist() ContextOption {
	return func(o *ContextOptions) { o.AllExist = true }
}

// MatchAny OR-s predicates instead of AND-ing them.
func MatchAny() ContextOption {
	return func(o *ContextOptions) { o.MatchAny = true }
}

// Upsert turns inserts into INSERT ... ON CONFLICT DO UPDATE.
func Upsert() ContextOption {
	return func(o *ContextOptions) { o.Upsert = true }
}

// Track marks the read as tracked.
func Track() ContextOption {
	return func(o *ContextOptions) { o.Track = true }
}

func newContextOptions(opts []ContextOption) ContextOptions {
	var o ContextOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReadOptions tunes a Service read.
type ReadOptions struct {
	// Includes lists bun relations to load with the entity.
	Includes []string

	SkipFilter bool
	SkipSort   bool
	Sort       []SortField
	Page       PageRequest

	DisableDashedProperty   bool
	EnablePropertyNesting   bool
	MaxPropertyNestingLevel int

	Context []ContextOption
}

// DefaultMaxNestingLevel bounds dotted field paths.
const DefaultMaxNestingLevel = 2

func (o ReadOptions) fieldOptions() FieldOptions {
	max := o.MaxPropertyNestingLevel
	if max <= 0 {
		max = DefaultMaxNestingLevel
	}
	return FieldOptions{
		DisableDashed: o.DisableDashedProperty,
		EnableNesting: o.EnablePropertyNesting,
		MaxNesting:    max,
	}
}

func (o ReadOptions) page(cfg PagingConfig) PageRequest {
	if o.Page == (PageRequest{}) {
		return cfg.DefaultRequest()
	}
	return cfg.Normalize(o.Page)
}

// NewReadOptions returns ReadOptions with the default nesting level.
//
// Example:
//
//	opts := apikit.NewReadOptions().
//	    WithIncludes("Owner").
//	    WithSort(apikit.ParseSort([]string{"-creation-time"})...).
//	    WithPage(apikit.PageRequest{Page: 2, Limit: 20})
func NewReadOptions() ReadOptions {
	return ReadOptions{MaxPropertyNestingLevel: DefaultMaxNestingLevel}
}

// WithIncludes adds relations to load.
func (o ReadOptions) WithIncludes(relations ...string) ReadOptions {
	o.Includes = append(append([]string(nil), o.Includes...), relations...)
	return o
}

// WithSort replaces the sort order.
func (o ReadOptions) WithSort(fields ...SortField) ReadOptions {
	o.Sort = fields
	return o
}

// WithPage sets the page to read.
func (o ReadOptions) WithPage(req PageRequest) ReadOptions {
	o.Page = req
	return o
}

// WithoutFilter skips the service filter.
func (o ReadOptions) WithoutFilter() ReadOptions {
	o.SkipFilter = true
	return o
}

// WithoutSort ignores any sort order.
func (o ReadOptions) WithoutSort() ReadOptions {
	o.SkipSort = true
	return o
}

// WithNesting enables dotted field paths up to max segments.
func (o ReadOptions) WithNesting(max int) ReadOptions {
	o.EnablePropertyNesting = true
	o.MaxPropertyNestingLevel = max
	return o
}

// WithContext appends DataContext options to every query of the read.
func (o ReadOptions) WithContext(opts ...ContextOption) ReadOptions {
	o.Context = append(append([]ContextOption(nil), o.Context...), opts...)
	return o
}
