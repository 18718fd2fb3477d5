package apikit

import (
	"context"
	"sort"
	"strings"

	"github.com/uptrace/bun"
)

// ResourceQueryProvider narrows a query to what the current principal may see.
// It runs on every DataContext read unless the caller skips it.
type ResourceQueryProvider interface {
	Scope(ctx context.Context, resource string, q *bun.SelectQuery) *bun.SelectQuery
}

// QueryProviderFunc adapts a function to ResourceQueryProvider.
type QueryProviderFunc func(ctx context.Context, resource string, q *bun.SelectQuery) *bun.SelectQuery

// Scope calls f.
func (f QueryProviderFunc) Scope(ctx context.Context, resource string, q *bun.SelectQuery) *bun.SelectQuery {
	return f(ctx, resource, q)
}

// NopQueryProvider leaves queries untouched.
var NopQueryProvider ResourceQueryProvider = QueryProviderFunc(
	func(_ context.Context, _ string, q *bun.SelectQuery) *bun.SelectQuery { return q },
)

// OwnerQueryProvider restricts rows to those whose column equals the principal's user ID.
// Principals holding one of bypassRoles see everything; anonymous callers see nothing.
//
// Example:
//
//	provider := apikit.OwnerQueryProvider("owner_id", "admin")
func OwnerQueryProvider(column string, bypassRoles ...string) ResourceQueryProvider {
	return QueryProviderFunc(func(ctx context.Context, _ string, q *bun.SelectQuery) *bun.SelectQuery {
		p := GetPrincipal(ctx)
		if p.IsAnonymous() {
			return q.Where("1 = 0")
		}
		if len(bypassRoles) > 0 && p.IsInRole(bypassRoles...) {
			return q
		}
		return q.Where("?TableAlias.? = ?", bun.Ident(column), p.UserID)
	})
}

// Filter applies request-driven narrowing (query string, role) to a read query.
type Filter interface {
	Apply(ctx context.Context, resource string, q *bun.SelectQuery) *bun.SelectQuery
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, resource string, q *bun.SelectQuery) *bun.SelectQuery

// Apply calls f.
func (f FilterFunc) Apply(ctx context.Context, resource string, q *bun.SelectQuery) *bun.SelectQuery {
	return f(ctx, resource, q)
}

// EqualsFilter turns whitelisted query parameters into equality predicates.
// A comma separated value becomes an IN list.
//
// Example:
//
//	// GET /notes?status=open,draft
//	filter := apikit.NewEqualsFilter(map[string]string{"status": "status"})
type EqualsFilter struct {
	columns map[string]string
	roles   []string
}

// NewEqualsFilter creates an EqualsFilter mapping query parameter names to columns.
func NewEqualsFilter(columns map[string]string) *EqualsFilter {
	return &EqualsFilter{columns: columns}
}

// ForRoles limits the filter to principals holding one of roles.
func (f *EqualsFilter) ForRoles(roles ...string) *EqualsFilter {
	f.roles = roles
	return f
}

// Apply implements Filter.
func (f *EqualsFilter) Apply(ctx context.Context, _ string, q *bun.SelectQuery) *bun.SelectQuery {
	if len(f.roles) > 0 && !GetPrincipal(ctx).IsInRole(f.roles...) {
		return q
	}
	values := GetQueryValues(ctx)
	params := make([]string, 0, len(f.columns))
	for param := range f.columns {
		params = append(params, param)
	}
	sort.Strings(params)
	for _, param := range params {
		column := f.columns[param]
		raw := values.Get(param)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		if len(parts) == 1 {
			q = q.Where("?TableAlias.? = ?", bun.Ident(column), raw)
			continue
		}
		q = q.Where("?TableAlias.? IN (?)", bun.Ident(column), bun.In(parts))
	}
	return q
}
