package apikit

import (
	"net/url"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
)

// SortField orders a read by one field.
type SortField struct {
	Field string
	Desc  bool
}

// ParseSort parses sort expressions. A leading "-" sorts descending.
//
// Example:
//
//	apikit.ParseSort([]string{"title", "-creation-time"})
//	// [{Field: "title"} {Field: "creation-time", Desc: true}]
func ParseSort(values []string) []SortField {
	fields := make([]SortField, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		desc := strings.HasPrefix(v, "-")
		v = strings.TrimPrefix(v, "-")
		if v == "" {
			continue
		}
		fields = append(fields, SortField{Field: v, Desc: desc})
	}
	return fields
}

// SortFromQuery reads the repeated "sort" query parameter.
func SortFromQuery(values url.Values) []SortField {
	return ParseSort(values["sort"])
}

// ApplySort orders q by fields resolved against model.
// Fields that do not resolve to a column of model are skipped. The first field
// is the primary order and the rest break ties in turn.
func ApplySort(q *bun.SelectQuery, model reflect.Type, fields []SortField, opts FieldOptions) *bun.SelectQuery {
	opts.EnableNesting = false
	for _, f := range fields {
		fp, err := ResolveField(model, f.Field, opts)
		if err != nil || fp.Column == "" || fp.Relation != "" {
			continue
		}
		if f.Desc {
			q = q.OrderExpr("?TableAlias.? DESC", bun.Ident(fp.Column))
		} else {
			q = q.OrderExpr("?TableAlias.? ASC", bun.Ident(fp.Column))
		}
	}
	return q
}
