package apikit

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aarondl/strmangle"
)

// FieldOptions controls how field names from requests resolve to struct fields.
type FieldOptions struct {
	// DisableDashed turns off "creation-time" style names.
	DisableDashed bool
	// EnableNesting allows dotted paths such as "owner.name".
	EnableNesting bool
	// MaxNesting bounds the number of path segments.
	MaxNesting int
}

// FieldPath is a resolved, possibly nested, struct field.
type FieldPath struct {
	Name     string
	Index    [][]int
	Field    reflect.StructField
	Column   string // bun column of the first segment
	Relation string // bun relation name of the first segment, if any
}

// IsList reports whether the final field is a slice or array.
func (fp *FieldPath) IsList() bool {
	t := fp.Field.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() != reflect.Uint8
}

// Nested reports whether the path spans more than one struct.
func (fp *FieldPath) Nested() bool {
	return len(fp.Index) > 1
}

// Value reads the field from entity. Nil pointers along the path yield nil.
func (fp *FieldPath) Value(entity any) any {
	v := reflect.ValueOf(entity)
	for _, index := range fp.Index {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return nil
			}
			v = v.Elem()
		}
		f, err := v.FieldByIndexErr(index)
		if err != nil {
			return nil
		}
		v = f
	}
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Slice || v.Kind() == reflect.Map) && v.IsNil() {
		return nil
	}
	return v.Interface()
}

// ResolveField finds the struct field addressed by name on t.
//
// Each segment matches, case-insensitively, the Go field name, its JSON name or its
// bun column. Dashed segments ("creation-time") are title-cased first. Fields hidden
// from JSON cannot be addressed.
func ResolveField(t reflect.Type, name string, opts FieldOptions) (*FieldPath, error) {
	segments := []string{name}
	if opts.EnableNesting {
		segments = strings.Split(name, ".")
		max := opts.MaxNesting
		if max <= 0 {
			max = DefaultMaxNestingLevel
		}
		if len(segments) > max {
			return nil, NewError(ErrInvalidField, fmt.Sprintf("field %q nests deeper than %d", name, max)).WithField(name)
		}
	}

	fp := &FieldPath{Name: name}
	current := t
	for i, segment := range segments {
		current = indirectType(current)
		if current.Kind() != reflect.Struct {
			return nil, NewError(ErrInvalidField, fmt.Sprintf("field %q is not a struct", strings.Join(segments[:i], "."))).WithField(name)
		}
		if !opts.DisableDashed {
			segment = dashedToGoName(segment)
		}
		sf, ok := findField(current, segment)
		if !ok {
			return nil, NewError(ErrInvalidField, fmt.Sprintf("unknown field %q", name)).WithField(name)
		}
		if jsonName(sf) == "-" {
			return nil, NewError(ErrInvalidField, fmt.Sprintf("field %q is not exposed", name)).WithField(name)
		}
		if i == 0 {
			tag := parseBunTag(sf)
			fp.Column = tag.column
			if tag.relation {
				fp.Relation = sf.Name
			}
		}
		fp.Index = append(fp.Index, sf.Index)
		fp.Field = sf
		current = sf.Type
		if i < len(segments)-1 {
			current = elemType(current)
		}
	}
	return fp, nil
}

func dashedToGoName(s string) string {
	if !strings.Contains(s, "-") {
		return s
	}
	return strmangle.TitleCase(strings.ReplaceAll(s, "-", "_"))
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func elemType(t reflect.Type) reflect.Type {
	t = indirectType(t)
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		return indirectType(t.Elem())
	}
	return t
}

func findField(t reflect.Type, name string) (reflect.StructField, bool) {
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		if strings.EqualFold(sf.Name, name) {
			return sf, true
		}
		if j := jsonName(sf); j != "" && j != "-" && strings.EqualFold(j, name) {
			return sf, true
		}
		if tag := parseBunTag(sf); tag.column != "" && strings.EqualFold(tag.column, name) {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "-"
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

type bunTag struct {
	column   string
	relation bool
	skip     bool
}

// parseBunTag reads the parts of a bun struct tag apikit needs.
// Columns default to the snake_case field name, as bun does.
func parseBunTag(sf reflect.StructField) bunTag {
	tag := sf.Tag.Get("bun")
	if tag == "-" {
		return bunTag{skip: true}
	}
	parts := strings.Split(tag, ",")
	for _, p := range parts {
		if strings.HasPrefix(p, "rel:") || strings.HasPrefix(p, "m2m:") {
			return bunTag{relation: true}
		}
	}
	out := bunTag{column: parts[0]}
	if out.column == "" {
		out.column = underscore(sf.Name)
	}
	return out
}

// underscore converts a Go identifier to snake_case the way bun names columns.
func underscore(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prev := rune(s[i-1])
				nextLower := i+1 < len(s) && s[i+1] >= 'a' && s[i+1] <= 'z'
				if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') || (prev >= 'A' && prev <= 'Z' && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// listValues flattens a slice value into its elements.
func listValues(v any) []any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out
}
