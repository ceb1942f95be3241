//go:build !duckdb_arrow

package engine

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// columnType is a parsed DuckDB type name as reported by
// sql.ColumnType.DatabaseTypeName, e.g. INTEGER[], VARCHAR[3],
// STRUCT("a" INTEGER, "b" VARCHAR[]) or MAP(VARCHAR, DOUBLE).
type columnType struct {
	name  string
	arrow arrow.DataType

	elem       *columnType // LIST and ARRAY
	fields     []structField
	key, value *columnType // MAP
}

type structField struct {
	name string
	typ  *columnType
}

func parseColumnType(name string) (*columnType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty type name")
	}
	upper := strings.ToUpper(name)

	if strings.HasSuffix(name, "]") {
		if open := strings.LastIndex(name, "["); open > 0 && isDigits(name[open+1:len(name)-1]) {
			elem, err := parseColumnType(name[:open])
			if err != nil {
				return nil, err
			}
			return &columnType{name: name, arrow: arrow.ListOf(elem.arrow), elem: elem}, nil
		}
	}

	switch {
	case strings.HasPrefix(upper, "STRUCT(") && strings.HasSuffix(name, ")"):
		parts, err := splitTypeList(name[len("STRUCT(") : len(name)-1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		ct := &columnType{name: name}
		arrowFields := make([]arrow.Field, 0, len(parts))
		for _, part := range parts {
			fieldName, rest, err := cutFieldName(part)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			typ, err := parseColumnType(rest)
			if err != nil {
				return nil, err
			}
			ct.fields = append(ct.fields, structField{name: fieldName, typ: typ})
			arrowFields = append(arrowFields, arrow.Field{Name: fieldName, Type: typ.arrow, Nullable: true})
		}
		ct.arrow = arrow.StructOf(arrowFields...)
		return ct, nil

	case strings.HasPrefix(upper, "MAP(") && strings.HasSuffix(name, ")"):
		parts, err := splitTypeList(name[len("MAP(") : len(name)-1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("%s: expected key and value types", name)
		}
		key, err := parseColumnType(parts[0])
		if err != nil {
			return nil, err
		}
		value, err := parseColumnType(parts[1])
		if err != nil {
			return nil, err
		}
		return &columnType{name: name, arrow: arrow.MapOf(key.arrow, value.arrow), key: key, value: value}, nil

	case strings.HasPrefix(upper, "UNION("):
		// Unions are carried as JSON text of their active member.
		return &columnType{name: "UNION", arrow: arrow.BinaryTypes.String}, nil
	}

	return &columnType{name: upper, arrow: arrowTypeFor(upper)}, nil
}

// splitTypeList splits a comma separated list at the top nesting level,
// ignoring commas inside parentheses, brackets and quoted names.
func splitTypeList(s string) ([]string, error) {
	var (
		parts   []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced %q", c)
			}
		case c == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if inQuote || depth != 0 {
		return nil, fmt.Errorf("unterminated type list")
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		parts = append(parts, last)
	}
	return parts, nil
}

// cutFieldName splits `"name" TYPE` (or `name TYPE`) into its parts. Quoted
// names escape a double quote by doubling it.
func cutFieldName(s string) (name, rest string, err error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, `"`) {
		name, rest, ok := strings.Cut(s, " ")
		if !ok {
			return "", "", fmt.Errorf("field %q has no type", s)
		}
		return name, strings.TrimSpace(rest), nil
	}
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '"' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		rest = strings.TrimSpace(s[i+1:])
		if rest == "" {
			return "", "", fmt.Errorf("field %q has no type", b.String())
		}
		return b.String(), rest, nil
	}
	return "", "", fmt.Errorf("unterminated field name in %q", s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
