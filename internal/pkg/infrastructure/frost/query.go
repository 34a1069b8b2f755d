package frost

import (
	"cmp"
	"fmt"
	"regexp"
	"strings"
)

type predicate func(record map[string]any) bool

var (
	eqRegexp         = regexp.MustCompile(`^([\w/]+) eq '`)
	startsWithRegexp = regexp.MustCompile(`^startswith\(([\w/]+),'`)
)

// parseFilter supports conjunctions of "field eq 'literal'" and
// "startswith(field,'literal')" predicates
func parseFilter(expr string) (predicate, error) {
	predicates := []predicate{}
	rest := strings.TrimSpace(expr)

	for rest != "" {
		var field, literal string
		var err error

		if m := eqRegexp.FindStringSubmatch(rest); m != nil {
			field = m[1]
			literal, rest, err = readLiteral(rest[len(m[0]):])
			if err != nil {
				return nil, err
			}
			predicates = append(predicates, func(record map[string]any) bool {
				v, ok := lookup(record, field)
				return ok && fmt.Sprint(v) == literal
			})
		} else if m := startsWithRegexp.FindStringSubmatch(rest); m != nil {
			field = m[1]
			literal, rest, err = readLiteral(rest[len(m[0]):])
			if err != nil {
				return nil, err
			}
			if !strings.HasPrefix(rest, ")") {
				return nil, fmt.Errorf("unterminated function call in filter %q", expr)
			}
			rest = rest[1:]
			predicates = append(predicates, func(record map[string]any) bool {
				v, _ := lookup(record, field)
				s, ok := v.(string)
				return ok && strings.HasPrefix(s, literal)
			})
		} else {
			return nil, fmt.Errorf("unsupported filter %q", expr)
		}

		rest = strings.TrimSpace(rest)
		if rest == "" {
			break
		}

		if !strings.HasPrefix(rest, "and ") {
			return nil, fmt.Errorf("unsupported filter %q", expr)
		}
		rest = strings.TrimSpace(rest[len("and "):])
	}

	return func(record map[string]any) bool {
		for _, p := range predicates {
			if !p(record) {
				return false
			}
		}
		return true
	}, nil
}

// lookup resolves a slash separated property path such as properties/agency
func lookup(record map[string]any, path string) (any, bool) {
	var current any = record

	for _, key := range strings.Split(path, "/") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}

	return current, true
}

// readLiteral reads a single quoted literal, where '' is an escaped quote, and
// returns it together with the remaining input
func readLiteral(s string) (string, string, error) {
	var b strings.Builder

	for i := 0; i < len(s); i++ {
		if s[i] != '\'' {
			b.WriteByte(s[i])
			continue
		}

		if i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}

		return b.String(), s[i+1:], nil
	}

	return "", "", fmt.Errorf("unterminated literal in filter")
}

// parseOrderBy returns a comparison for a single "field [asc|desc]" clause
func parseOrderBy(clause string) (func(a, b map[string]any) int, error) {
	field, direction := "id", "asc"

	parts := strings.Fields(clause)
	switch len(parts) {
	case 0:
	case 1:
		field = parts[0]
	case 2:
		field, direction = parts[0], strings.ToLower(parts[1])
	default:
		return nil, fmt.Errorf("unsupported order %q", clause)
	}

	if direction != "asc" && direction != "desc" {
		return nil, fmt.Errorf("unsupported order direction %q", direction)
	}

	if field == "id" {
		field = "@iot.id"
	}

	return func(a, b map[string]any) int {
		c := compare(a[field], b[field])
		if direction == "desc" {
			return -c
		}
		return c
	}, nil
}

func compare(a, b any) int {
	x, xok := number(a)
	y, yok := number(b)
	if xok && yok {
		return cmp.Compare(x, y)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
