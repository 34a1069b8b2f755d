package client

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultOrderAscending  string = "id asc"
	DefaultOrderDescending string = "id desc"
)

// Query describes a read operation. Limit is the overall number of records to
// read and is also sent as $top. PageLimit is the number of pages to read, a
// negative value flips the default order to descending.
type Query struct {
	filters   []string
	orderBy   string
	expand    []string
	limit     int
	pageLimit int
}

type QueryOption func(*Query)

func NewQuery(options ...QueryOption) *Query {
	q := &Query{}
	for _, option := range options {
		option(q)
	}
	return q
}

// Filter adds a predicate to the query. Multiple predicates are joined with and.
func Filter(predicate string) QueryOption {
	return func(q *Query) {
		if predicate != "" {
			q.filters = append(q.filters, predicate)
		}
	}
}

func NameEquals(name string) QueryOption {
	return Filter(fmt.Sprintf("name eq '%s'", quote(name)))
}

func NameStartsWith(prefix string) QueryOption {
	return Filter(fmt.Sprintf("startswith(name,'%s')", quote(prefix)))
}

func OrderBy(clause string) QueryOption {
	return func(q *Query) {
		q.orderBy = clause
	}
}

func Expand(relations ...string) QueryOption {
	return func(q *Query) {
		q.expand = append(q.expand, relations...)
	}
}

func Limit(rows int) QueryOption {
	return func(q *Query) {
		q.limit = rows
	}
}

func PageLimit(pages int) QueryOption {
	return func(q *Query) {
		q.pageLimit = pages
	}
}

func (q Query) FilterExpression() string {
	return strings.Join(q.filters, " and ")
}

// Order returns the order clause, defaulting to the identifier
func (q Query) Order() string {
	if q.orderBy != "" {
		return q.orderBy
	}
	if q.pageLimit < 0 {
		return DefaultOrderDescending
	}
	return DefaultOrderAscending
}

func (q Query) RowLimit() int {
	if q.limit < 0 {
		return 0
	}
	return q.limit
}

func (q Query) Pages() int {
	if q.pageLimit < 0 {
		return -q.pageLimit
	}
	return q.pageLimit
}

// Encode returns the query string with $top, $orderby, $filter and $expand in
// that order
func (q Query) Encode() string {
	params := make([]string, 0, 4)

	if limit := q.RowLimit(); limit > 0 {
		params = append(params, fmt.Sprintf("$top=%d", limit))
	}

	params = append(params, "$orderby="+escape(q.Order()))

	if filter := q.FilterExpression(); filter != "" {
		params = append(params, "$filter="+escape(filter))
	}

	if len(q.expand) > 0 {
		params = append(params, "$expand="+escape(strings.Join(q.expand, ",")))
	}

	return strings.Join(params, "&")
}

func (q Query) String() string {
	return q.Encode()
}

func escape(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// quote escapes single quotes in a string literal
func quote(literal string) string {
	return strings.ReplaceAll(literal, "'", "''")
}
