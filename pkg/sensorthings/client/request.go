package client

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
)

// Request is a fully qualified request against the service
type Request struct {
	Method string
	URL    string
}

func (r Request) String() string {
	return r.Method + " " + r.URL
}

type requestSpec struct {
	path  string
	id    *int64
	query *Query
}

type RequestOption func(*requestSpec)

// AtPath overrides the collection path of the entity kind, e.g. to run an
// existence check against a parent scoped collection
func AtPath(path string) RequestOption {
	return func(rs *requestSpec) {
		rs.path = strings.Trim(path, "/")
	}
}

// ScopedTo targets the collection of the entity kind below a parent entity
func ScopedTo(parent types.Kind, parentID int64) RequestOption {
	return func(rs *requestSpec) {
		rs.path = parent.Path(parentID)
	}
}

func WithID(id int64) RequestOption {
	return func(rs *requestSpec) {
		rs.id = &id
	}
}

func WithQuery(q *Query) RequestOption {
	return func(rs *requestSpec) {
		rs.query = q
	}
}

// NewRequest builds a request for an entity kind relative to the base url
func NewRequest(baseURL, method string, kind types.Kind, options ...RequestOption) (Request, error) {
	rs := &requestSpec{}
	for _, option := range options {
		option(rs)
	}

	base := strings.TrimSuffix(baseURL, "/")

	switch method {
	case http.MethodGet:
		u := base + "/" + collectionPath(kind, rs.path)
		if rs.query != nil {
			u = u + "?" + rs.query.Encode()
		}
		return Request{Method: method, URL: u}, nil
	case http.MethodPatch, http.MethodDelete:
		if rs.id == nil {
			return Request{}, fmt.Errorf("%s %s requires a remote id (%w)", method, kind, errors.ErrMissingID)
		}
		return Request{Method: method, URL: base + "/" + kind.Path(*rs.id)}, nil
	case http.MethodPost:
		return Request{Method: method, URL: base + "/" + collectionPath(kind, rs.path)}, nil
	}

	return Request{}, fmt.Errorf("unsupported method %s (%w)", method, errors.ErrInternal)
}

// collectionPath appends the kind to a parent scope such as Locations(1), and
// uses any other override as is
func collectionPath(kind types.Kind, override string) string {
	if override == "" {
		return kind.String()
	}

	if strings.HasSuffix(override, ")") {
		return override + "/" + kind.String()
	}

	return override
}
