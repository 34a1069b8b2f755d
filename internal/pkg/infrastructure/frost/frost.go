// Package frost is an in-memory SensorThings service. It implements the parts
// of the protocol used by the synchronization client: entity collections,
// parent scoped collections, name filters, ordering, paging with continuation
// links and the CreateObservations bulk endpoint.
package frost

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
)

const DefaultPageSize int = 100

const createObservationsPath string = "CreateObservations"

type Service struct {
	mu sync.Mutex

	entities map[types.Kind][]*entity
	nextID   map[types.Kind]int64

	pageSize int
	user     string
	password string

	failBulk  map[int]bool
	bulkCalls int

	requests []string
	counts   map[string]int
	users    map[string]string
}

type entity struct {
	id     int64
	fields map[string]any
}

type ServiceOption func(*Service)

func WithPageSize(size int) ServiceOption {
	return func(s *Service) {
		s.pageSize = size
	}
}

// WithBasicAuth rejects requests that do not carry the given credentials
func WithBasicAuth(user, password string) ServiceOption {
	return func(s *Service) {
		s.user = user
		s.password = password
	}
}

// FailingBulkRequests makes the CreateObservations requests with the given
// zero based indices fail with an internal server error
func FailingBulkRequests(indices ...int) ServiceOption {
	return func(s *Service) {
		for _, i := range indices {
			s.failBulk[i] = true
		}
	}
}

func New(options ...ServiceOption) *Service {
	s := &Service{
		entities: map[types.Kind][]*entity{},
		nextID:   map[types.Kind]int64{},
		pageSize: DefaultPageSize,
		failBulk: map[int]bool{},
		counts:   map[string]int{},
		users:    map[string]string{},
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Mount registers the service below the given prefix, e.g. /FROST-Server/v1.1
func (s *Service) Mount(r chi.Router, prefix string) {
	r.Route(prefix, func(r chi.Router) {
		r.HandleFunc("/*", s.ServeHTTP)
	})
}

var pathRegexp = regexp.MustCompile(`^(\w+)(?:\((\d+)\))?(?:/(\w+))?$`)

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := entityPath(r)

	s.record(r, path)

	if s.user != "" {
		user, password, ok := r.BasicAuth()
		if !ok || user != s.user || password != s.password {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	if path == createObservationsPath {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.createObservations(w, r)
		return
	}

	m := pathRegexp.FindStringSubmatch(path)
	if m == nil || !isKind(m[1]) || (m[3] != "" && !isKind(m[3])) {
		writeError(w, http.StatusNotFound, "no such path: "+path)
		return
	}

	kind := types.Kind(m[1])
	var id int64
	if m[2] != "" {
		id, _ = strconv.ParseInt(m[2], 10, 64)
	}
	child := types.Kind(m[3])

	switch {
	case r.Method == http.MethodGet && m[2] == "":
		s.list(w, r, kind, nil)
	case r.Method == http.MethodGet && child == "":
		s.get(w, kind, id)
	case r.Method == http.MethodGet:
		s.list(w, r, child, &parent{kind: kind, id: id})
	case r.Method == http.MethodPost && m[2] == "":
		s.create(w, r, kind, nil)
	case r.Method == http.MethodPost && child != "":
		s.create(w, r, child, &parent{kind: kind, id: id})
	case r.Method == http.MethodPatch && m[2] != "" && child == "":
		s.patch(w, r, kind, id)
	case r.Method == http.MethodDelete && m[2] != "" && child == "":
		s.delete(w, kind, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Service) record(r *http.Request, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := r.Method + " " + path
	if r.URL.RawQuery != "" {
		line = line + "?" + r.URL.RawQuery
	}

	s.requests = append(s.requests, line)
	s.counts[r.Method]++

	user, _, _ := r.BasicAuth()
	s.users[r.Method] = user
}

type parent struct {
	kind types.Kind
	id   int64
}

func (s *Service) list(w http.ResponseWriter, r *http.Request, kind types.Kind, p *parent) {
	params := r.URL.Query()

	match, err := parseFilter(params.Get("$filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	less, err := parseOrderBy(params.Get("$orderby"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	top, skip := s.pageSize, 0
	if v := params.Get("$top"); v != "" {
		if top, err = strconv.Atoi(v); err != nil || top < 0 {
			writeError(w, http.StatusBadRequest, "invalid $top")
			return
		}
	}
	if v := params.Get("$skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			writeError(w, http.StatusBadRequest, "invalid $skip")
			return
		}
	}

	s.mu.Lock()

	if p != nil {
		if _, ok := s.find(p.kind, p.id); !ok {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "no such entity: "+p.kind.Path(p.id))
			return
		}
	}

	selected := []map[string]any{}
	for _, e := range s.entities[kind] {
		if p != nil && !belongsTo(e, p.kind, p.id) {
			continue
		}
		record := render(r, kind, e)
		if match(record) {
			selected = append(selected, record)
		}
	}

	s.mu.Unlock()

	slices.SortStableFunc(selected, less)

	result := map[string]any{}

	end := min(skip+top, len(selected))
	if skip < len(selected) {
		result["value"] = selected[skip:end]
	} else {
		result["value"] = []map[string]any{}
	}

	if end < len(selected) && top > 0 {
		params.Set("$skip", strconv.Itoa(end))
		params.Set("$top", strconv.Itoa(top))
		result["@iot.nextLink"] = serviceURL(r, r.URL.Path) + "?" + encodeParams(params)
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Service) get(w http.ResponseWriter, kind types.Kind, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.find(kind, id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such entity: "+kind.Path(id))
		return
	}

	writeJSON(w, http.StatusOK, render(nil, kind, e))
}

func (s *Service) create(w http.ResponseWriter, r *http.Request, kind types.Kind, p *parent) {
	fields, err := decodeObject(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if p != nil {
		if err = linkTo(fields, p.kind, p.id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if kind != types.Observations {
		if name, _ := fields["name"].(string); name == "" {
			writeError(w, http.StatusBadRequest, "missing name")
			return
		}
	}

	s.mu.Lock()
	e := s.add(kind, fields)
	s.mu.Unlock()

	logging.GetFromContext(r.Context()).Debug("entity created", slog.String("kind", kind.String()), slog.Int64("id", e.id))

	w.Header().Set("Location", serviceURL(r, prefixOf(r))+kind.Path(e.id))
	writeJSON(w, http.StatusCreated, render(r, kind, e))
}

func (s *Service) patch(w http.ResponseWriter, r *http.Request, kind types.Kind, id int64) {
	fields, err := decodeObject(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.find(kind, id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such entity: "+kind.Path(id))
		return
	}

	for k, v := range fields {
		e.fields[k] = v
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Service) delete(w http.ResponseWriter, kind types.Kind, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.entities[kind], func(e *entity) bool { return e.id == id })
	if idx < 0 {
		writeError(w, http.StatusNotFound, "no such entity: "+kind.Path(id))
		return
	}

	s.entities[kind] = slices.Delete(s.entities[kind], idx, idx+1)

	w.WriteHeader(http.StatusOK)
}

type observationArray struct {
	Datastream struct {
		ID int64 `json:"@iot.id"`
	} `json:"Datastream"`
	Components []string `json:"components"`
	DataArray  [][]any  `json:"dataArray"`
}

func (s *Service) createObservations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	call := s.bulkCalls
	s.bulkCalls++
	s.mu.Unlock()

	if s.failBulk[call] {
		writeError(w, http.StatusInternalServerError, "failed to create observations")
		return
	}

	var arrays []observationArray
	if err := json.NewDecoder(r.Body).Decode(&arrays); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	links := []string{}

	for _, a := range arrays {
		if _, ok := s.find(types.Datastreams, a.Datastream.ID); !ok {
			writeError(w, http.StatusBadRequest, "no such datastream: "+types.Datastreams.Path(a.Datastream.ID))
			return
		}

		for _, row := range a.DataArray {
			if len(row) != len(a.Components) {
				links = append(links, "error")
				continue
			}

			fields := map[string]any{
				"Datastream": map[string]any{"@iot.id": a.Datastream.ID},
			}
			for i, c := range a.Components {
				fields[c] = row[i]
			}

			e := s.add(types.Observations, fields)
			links = append(links, serviceURL(r, prefixOf(r))+types.Observations.Path(e.id))
		}
	}

	writeJSON(w, http.StatusCreated, links)
}

func (s *Service) add(kind types.Kind, fields map[string]any) *entity {
	s.nextID[kind]++
	e := &entity{id: s.nextID[kind], fields: fields}
	s.entities[kind] = append(s.entities[kind], e)
	return e
}

func (s *Service) find(kind types.Kind, id int64) (*entity, bool) {
	for _, e := range s.entities[kind] {
		if e.id == id {
			return e, true
		}
	}
	return nil, false
}

// Count returns the number of stored entities of a kind
func (s *Service) Count(kind types.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities[kind])
}

// Entities returns copies of the stored entities of a kind in creation order
func (s *Service) Entities(kind types.Kind) []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]types.Record, 0, len(s.entities[kind]))
	for _, e := range s.entities[kind] {
		records = append(records, render(nil, kind, e))
	}
	return records
}

// Requests returns the received requests as "METHOD path?query" in order
func (s *Service) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

func (s *Service) RequestCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method]
}

// User returns the basic auth user of the latest request with the given method
func (s *Service) User(method string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[method]
}

func render(r *http.Request, kind types.Kind, e *entity) map[string]any {
	record := make(map[string]any, len(e.fields)+2)
	for k, v := range e.fields {
		record[k] = v
	}

	record["@iot.id"] = e.id
	if r != nil {
		record["@iot.selfLink"] = serviceURL(r, prefixOf(r)) + kind.Path(e.id)
	}

	return record
}

func belongsTo(e *entity, parentKind types.Kind, parentID int64) bool {
	switch parentKind {
	case types.Locations:
		locations, _ := e.fields["Locations"].([]any)
		for _, l := range locations {
			if refID(l) == parentID {
				return true
			}
		}
	case types.Things:
		return refID(e.fields["Thing"]) == parentID
	case types.Datastreams:
		return refID(e.fields["Datastream"]) == parentID
	}
	return false
}

func linkTo(fields map[string]any, parentKind types.Kind, parentID int64) error {
	ref := map[string]any{"@iot.id": parentID}

	switch parentKind {
	case types.Locations:
		fields["Locations"] = []any{ref}
	case types.Things:
		fields["Thing"] = ref
	case types.Datastreams:
		fields["Datastream"] = ref
	default:
		return fmt.Errorf("cannot create entities below %s", parentKind)
	}

	return nil
}

func refID(v any) int64 {
	ref, ok := v.(map[string]any)
	if !ok {
		return 0
	}

	switch id := ref["@iot.id"].(type) {
	case float64:
		return int64(id)
	case int64:
		return id
	case json.Number:
		n, _ := id.Int64()
		return n
	}

	return 0
}

func isKind(s string) bool {
	switch types.Kind(s) {
	case types.Locations, types.Things, types.Sensors, types.ObservedProperties, types.Datastreams, types.Observations:
		return true
	}
	return false
}

func decodeObject(body io.Reader) (map[string]any, error) {
	fields := map[string]any{}
	if err := json.NewDecoder(body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return fields, nil
}

// entityPath returns the request path relative to the mount point
func entityPath(r *http.Request) string {
	if path := chi.URLParam(r, "*"); path != "" {
		return path
	}
	return strings.TrimPrefix(r.URL.Path, "/")
}

// prefixOf returns the part of the request path that precedes the entity path
func prefixOf(r *http.Request) string {
	return strings.TrimSuffix(r.URL.Path, entityPath(r))
}

func serviceURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}

// encodeParams keeps the dollar signs of the query option names readable
func encodeParams(params url.Values) string {
	return strings.ReplaceAll(params.Encode(), "%24", "$")
}

type errorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Code: code, Type: "error", Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	b, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
