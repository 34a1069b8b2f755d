package frost

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/go-chi/chi/v5"
	"github.com/matryer/is"
)

func TestCreateReturnsLocationOfNewEntity(t *testing.T) {
	is, ts, svc := setupTest(t)
	defer ts.Close()

	resp, _ := newTestRequest(is, ts, http.MethodPost, "/v1.1/Sensors", `{"name":"s1"}`)

	is.Equal(resp.StatusCode, http.StatusCreated)
	is.Equal(resp.Header.Get("Location"), ts.URL+"/v1.1/Sensors(1)")
	is.Equal(svc.Count(types.Sensors), 1)
}

func TestCreateWithoutNameIsRejected(t *testing.T) {
	is, ts, svc := setupTest(t)
	defer ts.Close()

	resp, _ := newTestRequest(is, ts, http.MethodPost, "/v1.1/Things", `{"description":"nameless"}`)

	is.Equal(resp.StatusCode, http.StatusBadRequest)
	is.Equal(svc.Count(types.Things), 0)
}

func TestNameFilterWithEscapedQuote(t *testing.T) {
	is, ts, _ := setupTest(t)
	defer ts.Close()

	newTestRequest(is, ts, http.MethodPost, "/v1.1/Sensors", `{"name":"o'hare"}`)
	newTestRequest(is, ts, http.MethodPost, "/v1.1/Sensors", `{"name":"other"}`)

	resp, body := newTestRequest(is, ts, http.MethodGet, "/v1.1/Sensors?$filter=name%20eq%20'o''hare'", "")
	is.Equal(resp.StatusCode, http.StatusOK)

	pg := decode(is, body)
	is.Equal(len(pg.Value), 1)
	is.Equal(pg.Value[0]["name"], "o'hare")
}

func TestScopedCollectionOnlyContainsChildrenOfParent(t *testing.T) {
	is, ts, _ := setupTest(t)
	defer ts.Close()

	newTestRequest(is, ts, http.MethodPost, "/v1.1/Locations", `{"name":"l1"}`)
	newTestRequest(is, ts, http.MethodPost, "/v1.1/Locations", `{"name":"l2"}`)
	newTestRequest(is, ts, http.MethodPost, "/v1.1/Things", `{"name":"t","Locations":[{"@iot.id":1}]}`)
	newTestRequest(is, ts, http.MethodPost, "/v1.1/Locations(2)/Things", `{"name":"t"}`)

	_, body := newTestRequest(is, ts, http.MethodGet, "/v1.1/Locations(2)/Things", "")
	pg := decode(is, body)
	is.Equal(len(pg.Value), 1)
	is.Equal(pg.Value[0]["@iot.id"], float64(2))

	resp, _ := newTestRequest(is, ts, http.MethodGet, "/v1.1/Locations(3)/Things", "")
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestPagingFollowsNextLinks(t *testing.T) {
	is := is.New(t)
	svc := New(WithPageSize(2))
	ts := newServer(svc)
	defer ts.Close()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		newTestRequest(is, ts, http.MethodPost, "/v1.1/Sensors", `{"name":"`+name+`"}`)
	}

	names := []string{}
	next := ts.URL + "/v1.1/Sensors?$orderby=id%20desc"

	for next != "" {
		resp, err := http.Get(next)
		is.NoErr(err)
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		pg := decode(is, string(b))
		for _, v := range pg.Value {
			names = append(names, v["name"].(string))
		}
		next = pg.NextLink
	}

	is.Equal(strings.Join(names, ""), "edcba")
	is.Equal(svc.RequestCount(http.MethodGet), 3)
}

func TestCreateObservationsReportsRowErrors(t *testing.T) {
	is, ts, svc := setupTest(t)
	defer ts.Close()

	newTestRequest(is, ts, http.MethodPost, "/v1.1/Datastreams", `{"name":"ds"}`)

	resp, body := newTestRequest(is, ts, http.MethodPost, "/v1.1/CreateObservations",
		`[{"Datastream":{"@iot.id":1},"components":["phenomenonTime","result"],"dataArray":[["2024-01-01T00:00:00.000Z",1],["2024-01-02T00:00:00.000Z"]]}]`)

	is.Equal(resp.StatusCode, http.StatusCreated)

	links := []string{}
	is.NoErr(json.Unmarshal([]byte(body), &links))
	is.Equal(len(links), 2)
	is.Equal(links[1], "error")
	is.Equal(svc.Count(types.Observations), 1)
}

func TestBasicAuthIsEnforced(t *testing.T) {
	is := is.New(t)
	svc := New(WithBasicAuth("writer", "secret"))
	ts := newServer(svc)
	defer ts.Close()

	resp, _ := newTestRequest(is, ts, http.MethodGet, "/v1.1/Things", "")
	is.Equal(resp.StatusCode, http.StatusUnauthorized)
}

type testPage struct {
	Value    []map[string]any `json:"value"`
	NextLink string           `json:"@iot.nextLink"`
}

func decode(is *is.I, body string) testPage {
	pg := testPage{}
	is.NoErr(json.Unmarshal([]byte(body), &pg))
	return pg
}

func newTestRequest(is *is.I, ts *httptest.Server, method, path, body string) (*http.Response, string) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req, _ := http.NewRequest(method, ts.URL+path, reader)
	req.Header.Add("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err) // http request failed
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	is.NoErr(err) // failed to read response body

	return resp, string(respBody)
}

func newServer(svc *Service) *httptest.Server {
	r := chi.NewRouter()
	svc.Mount(r, "/v1.1")
	return httptest.NewServer(r)
}

func setupTest(t *testing.T) (*is.I, *httptest.Server, *Service) {
	is := is.New(t)
	svc := New()
	return is, newServer(svc), svc
}
