package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

type SensorThingsClient interface {
	Put(ctx context.Context, entity types.Entity) (*sensorthings.PutResult, error)
	QueryEntities(collection string, parameters ...QueryOption) *Pager
	CreateObservations(ctx context.Context, datastreamID int64, components []string, rows [][]any) (*sensorthings.CreateObservationsResult, error)
	LastObservationTime(ctx context.Context, datastreamID int64) (string, error)
	DeleteEntity(ctx context.Context, kind types.Kind, id int64) error
	BaseURL() string
}

const DefaultServicePath string = "/FROST-Server/v1.1"

// Connection holds the location of the service and the credentials used to
// write to it. It is immutable after construction.
type Connection struct {
	baseURL  string
	user     string
	password string
}

// NewConnection normalizes a bare host, with an optional port, to the full
// service root url. Values that already carry a scheme are used as is.
func NewConnection(host, user, password string) Connection {
	baseURL := strings.TrimSuffix(strings.TrimSpace(host), "/")
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL + DefaultServicePath
	}

	return Connection{
		baseURL:  baseURL,
		user:     user,
		password: password,
	}
}

func (c Connection) BaseURL() string {
	return c.baseURL
}

func (c Connection) User() string {
	return c.user
}

func Debug(enabled string) func(*stClient) {
	return func(c *stClient) {
		c.debug = (enabled == "true")
	}
}

// DryRun suppresses all network traffic. Reads return empty pages and writes
// are reported as successful so that the branches taken can be inspected.
func DryRun(enabled bool) func(*stClient) {
	return func(c *stClient) {
		c.dryRun = enabled
	}
}

// ReadCredentials sets a separate credential pair used for read requests
func ReadCredentials(user, password string) func(*stClient) {
	return func(c *stClient) {
		c.readUser = user
		c.readPassword = password
	}
}

func NewSensorThingsClient(conn Connection, options ...func(*stClient)) SensorThingsClient {
	c := &stClient{
		conn: conn,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, option := range options {
		option(c)
	}

	return c
}

const (
	TraceAttributeEntityKind string = "entity-kind"
	TraceAttributeEntityName string = "entity-name"
	TraceAttributeEntityID   string = "entity-id"
)

var tracer = otel.Tracer("sensorthings-client")

type stClient struct {
	conn         Connection
	readUser     string
	readPassword string
	debug        bool
	dryRun       bool

	httpClient http.Client
	dryIDs     atomic.Int64
}

func (c *stClient) BaseURL() string {
	return c.conn.BaseURL()
}

func (c *stClient) newRequest(method string, kind types.Kind, options ...RequestOption) (Request, error) {
	return NewRequest(c.conn.BaseURL(), method, kind, options...)
}

func (c *stClient) callService(ctx context.Context, request Request, payload any) (*http.Response, []byte, error) {
	var body io.Reader

	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %s (%w)", err.Error(), errors.ErrInternal)
		}
		body = bytes.NewBuffer(b)
	}

	if c.dryRun {
		return c.dryRunResponse(ctx, request)
	}

	req, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
	}

	if payload != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	req.Header.Add("Accept", "application/json")

	if request.Method == http.MethodGet && c.readUser != "" {
		req.SetBasicAuth(c.readUser, c.readPassword)
	} else if c.conn.user != "" {
		req.SetBasicAuth(c.conn.user, c.conn.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", slog.String("request", string(reqbytes)), slog.String("response", string(respbytes)))
	}

	return resp, respBody, nil
}

// dryRunResponse synthesizes the successful outcome of a request. Created
// entities get negative placeholder ids so that dependent entities can be
// planned.
func (c *stClient) dryRunResponse(ctx context.Context, request Request) (*http.Response, []byte, error) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Request:    &http.Request{Method: request.Method},
	}

	var body []byte

	switch request.Method {
	case http.MethodGet:
		body = []byte(`{"value":[]}`)
	case http.MethodPost:
		resp.StatusCode = http.StatusCreated
		if strings.HasSuffix(request.URL, "/"+createObservationsPath) {
			body = []byte(`[]`)
		} else {
			resp.Header.Set("Location", fmt.Sprintf("%s(%d)", request.URL, c.dryIDs.Add(-1)))
		}
	}

	logging.GetFromContext(ctx).Debug("dry run", slog.String("method", request.Method), slog.String("url", request.URL))

	return resp, body, nil
}

// expectStatus classifies a response and logs any failure where it occurs
func expectStatus(ctx context.Context, request Request, resp *http.Response, body []byte, codes ...int) error {
	for _, code := range codes {
		if resp.StatusCode == code {
			return nil
		}
	}

	err := errors.NewTransportError(request.Method, request.URL, resp.StatusCode, body)

	logging.GetFromContext(ctx).Warn(
		"unexpected response from service",
		slog.String("method", request.Method),
		slog.String("url", request.URL),
		slog.Int("status", resp.StatusCode),
	)

	return err
}

var idRegexp = regexp.MustCompile(`\((-?\d+)\)`)

// extractID finds the identifier of a created entity in the Location header,
// falling back to the @iot.id of the response body
func extractID(resp *http.Response, body []byte) (int64, error) {
	location := resp.Header.Get("Location")
	if matches := idRegexp.FindAllStringSubmatch(location, -1); len(matches) > 0 {
		return strconv.ParseInt(matches[len(matches)-1][1], 10, 64)
	}

	if len(body) > 0 {
		var record types.Record
		d := json.NewDecoder(bytes.NewReader(body))
		d.UseNumber()
		if err := d.Decode(&record); err == nil {
			if id, ok := record.ID(); ok {
				return id, nil
			}
		}
	}

	return 0, fmt.Errorf("no identifier in created response (location: %q) (%w)", location, errors.ErrBadResponse)
}
