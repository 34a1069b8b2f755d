package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type page struct {
	Value    []types.Record `json:"value"`
	NextLink string         `json:"@iot.nextLink"`
}

// Pager walks the pages of a query by following the continuation links
// returned by the service. It is not restartable, every call to QueryEntities
// returns a new walk.
type Pager struct {
	c     *stClient
	query *Query

	next     string
	records  []types.Record
	pos      int
	current  types.Record
	pages    int
	rows     int
	maxPages int
	maxRows  int
	empty    bool
	done     bool
	err      error
}

// QueryEntities returns a pager over the records of a collection. The
// collection is either an entity kind such as Things or a parent scoped path
// such as Locations(1)/Things.
func (c *stClient) QueryEntities(collection string, parameters ...QueryOption) *Pager {
	q := NewQuery(parameters...)

	p := &Pager{
		c:        c,
		query:    q,
		maxPages: q.Pages(),
		maxRows:  q.RowLimit(),
	}

	request, err := c.newRequest(http.MethodGet, types.Kind(collection), WithQuery(q))
	if err != nil {
		p.err = err
		p.done = true
		return p
	}

	p.next = request.URL

	return p
}

// Next advances to the next record, fetching the next page when the current
// one is exhausted. It returns false when the walk is complete or has failed.
func (p *Pager) Next(ctx context.Context) bool {
	for !p.done {
		if p.maxRows > 0 && p.rows >= p.maxRows {
			p.done = true
			break
		}

		if p.pos < len(p.records) {
			p.current = p.records[p.pos]
			p.pos++
			p.rows++
			return true
		}

		if p.next == "" || (p.maxPages > 0 && p.pages >= p.maxPages) {
			p.done = true
			break
		}

		if err := ctx.Err(); err != nil {
			p.err = err
			p.done = true
			break
		}

		if err := p.fetch(ctx); err != nil {
			p.err = err
			p.done = true
		}
	}

	p.current = nil
	return false
}

func (p *Pager) fetch(ctx context.Context) error {
	var err error

	ctx, span := tracer.Start(ctx, "query-page",
		trace.WithAttributes(attribute.Int("page", p.pages+1)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	request := Request{Method: http.MethodGet, URL: p.next}

	resp, body, err := p.c.callService(ctx, request, nil)
	if err != nil {
		return err
	}

	err = expectStatus(ctx, request, resp, body, http.StatusOK)
	if err != nil {
		return err
	}

	pg, err := decodePage(body)
	if err != nil {
		return err
	}

	p.pages++
	p.records = pg.Value
	p.pos = 0
	p.next = pg.NextLink

	logging.GetFromContext(ctx).Debug("fetched page",
		slog.String("url", request.URL), slog.Int("page", p.pages), slog.Int("count", len(pg.Value)))

	if len(pg.Value) == 0 {
		if p.pages == 1 {
			p.empty = true
		}
		p.next = ""
	}

	return nil
}

// decodePage accepts both collection responses and single entity responses
func decodePage(body []byte) (*page, error) {
	var raw map[string]json.RawMessage

	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()
	if err := d.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	pg := &page{}

	value, isCollection := raw["value"]
	if !isCollection {
		var record types.Record
		d := json.NewDecoder(bytes.NewReader(body))
		d.UseNumber()
		if err := d.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode entity: %s (%w)", err.Error(), errors.ErrBadResponse)
		}
		pg.Value = []types.Record{record}
		return pg, nil
	}

	d = json.NewDecoder(bytes.NewReader(value))
	d.UseNumber()
	if err := d.Decode(&pg.Value); err != nil {
		return nil, fmt.Errorf("failed to decode records: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if next, ok := raw["@iot.nextLink"]; ok {
		if err := json.Unmarshal(next, &pg.NextLink); err != nil {
			return nil, fmt.Errorf("failed to decode next link: %s (%w)", err.Error(), errors.ErrBadResponse)
		}
	}

	return pg, nil
}

// Record returns the record the pager is positioned at
func (p *Pager) Record() types.Record {
	return p.current
}

// Err returns the error that stopped the walk, if any
func (p *Pager) Err() error {
	return p.err
}

// Empty reports whether the first page held no records
func (p *Pager) Empty() bool {
	return p.empty
}

func (p *Pager) Pages() int {
	return p.pages
}

func (p *Pager) Rows() int {
	return p.rows
}

func (p *Pager) Query() *Query {
	return p.query
}

// All returns the remaining records as a sequence. A failure is yielded once
// as the last element.
func (p *Pager) All(ctx context.Context) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		for p.Next(ctx) {
			if !yield(p.Record(), nil) {
				return
			}
		}

		if p.err != nil {
			yield(nil, p.err)
		}
	}
}

// First returns the first record of a query or an error matching
// errors.ErrNotFound if there is none
func First(ctx context.Context, p *Pager) (types.Record, error) {
	if p.Next(ctx) {
		return p.Record(), nil
	}

	if p.Err() != nil {
		return nil, p.Err()
	}

	return nil, errors.NewNotFoundError("query returned no records")
}
