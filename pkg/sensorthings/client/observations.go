package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types/entities"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createObservationsPath string = "CreateObservations"

// ObservationChunkSize is the maximum number of observations the service
// accepts in a single CreateObservations request
const ObservationChunkSize int = 100

type observationArray struct {
	Datastream entities.Ref `json:"Datastream"`
	Components []string     `json:"components"`
	DataArray  [][]any      `json:"dataArray"`
}

// CreateObservations inserts the rows in chunks, one request per chunk in
// order. A failed chunk does not stop the remaining chunks. If any chunk
// failed the returned error matches errors.ErrPartialFailure and the result
// lists the failed chunks.
func (c *stClient) CreateObservations(ctx context.Context, datastreamID int64, components []string, rows [][]any) (*sensorthings.CreateObservationsResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-observations",
		trace.WithAttributes(attribute.Int64(TraceAttributeEntityID, datastreamID)),
		trace.WithAttributes(attribute.Int("rows", len(rows))),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx).With(slog.Int64("datastream", datastreamID))

	result := sensorthings.NewCreateObservationsResult(datastreamID, c.dryRun)
	result.Observations = len(rows)

	if len(rows) == 0 {
		return result, nil
	}

	request, err := c.newRequest(http.MethodPost, types.Kind(createObservationsPath))
	if err != nil {
		return result, err
	}

	for index, offset := 0, 0; offset < len(rows); index, offset = index+1, offset+ObservationChunkSize {
		end := min(offset+ObservationChunkSize, len(rows))
		chunk := rows[offset:end]

		if err = ctx.Err(); err != nil {
			return result, err
		}

		result.Chunks++

		created, rowErrors, chunkErr := c.createChunk(ctx, request, datastreamID, components, chunk)
		if chunkErr != nil {
			log.Error("failed to create observations", "chunk", index, "offset", offset, "size", len(chunk), "err", chunkErr.Error())
			result.Failed = append(result.Failed, errors.ChunkError{
				Index: index, Offset: offset, Size: len(chunk), Err: chunkErr,
			})
			continue
		}

		result.Created += created
		result.RowErrors += rowErrors

		if rowErrors > 0 {
			log.Warn("service rejected observations", "chunk", index, "rejected", rowErrors)
		}
	}

	if result.IsPartialFailure() {
		err = errors.NewPartialFailureError(result.Chunks, result.Failed)
		return result, err
	}

	log.Debug("created observations", "chunks", result.Chunks, "created", result.Created)

	return result, nil
}

func (c *stClient) createChunk(ctx context.Context, request Request, datastreamID int64, components []string, chunk [][]any) (int, int, error) {
	payload := []observationArray{{
		Datastream: entities.RefTo(datastreamID),
		Components: components,
		DataArray:  chunk,
	}}

	resp, body, err := c.callService(ctx, request, payload)
	if err != nil {
		return 0, 0, err
	}

	err = expectStatus(ctx, request, resp, body, http.StatusCreated)
	if err != nil {
		return 0, 0, err
	}

	// the service answers with one self link, or the string "error", per row
	var links []string
	if len(body) == 0 || json.Unmarshal(body, &links) != nil || len(links) == 0 {
		return len(chunk), 0, nil
	}

	rowErrors := 0
	for _, link := range links {
		if strings.HasPrefix(strings.ToLower(link), "error") {
			rowErrors++
		}
	}

	return len(links) - rowErrors, rowErrors, nil
}

// LastObservationTime returns the phenomenon time of the latest observation in
// a datastream, or an error matching errors.ErrNotFound if it has none
func (c *stClient) LastObservationTime(ctx context.Context, datastreamID int64) (string, error) {
	var err error

	ctx, span := tracer.Start(ctx, "last-observation-time",
		trace.WithAttributes(attribute.Int64(TraceAttributeEntityID, datastreamID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	collection := types.Datastreams.Path(datastreamID) + "/" + types.Observations.String()
	p := c.QueryEntities(collection, OrderBy("phenomenonTime desc"), Limit(1))

	record, err := First(ctx, p)
	if err != nil {
		return "", err
	}

	t, ok := record["phenomenonTime"].(string)
	if !ok || t == "" {
		err = fmt.Errorf("observation without phenomenon time (%w)", errors.ErrBadResponse)
		return "", err
	}

	return t, nil
}
