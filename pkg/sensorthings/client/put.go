package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings"
	sterrors "github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/schema"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// nameResolver is implemented by entities whose name is derived from the
// entities already present in the service
type nameResolver interface {
	NeedsNameResolution() bool
	NamePrefix() string
	ResolveName(name string) error
}

// Put creates the entity if no entity with the same name exists in its scope,
// and patches the existing entity otherwise. Observations are always created.
func (c *stClient) Put(ctx context.Context, entity types.Entity) (*sensorthings.PutResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "put-entity",
		trace.WithAttributes(attribute.String(TraceAttributeEntityKind, entity.Kind().String())),
		trace.WithAttributes(attribute.String(TraceAttributeEntityName, entity.EntityName())),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx).With(
		slog.String("kind", entity.Kind().String()),
		slog.String("name", entity.EntityName()),
	)
	ctx = logging.NewContextWithLogger(ctx, log)

	result := sensorthings.NewPutResult(entity.Kind(), entity.EntityName(), c.dryRun)

	err = schema.Check(entity.Payload())
	if err != nil {
		result.Transition(sensorthings.Rejected)
		log.Error("invalid payload", "err", err.Error())
		return result, err
	}

	result.Transition(sensorthings.Validated)

	if resolver, ok := entity.(nameResolver); ok && resolver.NeedsNameResolution() {
		err = c.resolveName(ctx, resolver)
		if err != nil {
			result.Transition(sensorthings.Rejected)
			return result, err
		}
		result.Name = entity.EntityName()
	}

	if entity.Kind() != types.Observations {
		var id int64
		var found bool

		id, found, err = c.lookup(ctx, entity)
		if err != nil {
			result.Transition(sensorthings.Rejected)
			return result, err
		}

		if found {
			result.Transition(sensorthings.Found)

			err = entity.SetID(id)
			if err != nil {
				result.Transition(sensorthings.Rejected)
				return result, err
			}

			result.ID = id
			err = c.patch(ctx, entity)
			if err != nil {
				result.Transition(sensorthings.Rejected)
				return result, err
			}

			result.Transition(sensorthings.Patched)
			result.Transition(sensorthings.Synced)
			log.Debug("patched existing entity", slog.Int64("id", id))

			return result, nil
		}

		result.Transition(sensorthings.NotFound)
	}

	id, err := c.create(ctx, entity)
	if err != nil {
		result.Transition(sensorthings.Rejected)
		return result, err
	}

	err = entity.SetID(id)
	if err != nil {
		result.Transition(sensorthings.Rejected)
		return result, err
	}

	result.ID = id
	result.Transition(sensorthings.Created)
	result.Transition(sensorthings.Synced)
	log.Debug("created entity", slog.Int64("id", id))

	return result, nil
}

// lookup searches for an entity with the same name within the scope of the
// entity. A failed lookup is reported as not found, except when the context
// has been cancelled.
func (c *stClient) lookup(ctx context.Context, entity types.Entity) (int64, bool, error) {
	collection := entity.Scope()
	if collection == "" {
		collection = entity.Kind().String()
	}

	p := c.QueryEntities(collection, NameEquals(entity.EntityName()), Limit(1))
	record, err := First(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, false, err
		}

		if !errors.Is(err, sterrors.ErrNotFound) {
			logging.GetFromContext(ctx).Warn("existence check failed, treating entity as not found", "err", err.Error())
		}

		return 0, false, nil
	}

	id, ok := record.ID()
	if !ok {
		return 0, false, fmt.Errorf("existing %s %q has no identifier (%w)", entity.Kind(), entity.EntityName(), sterrors.ErrBadResponse)
	}

	return id, true, nil
}

func (c *stClient) create(ctx context.Context, entity types.Entity) (int64, error) {
	request, err := c.newRequest(http.MethodPost, entity.Kind())
	if err != nil {
		return 0, err
	}

	if err = ctx.Err(); err != nil {
		return 0, err
	}

	resp, body, err := c.callService(ctx, request, entity.Payload())
	if err != nil {
		return 0, err
	}

	err = expectStatus(ctx, request, resp, body, http.StatusCreated)
	if err != nil {
		return 0, err
	}

	return extractID(resp, body)
}

func (c *stClient) patch(ctx context.Context, entity types.Entity) error {
	id, _ := entity.ID()

	request, err := c.newRequest(http.MethodPatch, entity.Kind(), WithID(id))
	if err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	resp, body, err := c.callService(ctx, request, entity.Payload())
	if err != nil {
		return err
	}

	return expectStatus(ctx, request, resp, body, http.StatusOK)
}

// resolveName replaces an auto incremented name with the prefix followed by the
// zero padded successor of the highest id among the entities sharing the prefix
func (c *stClient) resolveName(ctx context.Context, resolver nameResolver) error {
	prefix := resolver.NamePrefix()

	p := c.QueryEntities(types.Locations.String(), NameStartsWith(prefix), OrderBy(DefaultOrderDescending), Limit(1))

	var last int64
	record, err := First(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !errors.Is(err, sterrors.ErrNotFound) {
			logging.GetFromContext(ctx).Warn("failed to get latest location id", "err", err.Error())
		}
	} else if id, ok := record.ID(); ok {
		last = id
	}

	return resolver.ResolveName(fmt.Sprintf("%s%06d", prefix, last+1))
}

func (c *stClient) DeleteEntity(ctx context.Context, kind types.Kind, id int64) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-entity",
		trace.WithAttributes(attribute.String(TraceAttributeEntityKind, kind.String())),
		trace.WithAttributes(attribute.Int64(TraceAttributeEntityID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	request, err := c.newRequest(http.MethodDelete, kind, WithID(id))
	if err != nil {
		return err
	}

	resp, body, err := c.callService(ctx, request, nil)
	if err != nil {
		return err
	}

	err = expectStatus(ctx, request, resp, body, http.StatusOK, http.StatusNoContent)
	return err
}
