package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/client"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/geojson"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types/entities"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("sensorthings-sync/ingest")

type Ingester interface {
	Ingest(ctx context.Context, m *Manifest) (*Result, error)
}

// Links are the self links of the synchronized entities
type Links struct {
	Location         string `json:"location_link" yaml:"location_link"`
	Thing            string `json:"thing_link" yaml:"thing_link"`
	Sensor           string `json:"sensor_link" yaml:"sensor_link"`
	ObservedProperty string `json:"observed_property_link" yaml:"observed_property_link"`
	Datastream       string `json:"datastream_link" yaml:"datastream_link"`
	Observations     string `json:"observations_link" yaml:"observations_link"`
}

type Result struct {
	RunID        string
	Links        Links
	Entities     []*sensorthings.PutResult
	Observations *sensorthings.CreateObservationsResult
}

func WithPolicy(policy WritePolicy) func(*ingester) {
	return func(i *ingester) {
		i.policy = policy
	}
}

func WithGeometryBuilder(b *geojson.Builder) func(*ingester) {
	return func(i *ingester) {
		i.geometries = b
	}
}

func New(c client.SensorThingsClient, options ...func(*ingester)) Ingester {
	i := &ingester{
		c:          c,
		policy:     allowAll{},
		geometries: geojson.NewBuilder(),
	}

	for _, option := range options {
		option(i)
	}

	return i
}

type ingester struct {
	c          client.SensorThingsClient
	policy     WritePolicy
	geometries *geojson.Builder
}

// Ingest synchronizes the entities of a manifest in dependency order and bulk
// loads its observations. It stops at the first entity that cannot be
// synchronized since the following entities refer to it.
func (i *ingester) Ingest(ctx context.Context, m *Manifest) (*Result, error) {
	var err error

	result := &Result{RunID: uuid.NewString()}

	ctx, span := tracer.Start(ctx, "ingest",
		trace.WithAttributes(attribute.String("run-id", result.RunID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx).With(slog.String("run_id", result.RunID))
	ctx = logging.NewContextWithLogger(ctx, log)

	// everything that can be checked locally is checked before the first write
	rows, err := m.Rows()
	if err != nil {
		return result, err
	}

	geometry, err := m.Location.Point(i.geometries)
	if err != nil {
		return result, err
	}

	location := entities.NewLocation(m.Location.Name, m.Location.Description, geometry, m.Location.Properties)
	if err = i.put(ctx, result, location); err != nil {
		return result, err
	}

	thing := entities.NewThing(m.Thing.Name, m.Thing.Description, m.Thing.Properties, ref(location))
	if err = i.put(ctx, result, thing); err != nil {
		return result, err
	}

	sensor := entities.NewSensor(m.Sensor.Name, m.Sensor.Description, m.Sensor.Metadata)
	if err = i.put(ctx, result, sensor); err != nil {
		return result, err
	}

	op := entities.NewObservedProperty(m.ObservedProperty.Name, m.ObservedProperty.Description, m.ObservedProperty.Definition)
	if err = i.put(ctx, result, op); err != nil {
		return result, err
	}

	ds := entities.NewDatastream(m.Datastream.Name, m.Datastream.Description, ref(thing), ref(op), ref(sensor),
		entities.WithUnit(entities.UnitFor(m.Datastream.UnitOfMeasurement)),
		entities.WithObservationType(entities.ObservationTypeFor(m.Datastream.ObservationType)),
		entities.WithProperties(m.Datastream.Properties),
	)
	if err = i.put(ctx, result, ds); err != nil {
		return result, err
	}

	result.Links = i.links(location, thing, sensor, op, ds)

	if len(rows) > 0 {
		dsID, _ := ds.ID()

		err = i.policy.CheckWrite(ctx, WriteRequest{
			Kind: types.Observations, Name: ds.Name, Destination: i.c.BaseURL(), Count: len(rows),
		})
		if err != nil {
			log.Error("observations rejected by write policy", "err", err.Error())
			return result, err
		}

		result.Observations, err = i.c.CreateObservations(ctx, dsID, ObservationComponents, rows)
		if err != nil {
			return result, err
		}
	}

	log.Info("manifest ingested", slog.String("datastream", result.Links.Datastream), slog.Int("observations", len(rows)))

	return result, nil
}

func (i *ingester) put(ctx context.Context, result *Result, e types.Entity) error {
	err := i.policy.CheckWrite(ctx, WriteRequest{
		Kind: e.Kind(), Name: e.EntityName(), Destination: i.c.BaseURL(), Count: 1,
	})
	if err != nil {
		logging.GetFromContext(ctx).Error("write rejected by policy", "kind", e.Kind().String(), "name", e.EntityName(), "err", err.Error())
		return err
	}

	r, err := i.c.Put(ctx, e)
	if r != nil {
		result.Entities = append(result.Entities, r)
	}
	if err != nil {
		return fmt.Errorf("failed to synchronize %s %q: %w", e.Kind(), e.EntityName(), err)
	}

	return nil
}

func (i *ingester) links(location, thing, sensor, op, ds types.Entity) Links {
	link := func(e types.Entity) string {
		id, _ := e.ID()
		return i.c.BaseURL() + "/" + e.Kind().Path(id)
	}

	return Links{
		Location:         link(location),
		Thing:            link(thing),
		Sensor:           link(sensor),
		ObservedProperty: link(op),
		Datastream:       link(ds),
		Observations:     link(ds) + "/" + types.Observations.String(),
	}
}

// ref returns a reference to an entity that has just been synchronized
func ref(e types.Entity) entities.Ref {
	id, _ := e.ID()
	return entities.RefTo(id)
}
