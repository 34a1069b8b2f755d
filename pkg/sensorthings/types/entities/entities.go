package entities

import (
	"fmt"
	"strings"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/geojson"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
)

const AutoIncrementSuffix string = "$autoinc"

// Ref is a reference to another entity by its remote id
type Ref struct {
	ID int64 `json:"@iot.id" validate:"required"`
}

func RefTo(id int64) Ref {
	return Ref{ID: id}
}

// RefFor returns a reference to an entity that has already been synchronized
func RefFor(e types.Entity) (Ref, error) {
	id, ok := e.ID()
	if !ok {
		return Ref{}, fmt.Errorf("%s %q has not been synchronized (%w)", e.Kind(), e.EntityName(), errors.ErrMissingID)
	}
	return Ref{ID: id}, nil
}

// remoteID is assigned once by the service and never unset
type remoteID struct {
	id  int64
	set bool
}

func (r *remoteID) get() (int64, bool) {
	return r.id, r.set
}

func (r *remoteID) assign(id int64) error {
	if r.set {
		if r.id == id {
			return nil
		}
		return fmt.Errorf("cannot change id %d to %d (%w)", r.id, id, errors.ErrIDAlreadySet)
	}

	r.id = id
	r.set = true

	return nil
}

type Location struct {
	Name         string            `json:"name" validate:"required"`
	Description  string            `json:"description" validate:"required"`
	EncodingType string            `json:"encodingType" validate:"required"`
	Location     *geojson.Geometry `json:"location" validate:"required"`
	Properties   map[string]any    `json:"properties,omitempty"`

	id       remoteID
	resolved bool
}

func NewLocation(name, description string, geometry *geojson.Geometry, properties map[string]any) *Location {
	return &Location{
		Name:         name,
		Description:  description,
		EncodingType: geojson.EncodingType,
		Location:     geometry,
		Properties:   properties,
	}
}

func (l *Location) Kind() types.Kind     { return types.Locations }
func (l *Location) EntityName() string   { return l.Name }
func (l *Location) ID() (int64, bool)    { return l.id.get() }
func (l *Location) SetID(id int64) error { return l.id.assign(id) }
func (l *Location) Payload() any         { return l }
func (l *Location) Scope() string        { return "" }
func (l *Location) String() string       { return describe(l) }

// NeedsNameResolution reports whether the name is an unresolved auto increment
func (l *Location) NeedsNameResolution() bool {
	return !l.resolved && strings.HasSuffix(l.Name, AutoIncrementSuffix)
}

// NamePrefix returns the part of an auto incremented name before the suffix
func (l *Location) NamePrefix() string {
	return strings.TrimSuffix(l.Name, AutoIncrementSuffix)
}

// ResolveName replaces an auto incremented name with its resolved value. The
// resolved name is cached and can only be set once.
func (l *Location) ResolveName(name string) error {
	if l.resolved {
		return fmt.Errorf("location name already resolved to %q (%w)", l.Name, errors.ErrIDAlreadySet)
	}

	l.Name = name
	l.resolved = true

	return nil
}

type Thing struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description" validate:"required"`
	Properties  map[string]any `json:"properties,omitempty"`
	Locations   []Ref          `json:"Locations,omitempty" validate:"omitempty,dive"`

	id remoteID
}

func NewThing(name, description string, properties map[string]any, locations ...Ref) *Thing {
	return &Thing{
		Name:        name,
		Description: description,
		Properties:  properties,
		Locations:   locations,
	}
}

func (t *Thing) Kind() types.Kind     { return types.Things }
func (t *Thing) EntityName() string   { return t.Name }
func (t *Thing) ID() (int64, bool)    { return t.id.get() }
func (t *Thing) SetID(id int64) error { return t.id.assign(id) }
func (t *Thing) Payload() any         { return t }
func (t *Thing) String() string       { return describe(t) }

// Scope returns the things collection of the first related location
func (t *Thing) Scope() string {
	if len(t.Locations) == 0 {
		return ""
	}
	return types.Locations.Path(t.Locations[0].ID) + "/" + types.Things.String()
}

type Sensor struct {
	Name         string `json:"name" validate:"required"`
	Description  string `json:"description" validate:"required"`
	EncodingType string `json:"encodingType" validate:"required"`
	Metadata     string `json:"metadata" validate:"required"`

	id remoteID
}

func NewSensor(name, description, metadata string) *Sensor {
	if metadata == "" {
		metadata = "No Metadata"
	}

	return &Sensor{
		Name:         name,
		Description:  description,
		EncodingType: "application/pdf",
		Metadata:     metadata,
	}
}

func (s *Sensor) Kind() types.Kind     { return types.Sensors }
func (s *Sensor) EntityName() string   { return s.Name }
func (s *Sensor) ID() (int64, bool)    { return s.id.get() }
func (s *Sensor) SetID(id int64) error { return s.id.assign(id) }
func (s *Sensor) Payload() any         { return s }
func (s *Sensor) Scope() string        { return "" }
func (s *Sensor) String() string       { return describe(s) }

type ObservedProperty struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
	Definition  string `json:"definition" validate:"required"`

	id remoteID
}

func NewObservedProperty(name, description, definition string) *ObservedProperty {
	if definition == "" {
		definition = "No Definition"
	}

	return &ObservedProperty{
		Name:        name,
		Description: description,
		Definition:  definition,
	}
}

func (op *ObservedProperty) Kind() types.Kind     { return types.ObservedProperties }
func (op *ObservedProperty) EntityName() string   { return op.Name }
func (op *ObservedProperty) ID() (int64, bool)    { return op.id.get() }
func (op *ObservedProperty) SetID(id int64) error { return op.id.assign(id) }
func (op *ObservedProperty) Payload() any         { return op }
func (op *ObservedProperty) Scope() string        { return "" }
func (op *ObservedProperty) String() string       { return describe(op) }

type Datastream struct {
	Name              string         `json:"name" validate:"required"`
	Description       string         `json:"description" validate:"required"`
	UnitOfMeasurement Unit           `json:"unitOfMeasurement" validate:"required"`
	ObservationType   string         `json:"observationType" validate:"required"`
	Properties        map[string]any `json:"properties,omitempty"`
	Thing             *Ref           `json:"Thing" validate:"required"`
	ObservedProperty  *Ref           `json:"ObservedProperty" validate:"required"`
	Sensor            *Ref           `json:"Sensor" validate:"required"`

	id remoteID
}

type DatastreamDecoratorFunc func(ds *Datastream)

func WithUnit(unit Unit) DatastreamDecoratorFunc {
	return func(ds *Datastream) {
		ds.UnitOfMeasurement = unit
	}
}

func WithObservationType(otype string) DatastreamDecoratorFunc {
	return func(ds *Datastream) {
		ds.ObservationType = otype
	}
}

func WithProperties(properties map[string]any) DatastreamDecoratorFunc {
	return func(ds *Datastream) {
		ds.Properties = properties
	}
}

func NewDatastream(name, description string, thing, observedProperty, sensor Ref, decorators ...DatastreamDecoratorFunc) *Datastream {
	ds := &Datastream{
		Name:              name,
		Description:       description,
		UnitOfMeasurement: Foot,
		ObservationType:   OMMeasurement,
		Thing:             &thing,
		ObservedProperty:  &observedProperty,
		Sensor:            &sensor,
	}

	for _, decorator := range decorators {
		decorator(ds)
	}

	return ds
}

func (ds *Datastream) Kind() types.Kind     { return types.Datastreams }
func (ds *Datastream) EntityName() string   { return ds.Name }
func (ds *Datastream) ID() (int64, bool)    { return ds.id.get() }
func (ds *Datastream) SetID(id int64) error { return ds.id.assign(id) }
func (ds *Datastream) Payload() any         { return ds }
func (ds *Datastream) String() string       { return describe(ds) }

// Scope returns the datastreams collection of the related thing
func (ds *Datastream) Scope() string {
	if ds.Thing == nil {
		return ""
	}
	return types.Things.Path(ds.Thing.ID) + "/" + types.Datastreams.String()
}

// Observation is a time series fact. Observations have no name and are never
// looked up before they are created.
type Observation struct {
	PhenomenonTime string `json:"phenomenonTime" validate:"required"`
	ResultTime     string `json:"resultTime,omitempty"`
	Result         any    `json:"result"`
	Datastream     *Ref   `json:"Datastream" validate:"required"`

	id remoteID
}

func NewObservation(datastream Ref, phenomenonTime string, result any) *Observation {
	return &Observation{
		PhenomenonTime: phenomenonTime,
		ResultTime:     phenomenonTime,
		Result:         result,
		Datastream:     &datastream,
	}
}

func (o *Observation) Kind() types.Kind     { return types.Observations }
func (o *Observation) EntityName() string   { return "" }
func (o *Observation) ID() (int64, bool)    { return o.id.get() }
func (o *Observation) SetID(id int64) error { return o.id.assign(id) }
func (o *Observation) Payload() any         { return o }
func (o *Observation) Scope() string        { return "" }
func (o *Observation) String() string       { return describe(o) }

func describe(e types.Entity) string {
	if id, ok := e.ID(); ok {
		return fmt.Sprintf("%s %q (%d)", e.Kind(), e.EntityName(), id)
	}
	return fmt.Sprintf("%s %q", e.Kind(), e.EntityName())
}
