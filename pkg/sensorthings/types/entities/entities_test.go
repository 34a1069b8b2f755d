package entities

import (
	"encoding/json"
	"errors"
	"testing"

	sterrors "github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/geojson"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/matryer/is"
)

func TestLocationPayloadMarshalsWireFormat(t *testing.T) {
	is := is.New(t)

	l := NewLocation("well-1", "a well", geojson.NewPoint(35.0, -106.0), map[string]any{"agency": "NMBGMR"})
	b, err := json.Marshal(l.Payload())
	is.NoErr(err)

	const expectation string = `{"name":"well-1","description":"a well","encodingType":"application/vnd.geo+json","location":{"type":"Point","coordinates":[-106,35]},"properties":{"agency":"NMBGMR"}}`
	is.Equal(string(b), expectation)
}

func TestRemoteIDIsSetOnlyOnce(t *testing.T) {
	is := is.New(t)

	s := NewSensor("s", "d", "")
	_, ok := s.ID()
	is.True(!ok) // id should not be set before synchronization

	is.NoErr(s.SetID(17))
	is.NoErr(s.SetID(17)) // setting the same id again is a no-op

	err := s.SetID(18)
	is.True(errors.Is(err, sterrors.ErrIDAlreadySet))

	id, ok := s.ID()
	is.True(ok)
	is.Equal(id, int64(17))
}

func TestThingIsScopedByItsFirstLocation(t *testing.T) {
	is := is.New(t)

	thing := NewThing("t", "d", nil, RefTo(4), RefTo(5))
	is.Equal(thing.Scope(), "Locations(4)/Things")

	unscoped := NewThing("t", "d", nil)
	is.Equal(unscoped.Scope(), "")
}

func TestDatastreamIsScopedByItsThing(t *testing.T) {
	is := is.New(t)

	ds := NewDatastream("ds", "d", RefTo(3), RefTo(7), RefTo(9))
	is.Equal(ds.Scope(), "Things(3)/Datastreams")
	is.Equal(ds.UnitOfMeasurement, Foot)
	is.Equal(ds.ObservationType, OMMeasurement)
	is.Equal(ds.Kind(), types.Datastreams)
}

func TestDatastreamDecorators(t *testing.T) {
	is := is.New(t)

	ds := NewDatastream("ds", "d", RefTo(3), RefTo(7), RefTo(9),
		WithUnit(UnitFor("ppm")),
		WithObservationType(ObservationTypeFor("integer")),
		WithProperties(map[string]any{"topic": "water"}),
	)

	b, err := json.Marshal(ds)
	is.NoErr(err)

	const expectation string = `{"name":"ds","description":"d","unitOfMeasurement":{"name":"Parts Per Million","symbol":"PPM","definition":"http://www.qudt.org/vocab/unit/PPM"},"observationType":"http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_CountObservation","properties":{"topic":"water"},"Thing":{"@iot.id":3},"ObservedProperty":{"@iot.id":7},"Sensor":{"@iot.id":9}}`
	is.Equal(string(b), expectation)
}

func TestRefForRequiresSynchronizedEntity(t *testing.T) {
	is := is.New(t)

	op := NewObservedProperty("depth", "depth to water", "")
	_, err := RefFor(op)
	is.True(errors.Is(err, sterrors.ErrMissingID))

	is.NoErr(op.SetID(2))
	ref, err := RefFor(op)
	is.NoErr(err)
	is.Equal(ref.ID, int64(2))
}

func TestAutoIncrementNameIsResolvedOnce(t *testing.T) {
	is := is.New(t)

	l := NewLocation("NMWDI-$autoinc", "d", geojson.NewPoint(1, 2), nil)
	is.True(l.NeedsNameResolution())
	is.Equal(l.NamePrefix(), "NMWDI-")

	is.NoErr(l.ResolveName("NMWDI-000004"))
	is.True(!l.NeedsNameResolution())
	is.Equal(l.EntityName(), "NMWDI-000004")

	err := l.ResolveName("NMWDI-000005")
	is.True(err != nil)
	is.Equal(l.EntityName(), "NMWDI-000004") // the cached name must not change
}

func TestCastResult(t *testing.T) {
	is := is.New(t)

	v, err := CastResult("double", " 12.5 ")
	is.NoErr(err)
	is.Equal(v, 12.5)

	v, err = CastResult("Integer", "3")
	is.NoErr(err)
	is.Equal(v, int64(3))

	v, err = CastResult("boolean", "true")
	is.NoErr(err)
	is.Equal(v, true)

	v, err = CastResult("uri", "http://example.org")
	is.NoErr(err)
	is.Equal(v, "http://example.org")

	_, err = CastResult("double", "abc")
	is.True(err != nil)
}

func TestUnitAndObservationTypeFallbacks(t *testing.T) {
	is := is.New(t)

	is.Equal(UnitFor("Feet"), Foot)
	is.Equal(UnitFor("furlong"), Foot)
	is.Equal(UnitFor("C"), DegC)
	is.Equal(ObservationTypeFor("unknown"), OMObservation)
	is.Equal(ObservationTypeFor("Boolean"), OMTruthObservation)
}

func TestFormatTime(t *testing.T) {
	is := is.New(t)

	is.Equal(FormatTime("2021-03-04"), "2021-03-04T00:00:00.000Z")
	is.Equal(FormatTime("2021-03-04T05:06:07"), "2021-03-04T05:06:07.000Z")
	is.Equal(FormatTime("2021-03-04T05:06:07Z"), "2021-03-04T05:06:07Z")
}
