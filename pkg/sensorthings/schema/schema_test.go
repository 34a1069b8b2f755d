package schema

import (
	"errors"
	"strings"
	"testing"

	sterrors "github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/geojson"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types/entities"
	"github.com/matryer/is"
)

func TestValidLocation(t *testing.T) {
	is := is.New(t)

	l := entities.NewLocation("well-1", "a well", geojson.NewPoint(35, -106), nil)
	is.True(Validate(l))
	is.NoErr(Check(l))
}

func TestLocationWithoutCoordinatesIsRejected(t *testing.T) {
	is := is.New(t)

	l := entities.NewLocation("well-1", "a well", &geojson.Geometry{Type: "Point"}, nil)
	is.True(!Validate(l))

	err := Check(l)
	is.True(errors.Is(err, sterrors.ErrValidation))

	var verr *ValidationError
	is.True(errors.As(err, &verr))
	is.Equal(len(verr.Violations), 1)
	is.Equal(verr.Violations[0].Field, "location.coordinates")
	is.Equal(verr.Violations[0].Tag, "required")
}

func TestLocationWithoutGeometryIsRejected(t *testing.T) {
	is := is.New(t)

	l := entities.NewLocation("well-1", "a well", nil, nil)
	err := Check(l)

	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "location: required"))
}

func TestLocationWithTooFewCoordinatesIsRejected(t *testing.T) {
	is := is.New(t)

	l := entities.NewLocation("well-1", "a well", &geojson.Geometry{Type: "Point", Coordinates: []float64{1}}, nil)
	is.True(!Validate(l))
}

func TestMissingRequiredFieldsAreAllReported(t *testing.T) {
	is := is.New(t)

	s := &entities.Sensor{}
	err := Check(s)

	var verr *ValidationError
	is.True(errors.As(err, &verr))
	is.Equal(len(verr.Violations), 4) // name, description, encodingType and metadata
}

func TestDatastreamRequiresRelations(t *testing.T) {
	is := is.New(t)

	ds := entities.NewDatastream("ds", "d", entities.RefTo(1), entities.RefTo(0), entities.RefTo(3))
	err := Check(ds)

	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "ObservedProperty.@iot.id"))
}

func TestObservationRequiresDatastream(t *testing.T) {
	is := is.New(t)

	o := &entities.Observation{PhenomenonTime: "2021-01-01T00:00:00.000Z", Result: 0.0}
	is.True(!Validate(o))

	o = entities.NewObservation(entities.RefTo(5), "2021-01-01T00:00:00.000Z", 0.0)
	is.True(Validate(o)) // a zero result is still a valid result
}

func TestNonStructPayloadIsRejected(t *testing.T) {
	is := is.New(t)

	is.True(!Validate(nil))
	is.True(!Validate(map[string]any{"name": "x"}))

	var l *entities.Location
	is.True(!Validate(l))
}
