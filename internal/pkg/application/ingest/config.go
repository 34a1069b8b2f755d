package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/geojson"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types/entities"
	yaml "gopkg.in/yaml.v2"
)

type UTMInfo struct {
	Easting  float64 `yaml:"easting"`
	Northing float64 `yaml:"northing"`
	Zone     int     `yaml:"zone"`
	SRID     int     `yaml:"srid"`
}

type LocationInfo struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Geometry    *geojson.Geometry `yaml:"geometry"`
	UTM         *UTMInfo          `yaml:"utm"`
	Properties  map[string]any    `yaml:"properties"`
}

// Point returns the geometry of the location, projecting UTM coordinates with
// the given builder when no geometry is configured
func (l LocationInfo) Point(b *geojson.Builder) (*geojson.Geometry, error) {
	if l.Geometry != nil {
		return l.Geometry, nil
	}

	if l.UTM == nil {
		return nil, fmt.Errorf("location %q has neither geometry nor utm coordinates (%w)", l.Name, errors.ErrValidation)
	}

	if l.UTM.SRID != 0 {
		return b.PointFromSRID(l.UTM.Easting, l.UTM.Northing, l.UTM.SRID)
	}

	return b.PointFromUTM(l.UTM.Easting, l.UTM.Northing, l.UTM.Zone)
}

type ThingInfo struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Properties  map[string]any `yaml:"properties"`
}

type SensorInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Metadata    string `yaml:"metadata"`
}

type ObservedPropertyInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Definition  string `yaml:"definition"`
}

type DatastreamInfo struct {
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description"`
	UnitOfMeasurement string         `yaml:"unitofMeasurement"`
	ObservationType   string         `yaml:"observationType"`
	Properties        map[string]any `yaml:"properties"`
}

// Manifest describes a single monitoring point and its observations. The
// observations are rows of "time, value".
type Manifest struct {
	Destination      string               `yaml:"destination"`
	Location         LocationInfo         `yaml:"location"`
	Thing            ThingInfo            `yaml:"thing"`
	Sensor           SensorInfo           `yaml:"sensor"`
	ObservedProperty ObservedPropertyInfo `yaml:"observed_property"`
	Datastream       DatastreamInfo       `yaml:"datastream"`
	Observations     []string             `yaml:"observations"`
}

// Rows parses the observations into phenomenonTime, resultTime, result rows
// with the results cast according to the observation type of the datastream
func (m Manifest) Rows() ([][]any, error) {
	rows := make([][]any, 0, len(m.Observations))

	for i, o := range m.Observations {
		t, r, found := strings.Cut(o, ",")
		if !found {
			return nil, fmt.Errorf("observation %d (%q) is not a \"time, value\" pair (%w)", i, o, errors.ErrValidation)
		}

		ts := entities.FormatTime(strings.TrimSpace(t))

		result, err := entities.CastResult(m.Datastream.ObservationType, r)
		if err != nil {
			return nil, fmt.Errorf("observation %d has an invalid %s result: %s (%w)", i, m.Datastream.ObservationType, err.Error(), errors.ErrValidation)
		}

		rows = append(rows, []any{ts, ts, result})
	}

	return rows, nil
}

var ObservationComponents = []string{"phenomenonTime", "resultTime", "result"}

func LoadManifest(data io.Reader) (*Manifest, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	err = yaml.Unmarshal(buf, &m)
	if err != nil {
		return nil, err
	}

	m.Location.Properties = normalize(m.Location.Properties)
	m.Thing.Properties = normalize(m.Thing.Properties)
	m.Datastream.Properties = normalize(m.Datastream.Properties)

	return m, nil
}

// normalize converts the nested maps decoded by yaml to maps with string keys
// so that properties can be encoded as json
func normalize(properties map[string]any) map[string]any {
	if properties == nil {
		return nil
	}

	result := make(map[string]any, len(properties))
	for k, v := range properties {
		result[k] = normalizeValue(v)
	}

	return result
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(value))
		for k, e := range value {
			m[fmt.Sprint(k)] = normalizeValue(e)
		}
		return m
	case map[string]any:
		return normalize(value)
	case []any:
		s := make([]any, len(value))
		for i, e := range value {
			s[i] = normalizeValue(e)
		}
		return s
	}

	return v
}
