package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Unit struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	Symbol     string `json:"symbol" yaml:"symbol" validate:"required"`
	Definition string `json:"definition" yaml:"definition" validate:"required"`
}

var (
	Foot   = Unit{Name: "Foot", Symbol: "ft", Definition: "http://www.qudt.org/vocab/unit/FT"}
	DegC   = Unit{Name: "Degree Celsius", Symbol: "degC", Definition: "http://www.qudt.org/vocab/unit/DEG_C"}
	Gallon = Unit{Name: "Gallon", Symbol: "gal", Definition: "http://qudt.org/vocab/unit/GAL_US"}
	PPM    = Unit{Name: "Parts Per Million", Symbol: "PPM", Definition: "http://www.qudt.org/vocab/unit/PPM"}
)

const (
	OMCategoryObservation string = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_CategoryObservation"
	OMCountObservation    string = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_CountObservation"
	OMMeasurement         string = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_Measurement"
	OMObservation         string = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_Observation"
	OMTruthObservation    string = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_TruthObservation"
)

var units = map[string]Unit{
	"foot":   Foot,
	"feet":   Foot,
	"c":      DegC,
	"ppm":    PPM,
	"gallon": Gallon,
	"gal":    Gallon,
}

var observationTypes = map[string]string{
	"double":  OMMeasurement,
	"uri":     OMCategoryObservation,
	"integer": OMCountObservation,
	"any":     OMObservation,
	"boolean": OMTruthObservation,
}

// UnitFor looks up a unit by its short name and falls back to Foot
func UnitFor(name string) Unit {
	if u, ok := units[strings.ToLower(name)]; ok {
		return u
	}
	return Foot
}

// ObservationTypeFor looks up an observation type by its short name and falls
// back to OM_Observation
func ObservationTypeFor(name string) string {
	if t, ok := observationTypes[strings.ToLower(name)]; ok {
		return t
	}
	return OMObservation
}

// CastResult converts a textual result to the Go type matching the short name
// of an observation type. Unknown types are kept as strings.
func CastResult(otype, result string) (any, error) {
	result = strings.TrimSpace(result)

	switch strings.ToLower(otype) {
	case "double":
		return strconv.ParseFloat(result, 64)
	case "integer":
		return strconv.ParseInt(result, 10, 64)
	case "boolean":
		return strconv.ParseBool(result)
	}

	return result, nil
}

var timeLayouts = []string{"2006-01-02", "2006-01-02T15:04:05"}

// FormatTime normalizes a date or a zone less timestamp to the format used for
// phenomenon times. Values in any other format are returned unchanged.
func FormatTime(ts string) string {
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, ts)
		if err == nil {
			return fmt.Sprintf("%s.000Z", t.Format("2006-01-02T15:04:05"))
		}
	}

	return ts
}
