package geojson

import (
	"fmt"
	"math"
	"sync"
)

const EncodingType string = "application/vnd.geo+json"

// Geometry is the GeoJSON value object carried by a Location
type Geometry struct {
	Type        string    `json:"type" yaml:"type" validate:"required"`
	Coordinates []float64 `json:"coordinates" yaml:"coordinates" validate:"required,min=2,max=3"`
}

func (g Geometry) Latitude() float64 {
	if len(g.Coordinates) < 2 {
		return 0
	}
	return g.Coordinates[1]
}

func (g Geometry) Longitude() float64 {
	if len(g.Coordinates) < 1 {
		return 0
	}
	return g.Coordinates[0]
}

// NewPoint creates a Point geometry from a WGS84 coordinate
func NewPoint(latitude, longitude float64) *Geometry {
	return &Geometry{
		Type:        "Point",
		Coordinates: []float64{longitude, latitude},
	}
}

type Ellipsoid struct {
	Name       string
	SemiMajor  float64
	Flattening float64
}

var (
	WGS84 = Ellipsoid{Name: "WGS84", SemiMajor: 6378137.0, Flattening: 1 / 298.257223563}
	GRS80 = Ellipsoid{Name: "GRS80", SemiMajor: 6378137.0, Flattening: 1 / 298.257222101}
)

// Builder creates point geometries from projected coordinates. Projections are
// cached per builder, keyed by zone, hemisphere and ellipsoid.
type Builder struct {
	mu          sync.Mutex
	projections map[string]*utmProjection
}

func NewBuilder() *Builder {
	return &Builder{
		projections: map[string]*utmProjection{},
	}
}

// PointFromUTM converts a northern hemisphere WGS84 UTM coordinate
func (b *Builder) PointFromUTM(easting, northing float64, zone int) (*Geometry, error) {
	return b.PointFromUTMWithEllipsoid(easting, northing, zone, true, WGS84)
}

func (b *Builder) PointFromUTMWithEllipsoid(easting, northing float64, zone int, north bool, ellps Ellipsoid) (*Geometry, error) {
	if zone < 1 || zone > 60 {
		return nil, fmt.Errorf("utm zone %d out of range", zone)
	}

	p := b.projection(zone, north, ellps)
	lat, lon := p.inverse(easting, northing)

	return NewPoint(lat, lon), nil
}

// PointFromSRID supports the EPSG codes of the WGS84 UTM zones (326zz north,
// 327zz south) and the NAD83 UTM zones (269zz).
func (b *Builder) PointFromSRID(easting, northing float64, srid int) (*Geometry, error) {
	switch {
	case srid > 32600 && srid <= 32660:
		return b.PointFromUTMWithEllipsoid(easting, northing, srid-32600, true, WGS84)
	case srid > 32700 && srid <= 32760:
		return b.PointFromUTMWithEllipsoid(easting, northing, srid-32700, false, WGS84)
	case srid > 26900 && srid <= 26923:
		return b.PointFromUTMWithEllipsoid(easting, northing, srid-26900, true, GRS80)
	case srid == 4326:
		return NewPoint(northing, easting), nil
	}

	return nil, fmt.Errorf("unsupported srid %d", srid)
}

// Len returns the number of cached projections
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.projections)
}

func (b *Builder) projection(zone int, north bool, ellps Ellipsoid) *utmProjection {
	key := fmt.Sprintf("%d/%t/%s", zone, north, ellps.Name)

	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.projections[key]; ok {
		return p
	}

	p := newUTMProjection(zone, north, ellps)
	b.projections[key] = p

	return p
}

const (
	scaleFactor   float64 = 0.9996
	falseEasting  float64 = 500000.0
	falseNorthing float64 = 10000000.0
)

type utmProjection struct {
	north bool
	lon0  float64
	a     float64
	e2    float64
	ep2   float64
	e1    float64
}

func newUTMProjection(zone int, north bool, ellps Ellipsoid) *utmProjection {
	e2 := ellps.Flattening * (2 - ellps.Flattening)
	sq := math.Sqrt(1 - e2)

	return &utmProjection{
		north: north,
		lon0:  float64((zone-1)*6-180+3) * math.Pi / 180,
		a:     ellps.SemiMajor,
		e2:    e2,
		ep2:   e2 / (1 - e2),
		e1:    (1 - sq) / (1 + sq),
	}
}

// inverse transverse mercator, returns latitude and longitude in degrees
func (p *utmProjection) inverse(easting, northing float64) (float64, float64) {
	x := easting - falseEasting
	y := northing
	if !p.north {
		y -= falseNorthing
	}

	e2, e1, ep2 := p.e2, p.e1, p.ep2

	m := y / scaleFactor
	mu := m / (p.a * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi := math.Sin(phi1)
	cosPhi := math.Cos(phi1)
	tanPhi := math.Tan(phi1)

	c1 := ep2 * cosPhi * cosPhi
	t1 := tanPhi * tanPhi
	n1 := p.a / math.Sqrt(1-e2*sinPhi*sinPhi)
	r1 := p.a * (1 - e2) / math.Pow(1-e2*sinPhi*sinPhi, 1.5)
	d := x / (n1 * scaleFactor)

	lat := phi1 - (n1*tanPhi/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)

	lon := p.lon0 + (d-
		(1+2*t1+c1)*math.Pow(d, 3)/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cosPhi

	return lat * 180 / math.Pi, lon * 180 / math.Pi
}
