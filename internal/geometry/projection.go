package geometry

import (
	"math"

	"github.com/paulmach/orb"
)

// earthRadius is the IUGG mean radius in meters.
const earthRadius = 6371008.8

// LocalProjection is a spherical Lambert azimuthal equal-area projection
// centered on a point. Distances and areas near the center are in meters.
type LocalProjection struct {
	center  orb.Point
	lon0    float64
	sinLat0 float64
	cosLat0 float64
}

// NewLocalProjection centers a projection on a lon/lat point.
func NewLocalProjection(center orb.Point) LocalProjection {
	lat0 := center.Lat() * math.Pi / 180
	return LocalProjection{
		center:  center,
		lon0:    center.Lon() * math.Pi / 180,
		sinLat0: math.Sin(lat0),
		cosLat0: math.Cos(lat0),
	}
}

// Center returns the geographic center of the projection.
func (p LocalProjection) Center() orb.Point {
	return p.center
}

// Forward projects a lon/lat point to planar meters.
func (p LocalProjection) Forward(pt orb.Point) orb.Point {
	lat := pt.Lat() * math.Pi / 180
	dLon := pt.Lon()*math.Pi/180 - p.lon0
	sinLat, cosLat := math.Sincos(lat)
	sinDLon, cosDLon := math.Sincos(dLon)

	k := math.Sqrt(2 / (1 + p.sinLat0*sinLat + p.cosLat0*cosLat*cosDLon))
	return orb.Point{
		earthRadius * k * cosLat * sinDLon,
		earthRadius * k * (p.cosLat0*sinLat - p.sinLat0*cosLat*cosDLon),
	}
}

// Inverse maps planar meters back to lon/lat.
func (p LocalProjection) Inverse(pt orb.Point) orb.Point {
	x, y := pt[0], pt[1]
	rho := math.Hypot(x, y)
	if rho == 0 {
		return p.center
	}
	c := 2 * math.Asin(math.Min(1, rho/(2*earthRadius)))
	sinC, cosC := math.Sincos(c)

	lat := math.Asin(cosC*p.sinLat0 + y*sinC*p.cosLat0/rho)
	lon := p.lon0 + math.Atan2(x*sinC, rho*p.cosLat0*cosC-y*p.sinLat0*sinC)
	return orb.Point{normalizeLon(lon * 180 / math.Pi), lat * 180 / math.Pi}
}

// InversePolygon maps every ring of a planar polygon back to lon/lat.
func (p LocalProjection) InversePolygon(poly orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		projected := make(orb.Ring, len(ring))
		for j, pt := range ring {
			projected[j] = p.Inverse(pt)
		}
		out[i] = projected
	}
	return out
}

// MeanCenter is the arithmetic mean of the coordinates.
func MeanCenter(points []orb.Point) orb.Point {
	if len(points) == 0 {
		return orb.Point{}
	}
	var sumX, sumY float64
	for _, pt := range points {
		sumX += pt[0]
		sumY += pt[1]
	}
	n := float64(len(points))
	return orb.Point{sumX / n, sumY / n}
}

func isFinite(pt orb.Point) bool {
	return !math.IsNaN(pt[0]) && !math.IsInf(pt[0], 0) && !math.IsNaN(pt[1]) && !math.IsInf(pt[1], 0)
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
