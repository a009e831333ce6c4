package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-geos"

	"github.com/rpattn/sitepolygons/internal/domain"
)

// TessellationConfig tunes polygon synthesis from points.
type TessellationConfig struct {
	// MarginMeters is added to the radius derived from the estimated area.
	MarginMeters float64
	// ShrinkMeters is the negative buffer that removes slivers between cells.
	ShrinkMeters float64
	// QuadSegments is the number of segments per quarter circle for buffers.
	QuadSegments int
	// EnvelopePadding multiplies the largest radius to pad the Voronoi envelope.
	EnvelopePadding float64
}

// DefaultTessellationConfig returns the production defaults.
func DefaultTessellationConfig() TessellationConfig {
	return TessellationConfig{
		MarginMeters:    0.1,
		ShrinkMeters:    0.01,
		QuadSegments:    16,
		EnvelopePadding: 2,
	}
}

// PointInput is one bare point and the area (hectares) its polygon should cover.
type PointInput struct {
	Point   orb.Point
	EstArea float64
}

// Tessellated is a polygon synthesized for the input at Index.
type Tessellated struct {
	Index   int
	Polygon orb.Polygon
}

// TessellationResult lists the synthesized polygons in input order plus the
// indexes of points that were dropped because their cell was degenerate.
type TessellationResult struct {
	Polygons []Tessellated
	Dropped  []int
}

// Tessellator synthesizes non-overlapping polygons around bare points.
type Tessellator struct {
	cfg TessellationConfig
}

// NewTessellator creates a tessellator, filling unset config values with defaults.
func NewTessellator(cfg TessellationConfig) *Tessellator {
	defaults := DefaultTessellationConfig()
	if cfg.MarginMeters < 0 {
		cfg.MarginMeters = defaults.MarginMeters
	}
	if cfg.ShrinkMeters <= 0 {
		cfg.ShrinkMeters = defaults.ShrinkMeters
	}
	if cfg.QuadSegments <= 0 {
		cfg.QuadSegments = defaults.QuadSegments
	}
	if cfg.EnvelopePadding <= 1 {
		cfg.EnvelopePadding = defaults.EnvelopePadding
	}
	return &Tessellator{cfg: cfg}
}

// Radius returns the buffer radius in meters for an estimated area in hectares.
func (t *Tessellator) Radius(estArea float64) float64 {
	return math.Sqrt(estArea*HectareSquareMeters/math.Pi) + t.cfg.MarginMeters
}

// Tessellate builds one polygon per point: the point's area circle clipped to
// its Voronoi cell, shrunk slightly and reprojected to lon/lat. Points whose
// cell is degenerate or whose clip fails are dropped and reported in Dropped.
func (t *Tessellator) Tessellate(points []PointInput) (TessellationResult, error) {
	result := TessellationResult{Polygons: []Tessellated{}, Dropped: []int{}}
	if len(points) == 0 {
		return result, nil
	}

	coords := make([]orb.Point, len(points))
	for i, p := range points {
		if math.IsNaN(p.EstArea) || p.EstArea < 0 {
			return result, domain.NewValidationError("est_area", "point %d: estimated area must be a non-negative number", i)
		}
		coords[i] = p.Point
	}

	proj := NewLocalProjection(MeanCenter(coords))
	projected := make([]orb.Point, len(points))
	radii := make([]float64, len(points))
	var maxRadius float64
	for i, p := range points {
		q := proj.Forward(p.Point)
		if !isFinite(q) {
			return result, fmt.Errorf("point %d (%v): %w", i, p.Point, domain.ErrNonFiniteCoordinate)
		}
		projected[i] = q
		radii[i] = t.Radius(p.EstArea)
		maxRadius = math.Max(maxRadius, radii[i])
	}

	envelope := paddedEnvelope(projected, maxRadius*t.cfg.EnvelopePadding)
	cells, err := voronoiCells(projected, envelope)
	if err != nil {
		return result, err
	}

	for i := range points {
		cell, ok := cells[i]
		if !ok || vertexCount(cell) < 3 {
			result.Dropped = append(result.Dropped, i)
			continue
		}
		clipped, ok := t.clip(projected[i], radii[i], cell)
		if !ok {
			result.Dropped = append(result.Dropped, i)
			continue
		}
		result.Polygons = append(result.Polygons, Tessellated{Index: i, Polygon: proj.InversePolygon(clipped)})
	}

	return result, nil
}

// clip intersects the area circle with the cell and removes floating point
// slivers with a small negative buffer.
func (t *Tessellator) clip(center orb.Point, radius float64, cell orb.Polygon) (poly orb.Polygon, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			poly, ok = nil, false
		}
	}()

	cellGeom, err := toGEOS(cell)
	if err != nil {
		return nil, false
	}
	centerGeom, err := toGEOS(center)
	if err != nil {
		return nil, false
	}

	circle := centerGeom.Buffer(radius, t.cfg.QuadSegments)
	intersection := circle.Intersection(cellGeom)
	if intersection == nil || intersection.IsEmpty() {
		return nil, false
	}
	shrunk := intersection.Buffer(-t.cfg.ShrinkMeters, t.cfg.QuadSegments)
	if shrunk == nil || shrunk.IsEmpty() {
		return nil, false
	}

	g, err := fromGEOS(shrunk)
	if err != nil {
		return nil, false
	}
	return largestPolygon(g)
}

// voronoiCells assigns each Voronoi cell to the first point it contains.
// Coincident points share a cell, so only the first of them gets one.
func voronoiCells(projected []orb.Point, envelope orb.Polygon) (map[int]orb.Polygon, error) {
	cells := make(map[int]orb.Polygon, len(projected))
	if len(projected) == 1 {
		cells[0] = envelope
		return cells, nil
	}

	collection, err := buildVoronoi(projected, envelope)
	if err != nil {
		return nil, err
	}

	for _, g := range collection {
		cell, ok := g.(orb.Polygon)
		if !ok || len(cell) == 0 {
			continue
		}
		bound := cell.Bound()
		for i, pt := range projected {
			if _, taken := cells[i]; taken {
				continue
			}
			if bound.Contains(pt) && planar.PolygonContains(cell, pt) {
				cells[i] = cell
				break
			}
		}
	}
	return cells, nil
}

func buildVoronoi(projected []orb.Point, envelope orb.Polygon) (cells orb.Collection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("voronoi tessellation failed: %v", r)
		}
	}()

	sites, err := toGEOS(orb.MultiPoint(projected))
	if err != nil {
		return nil, err
	}
	env, err := toGEOS(envelope)
	if err != nil {
		return nil, err
	}

	diagram := sites.VoronoiDiagram(env, 0, false)
	cells = make(orb.Collection, 0, diagram.NumGeometries())
	for i := 0; i < diagram.NumGeometries(); i++ {
		g, err := fromGEOS(diagram.Geometry(i))
		if err != nil {
			return nil, err
		}
		cells = append(cells, g)
	}
	return cells, nil
}

func paddedEnvelope(points []orb.Point, padding float64) orb.Polygon {
	bound := orb.MultiPoint(points).Bound().Pad(padding)
	return orb.Polygon{orb.Ring{
		{bound.Min[0], bound.Min[1]},
		{bound.Max[0], bound.Min[1]},
		{bound.Max[0], bound.Max[1]},
		{bound.Min[0], bound.Max[1]},
		{bound.Min[0], bound.Min[1]},
	}}
}

// vertexCount counts distinct vertices of the exterior ring.
func vertexCount(poly orb.Polygon) int {
	if len(poly) == 0 {
		return 0
	}
	ring := poly[0]
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	return n
}

func largestPolygon(g orb.Geometry) (orb.Polygon, bool) {
	switch typed := g.(type) {
	case orb.Polygon:
		return typed, vertexCount(typed) >= 3
	case orb.MultiPolygon:
		var best orb.Polygon
		var bestArea float64
		for _, part := range typed {
			if area := planar.Area(part); area > bestArea {
				best, bestArea = part, area
			}
		}
		return best, best != nil && vertexCount(best) >= 3
	default:
		return nil, false
	}
}

func toGEOS(g orb.Geometry) (*geos.Geom, error) {
	encoded, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return geos.NewGeomFromGeoJSON(string(encoded))
}

func fromGEOS(g *geos.Geom) (orb.Geometry, error) {
	decoded, err := geojson.UnmarshalGeometry([]byte(g.ToGeoJSON(0)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return decoded.Geometry(), nil
}
