package geo

import "math"

// Point is an indexed coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Grid buckets points by tile so neighbours within a fixed radius can be
// found without a full pairwise scan.
type Grid struct {
	zoom   int
	points []Point
	tiles  map[Tile][]int
}

// NewGrid indexes points for radius queries up to radius meters.
func NewGrid(points []Point, radius float64) *Grid {
	maxAbsLat := 0.0
	for _, p := range points {
		maxAbsLat = math.Max(maxAbsLat, math.Abs(p.Lat))
	}

	g := &Grid{
		zoom:   ZoomForDistance(radius, maxAbsLat),
		points: points,
		tiles:  make(map[Tile][]int),
	}
	for i, p := range points {
		t := TileAt(p.Lat, p.Lon, g.zoom)
		g.tiles[t] = append(g.tiles[t], i)
	}
	return g
}

func (g *Grid) Zoom() int {
	return g.zoom
}

// Candidates returns indices of points in the tile of point i and its
// neighbours, excluding i. Callers still check the exact distance.
func (g *Grid) Candidates(i int) []int {
	p := g.points[i]
	var out []int
	for _, t := range TileAt(p.Lat, p.Lon, g.zoom).Adjacent() {
		for _, j := range g.tiles[t] {
			if j != i {
				out = append(out, j)
			}
		}
	}
	return out
}
