package geo

import (
	"fmt"
	"math"
)

const maxZoom = 20

// Tile is a Web Mercator (slippy map) tile coordinate.
type Tile struct {
	Zoom int
	X    int
	Y    int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// TileAt returns the tile containing the coordinate at the given zoom.
// Latitudes beyond the Mercator limit clamp to the edge rows.
func TileAt(lat, lon float64, zoom int) Tile {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))

	var y int
	switch {
	case lat >= 85.0511:
		y = 0
	case lat <= -85.0511:
		y = int(n) - 1
	default:
		latRad := lat * math.Pi / 180.0
		y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))
	}

	maxTile := int(n) - 1
	x = clamp(x, 0, maxTile)
	y = clamp(y, 0, maxTile)

	return Tile{Zoom: zoom, X: x, Y: y}
}

// Bounds returns the bounding box of a tile (minLat, minLon, maxLat, maxLon).
func (t Tile) Bounds() (minLat, minLon, maxLat, maxLon float64) {
	n := math.Pow(2, float64(t.Zoom))
	minLon = float64(t.X)/n*360.0 - 180.0
	maxLon = float64(t.X+1)/n*360.0 - 180.0

	minLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(t.Y+1)/n)))
	maxLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(t.Y)/n)))
	minLat = minLatRad * 180.0 / math.Pi
	maxLat = maxLatRad * 180.0 / math.Pi
	return
}

// Adjacent returns the tile plus its 8 neighbours. Columns wrap around the
// antimeridian; rows do not wrap over the poles.
func (t Tile) Adjacent() []Tile {
	n := 1 << t.Zoom
	tiles := make([]Tile, 0, 9)
	seen := make(map[Tile]bool, 9)

	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			ny := t.Y + dy
			if ny < 0 || ny >= n {
				continue
			}
			nx := ((t.X+dx)%n + n) % n
			nt := Tile{Zoom: t.Zoom, X: nx, Y: ny}
			if !seen[nt] {
				seen[nt] = true
				tiles = append(tiles, nt)
			}
		}
	}
	return tiles
}

// ZoomForDistance picks the deepest zoom at which a tile is still at least
// twice as wide as distance at latitude maxAbsLat, so every pair of points
// within distance lies in the same or adjacent tiles.
func ZoomForDistance(distance, maxAbsLat float64) int {
	if distance <= 0 {
		distance = 1
	}
	scale := math.Cos(math.Min(math.Abs(maxAbsLat), 90) * math.Pi / 180)
	equator := 2 * math.Pi * EarthRadiusMeters

	zoom := 0
	for zoom < maxZoom {
		width := equator * scale / math.Pow(2, float64(zoom+1))
		if width < 2*distance {
			break
		}
		zoom++
	}
	return zoom
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
