package raster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/i474232898/geodata-aggregation/internal/geo"
)

var (
	// ErrNoData is returned when an AOI yields no valid cells to reduce.
	ErrNoData = errors.New("no valid cells in area of interest")

	// ErrUnsupportedStat is returned for statistic names outside the closed set.
	ErrUnsupportedStat = errors.New("unsupported statistic")

	// ErrBandOutOfRange is returned when the requested band does not exist.
	ErrBandOutOfRange = errors.New("band out of range")
)

// StatName identifies a zonal statistic.
type StatName string

const (
	StatCount  StatName = "count"
	StatSum    StatName = "sum"
	StatMean   StatName = "mean"
	StatMin    StatName = "min"
	StatMax    StatName = "max"
	StatMedian StatName = "median"
	StatStd    StatName = "std"
)

// ParseStats validates statistic names against the closed set. An empty input
// defaults to mean.
func ParseStats(names []string) ([]StatName, error) {
	if len(names) == 0 {
		return []StatName{StatMean}, nil
	}
	out := make([]StatName, 0, len(names))
	for _, name := range names {
		switch s := StatName(name); s {
		case StatCount, StatSum, StatMean, StatMin, StatMax, StatMedian, StatStd:
			out = append(out, s)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedStat, name)
		}
	}
	return out, nil
}

// ZonalOptions controls cell selection and which statistics are computed.
type ZonalOptions struct {
	Stats          []StatName
	Band           int  // 1-based, defaults to 1
	AllTouched     bool // include any cell touched by the AOI, not only centroid-contained
	IncludeNodata  bool
	NodataOverride *float64
}

// ZonalStats reduces the grid cells contributing to the AOI into the requested
// statistics. Cell selection clips the AOI envelope to a cell window; polygon
// AOIs are additionally masked by centroid containment, or by any-touched
// intersection when AllTouched is set. Nodata cells are excluded unless
// IncludeNodata. Zero contributing cells yields ErrNoData, never a zero value.
func ZonalStats(g *Grid, aoi geo.AOI, opts ZonalOptions) (map[StatName]float64, error) {
	band := opts.Band
	if band == 0 {
		band = 1
	}
	if band < 1 || band > g.bands {
		return nil, fmt.Errorf("%w: band %d of %d", ErrBandOutOfRange, band, g.bands)
	}
	stats := opts.Stats
	if len(stats) == 0 {
		stats = []StatName{StatMean}
	}

	values := collectCells(g, aoi, band, opts)
	if len(values) == 0 {
		return nil, ErrNoData
	}

	out := make(map[StatName]float64, len(stats))
	for _, stat := range stats {
		out[stat] = reduce(values, stat)
	}
	return out, nil
}

// PointValue reads the single cell covering the point coordinate.
func PointValue(g *Grid, lon, lat float64, band int) (float64, error) {
	if band == 0 {
		band = 1
	}
	if band < 1 || band > g.bands {
		return 0, fmt.Errorf("%w: band %d of %d", ErrBandOutOfRange, band, g.bands)
	}
	bbox := g.BBox()
	if lon < bbox[0] || lon >= bbox[2] || lat <= bbox[1] || lat > bbox[3] {
		return 0, ErrNoData
	}
	dx, dy := g.CellSize()
	col := int((lon - bbox[0]) / dx)
	row := int((bbox[3] - lat) / dy)
	col = min(col, g.width-1)
	row = min(row, g.height-1)

	v := g.Value(band, row, col)
	if g.IsNodata(v, nil) {
		return 0, ErrNoData
	}
	return v, nil
}

func collectCells(g *Grid, aoi geo.AOI, band int, opts ZonalOptions) []float64 {
	win, ok := g.Window(aoi.BBox())
	if !ok {
		return nil
	}

	var values []float64
	for row := win.Row0; row < win.Row0+win.Rows; row++ {
		for col := win.Col0; col < win.Col0+win.Cols; col++ {
			if !cellContributes(g, aoi, row, col, opts.AllTouched) {
				continue
			}
			v := g.Value(band, row, col)
			if !opts.IncludeNodata && g.IsNodata(v, opts.NodataOverride) {
				continue
			}
			if math.IsNaN(v) {
				continue
			}
			values = append(values, v)
		}
	}
	return values
}

func cellContributes(g *Grid, aoi geo.AOI, row, col int, allTouched bool) bool {
	cx, cy := g.CellCenter(row, col)
	switch aoi.Kind() {
	case geo.KindPolygon:
		if allTouched {
			return cellTouchesPolygon(g, aoi, row, col)
		}
		return aoi.ContainsPoint(cx, cy)
	case geo.KindBBox:
		if allTouched {
			return true // window cells already overlap the bbox
		}
		return aoi.ContainsPoint(cx, cy)
	default:
		return true
	}
}

// cellTouchesPolygon reports whether the cell rectangle intersects the polygon:
// the cell centre or a corner is inside, a polygon vertex is inside the cell,
// or a polygon edge crosses a cell edge.
func cellTouchesPolygon(g *Grid, aoi geo.AOI, row, col int) bool {
	b := g.CellBounds(row, col)

	cx, cy := g.CellCenter(row, col)
	if aoi.ContainsPoint(cx, cy) {
		return true
	}
	corners := [4][2]float64{{b[0], b[1]}, {b[2], b[1]}, {b[2], b[3]}, {b[0], b[3]}}
	for _, c := range corners {
		if aoi.ContainsPoint(c[0], c[1]) {
			return true
		}
	}

	ring := aoi.Ring()
	for _, v := range ring {
		if v[0] >= b[0] && v[0] <= b[2] && v[1] >= b[1] && v[1] <= b[3] {
			return true
		}
	}
	edges := [4][4]float64{
		{b[0], b[1], b[2], b[1]},
		{b[2], b[1], b[2], b[3]},
		{b[2], b[3], b[0], b[3]},
		{b[0], b[3], b[0], b[1]},
	}
	for i := 0; i < len(ring)-1; i++ {
		for _, e := range edges {
			if segmentsIntersect(ring[i][0], ring[i][1], ring[i+1][0], ring[i+1][1], e[0], e[1], e[2], e[3]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy float64) bool {
	d1 := cross(cx, cy, dx, dy, ax, ay)
	d2 := cross(cx, cy, dx, dy, bx, by)
	d3 := cross(ax, ay, bx, by, cx, cy)
	d4 := cross(ax, ay, bx, by, dx, dy)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func cross(ax, ay, bx, by, px, py float64) float64 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func reduce(values []float64, stat StatName) float64 {
	switch stat {
	case StatCount:
		return float64(len(values))
	case StatSum:
		return sum(values)
	case StatMean:
		return sum(values) / float64(len(values))
	case StatMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case StatMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case StatMedian:
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case StatStd:
		// Population standard deviation.
		mean := sum(values) / float64(len(values))
		var ss float64
		for _, v := range values {
			d := v - mean
			ss += d * d
		}
		return math.Sqrt(ss / float64(len(values)))
	}
	return math.NaN()
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}
