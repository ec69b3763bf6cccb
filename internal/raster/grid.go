package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrMalformedGrid is returned when a grid payload cannot be decoded.
	ErrMalformedGrid = errors.New("malformed grid payload")
)

// gridMagic prefixes every encoded grid payload.
var gridMagic = [4]byte{'G', 'R', 'D', '1'}

// Grid is a north-up regular raster grid in CRS84. Cells are stored row-major
// per band with row 0 at the northern edge. A dedicated nodata sentinel marks
// cells with no valid measurement; NaN cells are treated as nodata as well.
type Grid struct {
	bbox   [4]float64 // minx, miny, maxx, maxy
	width  int
	height int
	bands  int
	nodata float64
	cells  []float64 // len = bands*height*width
}

// NewGrid allocates a grid with every cell initialised to the nodata value.
func NewGrid(bbox [4]float64, width, height, bands int, nodata float64) (*Grid, error) {
	if width <= 0 || height <= 0 || bands <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive: %dx%dx%d", width, height, bands)
	}
	if bbox[0] >= bbox[2] || bbox[1] >= bbox[3] {
		return nil, fmt.Errorf("invalid grid bbox ordering: %v", bbox)
	}
	cells := make([]float64, bands*height*width)
	for i := range cells {
		cells[i] = nodata
	}
	return &Grid{bbox: bbox, width: width, height: height, bands: bands, nodata: nodata, cells: cells}, nil
}

func (g *Grid) BBox() [4]float64 { return g.bbox }
func (g *Grid) Width() int       { return g.width }
func (g *Grid) Height() int      { return g.height }
func (g *Grid) Bands() int       { return g.bands }
func (g *Grid) Nodata() float64  { return g.nodata }

// CellSize returns the (dx, dy) extent of a single cell.
func (g *Grid) CellSize() (float64, float64) {
	return (g.bbox[2] - g.bbox[0]) / float64(g.width), (g.bbox[3] - g.bbox[1]) / float64(g.height)
}

func (g *Grid) index(band, row, col int) int {
	return (band-1)*g.height*g.width + row*g.width + col
}

// Value returns the cell value for a 1-based band and 0-based row/col.
func (g *Grid) Value(band, row, col int) float64 {
	return g.cells[g.index(band, row, col)]
}

// SetValue assigns a cell value for a 1-based band and 0-based row/col.
func (g *Grid) SetValue(band, row, col int, v float64) {
	g.cells[g.index(band, row, col)] = v
}

// IsNodata reports whether v is the grid's nodata sentinel. NaN always counts.
func (g *Grid) IsNodata(v float64, override *float64) bool {
	if math.IsNaN(v) {
		return true
	}
	sentinel := g.nodata
	if override != nil {
		sentinel = *override
	}
	return v == sentinel
}

// CellCenter returns the centroid coordinates of a cell.
func (g *Grid) CellCenter(row, col int) (x, y float64) {
	dx, dy := g.CellSize()
	return g.bbox[0] + (float64(col)+0.5)*dx, g.bbox[3] - (float64(row)+0.5)*dy
}

// CellBounds returns the [minx, miny, maxx, maxy] extent of a cell.
func (g *Grid) CellBounds(row, col int) [4]float64 {
	dx, dy := g.CellSize()
	minx := g.bbox[0] + float64(col)*dx
	maxy := g.bbox[3] - float64(row)*dy
	return [4]float64{minx, maxy - dy, minx + dx, maxy}
}

// Window is a rectangular block of cell indices within a grid.
type Window struct {
	Row0, Col0 int // top-left cell (inclusive)
	Rows, Cols int
}

// Window maps a CRS84 bbox onto the block of cells it overlaps, clipped to the
// grid extent. The second return value is false when the bbox and grid are
// fully disjoint.
func (g *Grid) Window(bbox [4]float64) (Window, bool) {
	if bbox[0] >= g.bbox[2] || bbox[2] <= g.bbox[0] || bbox[1] >= g.bbox[3] || bbox[3] <= g.bbox[1] {
		return Window{}, false
	}
	dx, dy := g.CellSize()

	col0 := int(math.Floor((bbox[0] - g.bbox[0]) / dx))
	col1 := int(math.Ceil((bbox[2] - g.bbox[0]) / dx))
	row0 := int(math.Floor((g.bbox[3] - bbox[3]) / dy))
	row1 := int(math.Ceil((g.bbox[3] - bbox[1]) / dy))

	col0 = max(col0, 0)
	row0 = max(row0, 0)
	col1 = min(col1, g.width)
	row1 = min(row1, g.height)
	if col1 <= col0 || row1 <= row0 {
		return Window{}, false
	}
	return Window{Row0: row0, Col0: col0, Rows: row1 - row0, Cols: col1 - col0}, true
}

// Encode serialises the grid into its cache/wire byte format: the "GRD1" magic,
// a fixed header, then band-major little-endian float64 cells.
func (g *Grid) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+3*4+5*8+len(g.cells)*8))
	buf.Write(gridMagic[:])
	binary.Write(buf, binary.LittleEndian, uint32(g.width))
	binary.Write(buf, binary.LittleEndian, uint32(g.height))
	binary.Write(buf, binary.LittleEndian, uint32(g.bands))
	binary.Write(buf, binary.LittleEndian, g.bbox)
	binary.Write(buf, binary.LittleEndian, g.nodata)
	binary.Write(buf, binary.LittleEndian, g.cells)
	return buf.Bytes()
}

// DecodeGrid parses an encoded grid payload, rejecting truncated or
// inconsistent input with ErrMalformedGrid.
func DecodeGrid(data []byte) (*Grid, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != gridMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedGrid)
	}

	var width, height, bands uint32
	var bbox [4]float64
	var nodata float64
	for _, dst := range []any{&width, &height, &bands, &bbox, &nodata} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedGrid)
		}
	}
	if width == 0 || height == 0 || bands == 0 || bbox[0] >= bbox[2] || bbox[1] >= bbox[3] {
		return nil, fmt.Errorf("%w: inconsistent header", ErrMalformedGrid)
	}

	n := int(bands) * int(height) * int(width)
	if r.Len() != n*8 {
		return nil, fmt.Errorf("%w: expected %d cells, have %d bytes", ErrMalformedGrid, n, r.Len())
	}
	cells := make([]float64, n)
	if err := binary.Read(r, binary.LittleEndian, cells); err != nil {
		return nil, fmt.Errorf("%w: truncated cells", ErrMalformedGrid)
	}

	return &Grid{
		bbox:   bbox,
		width:  int(width),
		height: int(height),
		bands:  int(bands),
		nodata: nodata,
		cells:  cells,
	}, nil
}
