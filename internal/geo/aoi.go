package geo

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidAOI is returned when an area-of-interest input is malformed.
	ErrInvalidAOI = errors.New("invalid area of interest")
)

// Kind identifies the AOI variant.
type Kind string

const (
	KindBBox    Kind = "bbox"
	KindPoint   Kind = "point"
	KindPolygon Kind = "polygon"
)

// AOI is the area of interest a statistic is computed over: a bounding box,
// a single point, or a polygon ring in CRS84 coordinates. AOIs are read-only
// inputs; they are validated on construction and never mutated afterwards.
type AOI struct {
	kind  Kind
	bbox  [4]float64
	point [2]float64
	ring  [][2]float64
}

// BBoxAOI builds a bounding-box AOI from [minx, miny, maxx, maxy].
func BBoxAOI(minx, miny, maxx, maxy float64) (AOI, error) {
	if minx >= maxx || miny >= maxy {
		return AOI{}, fmt.Errorf("%w: bbox ordering must be [minx, miny, maxx, maxy]", ErrInvalidAOI)
	}
	return AOI{kind: KindBBox, bbox: [4]float64{minx, miny, maxx, maxy}}, nil
}

// PointAOI builds a point AOI from lon/lat.
func PointAOI(lon, lat float64) (AOI, error) {
	if lat < -90 || lat > 90 {
		return AOI{}, fmt.Errorf("%w: latitude out of range: %v", ErrInvalidAOI, lat)
	}
	return AOI{kind: KindPoint, point: [2]float64{lon, lat}}, nil
}

// PolygonAOI builds a polygon AOI from a coordinate ring. An unclosed ring is
// closed implicitly; rings with fewer than three distinct vertices are rejected.
func PolygonAOI(ring [][2]float64) (AOI, error) {
	if len(ring) >= 2 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return AOI{}, fmt.Errorf("%w: polygon ring needs at least 3 distinct vertices", ErrInvalidAOI)
	}
	closed := make([][2]float64, 0, len(ring)+1)
	closed = append(closed, ring...)
	closed = append(closed, ring[0])
	return AOI{kind: KindPolygon, ring: closed}, nil
}

// Kind returns the AOI variant.
func (a AOI) Kind() Kind { return a.kind }

// IsZero reports whether the AOI was never constructed.
func (a AOI) IsZero() bool { return a.kind == "" }

// Point returns the point coordinates; only meaningful for KindPoint.
func (a AOI) Point() (lon, lat float64) { return a.point[0], a.point[1] }

// Ring returns the closed polygon ring; only meaningful for KindPolygon.
func (a AOI) Ring() [][2]float64 { return a.ring }

// BBox returns the envelope [minx, miny, maxx, maxy] of any AOI variant.
func (a AOI) BBox() [4]float64 {
	switch a.kind {
	case KindBBox:
		return a.bbox
	case KindPoint:
		return [4]float64{a.point[0], a.point[1], a.point[0], a.point[1]}
	case KindPolygon:
		minx, miny := a.ring[0][0], a.ring[0][1]
		maxx, maxy := minx, miny
		for _, c := range a.ring {
			if c[0] < minx {
				minx = c[0]
			}
			if c[0] > maxx {
				maxx = c[0]
			}
			if c[1] < miny {
				miny = c[1]
			}
			if c[1] > maxy {
				maxy = c[1]
			}
		}
		return [4]float64{minx, miny, maxx, maxy}
	}
	return [4]float64{}
}

// ContainsPoint reports whether (x, y) falls inside the AOI. Polygon
// containment uses the even-odd ray casting rule.
func (a AOI) ContainsPoint(x, y float64) bool {
	switch a.kind {
	case KindBBox:
		return x >= a.bbox[0] && x <= a.bbox[2] && y >= a.bbox[1] && y <= a.bbox[3]
	case KindPoint:
		return x == a.point[0] && y == a.point[1]
	case KindPolygon:
		inside := false
		n := len(a.ring) - 1 // ring is closed, skip duplicate last vertex
		j := n - 1
		for i := 0; i < n; i++ {
			xi, yi := a.ring[i][0], a.ring[i][1]
			xj, yj := a.ring[j][0], a.ring[j][1]
			if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
				inside = !inside
			}
			j = i
		}
		return inside
	}
	return false
}

// aoiJSON is the wire shape accepted and produced for AOIs. A bare 4-element
// array is also accepted as a bbox for convenience.
type aoiJSON struct {
	BBox    []float64    `json:"bbox,omitempty"`
	Point   []float64    `json:"point,omitempty"`
	Polygon [][2]float64 `json:"polygon,omitempty"`
}

// ParseAOI decodes an AOI from its JSON input shape.
func ParseAOI(raw json.RawMessage) (AOI, error) {
	if len(raw) == 0 {
		return AOI{}, fmt.Errorf("%w: aoi is required", ErrInvalidAOI)
	}

	var bare []float64
	if err := json.Unmarshal(raw, &bare); err == nil {
		if len(bare) != 4 {
			return AOI{}, fmt.Errorf("%w: bbox array must have 4 elements", ErrInvalidAOI)
		}
		return BBoxAOI(bare[0], bare[1], bare[2], bare[3])
	}

	var obj aoiJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return AOI{}, fmt.Errorf("%w: %v", ErrInvalidAOI, err)
	}

	switch {
	case obj.BBox != nil:
		if len(obj.BBox) != 4 {
			return AOI{}, fmt.Errorf("%w: bbox array must have 4 elements", ErrInvalidAOI)
		}
		return BBoxAOI(obj.BBox[0], obj.BBox[1], obj.BBox[2], obj.BBox[3])
	case obj.Point != nil:
		if len(obj.Point) != 2 {
			return AOI{}, fmt.Errorf("%w: point array must have 2 elements", ErrInvalidAOI)
		}
		return PointAOI(obj.Point[0], obj.Point[1])
	case obj.Polygon != nil:
		return PolygonAOI(obj.Polygon)
	}
	return AOI{}, fmt.Errorf("%w: expected bbox, point or polygon", ErrInvalidAOI)
}

// MarshalJSON renders the AOI in its wire shape.
func (a AOI) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case KindBBox:
		return json.Marshal(aoiJSON{BBox: a.bbox[:]})
	case KindPoint:
		return json.Marshal(aoiJSON{Point: a.point[:]})
	case KindPolygon:
		return json.Marshal(aoiJSON{Polygon: a.ring})
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes the AOI wire shape, validating on the way in.
func (a *AOI) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAOI(data)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
