package geohash

import (
	"fmt"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// Point is a position in degrees.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.Lng, p.Lat)
}

// Validate checks that the point lies within [-180, 180] x [-90, 90].
func (p Point) Validate() error {
	if !p.latLng().IsValid() {
		return common.WrapError(common.RetCInvalidArgument, nil, "point %s out of range", p)
	}
	return nil
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}

// Box is a bounding box given by its south-west and north-east corners.
// A box with Min.Lng > Max.Lng crosses the antimeridian.
type Box struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// WholeEarth returns the box covering all valid points.
func WholeEarth() Box {
	return Box{Min: Point{Lng: -180, Lat: -90}, Max: Point{Lng: 180, Lat: 90}}
}

func (b Box) String() string {
	return fmt.Sprintf("[%s, %s]", b.Min, b.Max)
}

// Validate checks both corners and that Min is south of Max.
func (b Box) Validate() error {
	if err := b.Min.Validate(); err != nil {
		return err
	}
	if err := b.Max.Validate(); err != nil {
		return err
	}
	if b.Min.Lat > b.Max.Lat {
		return common.WrapError(common.RetCInvalidArgument, nil, "box %s: min latitude above max latitude", b)
	}
	return nil
}

// Center returns the middle of the box, ignoring antimeridian crossing.
func (b Box) Center() Point {
	return Point{Lng: (b.Min.Lng + b.Max.Lng) / 2, Lat: (b.Min.Lat + b.Max.Lat) / 2}
}

// Split splits a box crossing the antimeridian into its eastern and western
// part. Any other box is returned as is.
func (b Box) Split() []Box {
	if b.Min.Lng > b.Max.Lng {
		return []Box{
			{Min: b.Min, Max: Point{Lng: 180, Lat: b.Max.Lat}},
			{Min: Point{Lng: -180, Lat: b.Min.Lat}, Max: b.Max},
		}
	}
	return []Box{b}
}

// Contains reports whether p lies inside the box (borders included).
func (b Box) Contains(p Point) bool {
	return b.rect().ContainsLatLng(p.latLng())
}

func (b Box) rect() s2.Rect {
	return s2.Rect{
		Lat: r1.Interval{Lo: (s1.Angle(b.Min.Lat) * s1.Degree).Radians(), Hi: (s1.Angle(b.Max.Lat) * s1.Degree).Radians()},
		Lng: s1.IntervalFromEndpoints((s1.Angle(b.Min.Lng) * s1.Degree).Radians(), (s1.Angle(b.Max.Lng) * s1.Degree).Radians()),
	}
}
