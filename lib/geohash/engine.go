package geohash

import (
	"math"

	"github.com/ValentinKolb/geoKV/lib/common"
)

// MaxGridCells bounds the number of codes a single enumeration may return.
const MaxGridCells = 1 << 24

// Engine enumerates geohash cells. The zero value is ready to use.
type Engine struct{}

// AllCells returns every code of the given precision: 32^precision codes.
func (Engine) AllCells(precision int) ([]string, error) {
	return CellsForBox(WholeEarth(), precision)
}

// CellsForBox implements the cell enumeration of Engine.
func (Engine) CellsForBox(box Box, precision int) ([]string, error) {
	return CellsForBox(box, precision)
}

// Validate implements the code validation of Engine.
func (Engine) Validate(code string, precision int) error {
	return Validate(code, precision)
}

// grid describes the cells covering one box that does not cross the
// antimeridian
type grid struct {
	sw       Point // center of the south-west cell
	lngSteps int
	latSteps int
}

func gridFor(box Box, bits uint) grid {
	swBox := boundingBox(encodeBits(box.Min, bits), bits)
	neBox := boundingBox(encodeBits(box.Max, bits), bits)
	lngErr, latErr := cellSize(bits)

	return grid{
		sw:       swBox.Center(),
		lngSteps: int(math.Round((neBox.Min.Lng-swBox.Min.Lng)/lngErr)) + 1,
		latSteps: int(math.Round((neBox.Min.Lat-swBox.Min.Lat)/latErr)) + 1,
	}
}

// CellsForBox returns the codes of all cells intersecting box. Cells are
// ordered row by row from south to north, each row from west to east. A box
// crossing the antimeridian yields the grid of its eastern part followed by
// the grid of its western part.
func CellsForBox(box Box, precision int) ([]string, error) {
	if err := checkPrecision(precision); err != nil {
		return nil, err
	}
	if err := box.Validate(); err != nil {
		return nil, err
	}

	bits := uint(precision * bitsPerChar)
	lngErr, latErr := cellSize(bits)

	parts := box.Split()
	grids := make([]grid, len(parts))
	size := 0
	for i, part := range parts {
		grids[i] = gridFor(part, bits)
		size += grids[i].lngSteps * grids[i].latSteps
	}
	if size > MaxGridCells {
		return nil, common.WrapError(common.RetCInvalidArgument, nil,
			"box %s covers %d cells at precision %d, limit is %d", box, size, precision, MaxGridCells)
	}

	codes := make([]string, 0, size)
	for _, g := range grids {
		for lat := 0; lat < g.latSteps; lat++ {
			for lng := 0; lng < g.lngSteps; lng++ {
				p := Point{
					Lng: g.sw.Lng + float64(lng)*lngErr,
					Lat: g.sw.Lat + float64(lat)*latErr,
				}
				codes = append(codes, toString(encodeBits(p, bits), precision))
			}
		}
	}
	return codes, nil
}
