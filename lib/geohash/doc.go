// Package geohash is the default cell engine of geoKV: base32 geohash codes
// of precision 1 to 12 characters.
//
// A code of n characters carries 5n bits, alternating longitude and latitude
// bits starting with longitude. Precision 1 yields a grid of 8 x 4 cells of
// 45 degrees, every further character divides a cell into 32.
//
// Engine enumerates the codes of the whole earth (AllCells) or of a bounding
// box (CellsForBox) in a fixed order: south to north, west to east, with
// boxes that cross the antimeridian split in two.
package geohash
