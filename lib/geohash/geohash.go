package geohash

import (
	"math"

	"github.com/ValentinKolb/geoKV/lib/common"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// Alphabet is the geohash base32 alphabet
	Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

	// MaxPrecision is the longest supported code (60 bits)
	MaxPrecision = 12

	bitsPerChar = 5
	exp232      = 4294967296.0 // 2^32
)

var decodeTable = func() (table [256]int8) {
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		table[Alphabet[i]] = int8(i)
	}
	return table
}()

// --------------------------------------------------------------------------
// Bit Helper Functions
// --------------------------------------------------------------------------

// spread moves the 32 bits of x to the even bit positions of the result
func spread(x uint32) uint64 {
	r := uint64(x)
	r = (r | r<<16) & 0x0000FFFF0000FFFF
	r = (r | r<<8) & 0x00FF00FF00FF00FF
	r = (r | r<<4) & 0x0F0F0F0F0F0F0F0F
	r = (r | r<<2) & 0x3333333333333333
	r = (r | r<<1) & 0x5555555555555555
	return r
}

// squash collects the even bits of x into 32 bits
func squash(x uint64) uint32 {
	x &= 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0F0F0F0F0F0F0F0F
	x = (x | x>>4) & 0x00FF00FF00FF00FF
	x = (x | x>>8) & 0x0000FFFF0000FFFF
	x = (x | x>>16) & 0x00000000FFFFFFFF
	return uint32(x)
}

// encodeRange maps x in [-r, r] to [0, 2^32)
func encodeRange(x, r float64) uint32 {
	if x >= r {
		return math.MaxUint32
	}
	if x <= -r {
		return 0
	}
	v := (x + r) / (2 * r) * exp232
	if v >= exp232 {
		// rounding just below r
		return math.MaxUint32
	}
	return uint32(v)
}

func decodeRange(x uint32, r float64) float64 {
	if x == math.MaxUint32 {
		return r
	}
	return 2*r*float64(x)/exp232 - r
}

// encodeBits returns the hash of p with the given number of bits. Longitude
// takes the odd bits, so the first bit of a code is a longitude bit.
func encodeBits(p Point, bits uint) uint64 {
	hash := spread(encodeRange(p.Lat, 90)) | spread(encodeRange(p.Lng, 180))<<1
	return hash >> (64 - bits)
}

// cellSize returns the width and height in degrees of a cell with the given
// number of bits
func cellSize(bits uint) (lng, lat float64) {
	latBits := bits >> 1
	lngBits := bits - latBits
	return 360 / float64(uint64(1)<<lngBits), 180 / float64(uint64(1)<<latBits)
}

func boundingBox(hash uint64, bits uint) Box {
	full := hash << (64 - bits)
	lat := decodeRange(squash(full), 90)
	lng := decodeRange(squash(full>>1), 180)
	lngErr, latErr := cellSize(bits)
	return Box{
		Min: Point{Lng: lng, Lat: lat},
		Max: Point{Lng: lng + lngErr, Lat: lat + latErr},
	}
}

// --------------------------------------------------------------------------
// String Codes
// --------------------------------------------------------------------------

func checkPrecision(precision int) error {
	if precision < 1 || precision > MaxPrecision {
		return common.WrapError(common.RetCInvalidArgument, nil,
			"precision %d out of range [1, %d]", precision, MaxPrecision)
	}
	return nil
}

func toString(hash uint64, precision int) string {
	buf := make([]byte, precision)
	for i := precision - 1; i >= 0; i-- {
		buf[i] = Alphabet[hash&0x1f]
		hash >>= bitsPerChar
	}
	return string(buf)
}

func fromString(code string) (uint64, error) {
	if err := checkPrecision(len(code)); err != nil {
		return 0, err
	}
	var hash uint64
	for i := 0; i < len(code); i++ {
		v := decodeTable[code[i]]
		if v < 0 {
			return 0, common.WrapError(common.RetCInvalidArgument, nil,
				"invalid character %q in code %q", code[i], code)
		}
		hash = hash<<bitsPerChar | uint64(v)
	}
	return hash, nil
}

// Encode returns the code of the cell containing p.
func Encode(p Point, precision int) (string, error) {
	if err := checkPrecision(precision); err != nil {
		return "", err
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	return toString(encodeBits(p, uint(precision*bitsPerChar)), precision), nil
}

// Decode returns the bounding box of the cell named by code.
func Decode(code string) (Box, error) {
	hash, err := fromString(code)
	if err != nil {
		return Box{}, err
	}
	return boundingBox(hash, uint(len(code)*bitsPerChar)), nil
}

// Validate checks that code is a well formed code of the given precision.
func Validate(code string, precision int) error {
	if err := checkPrecision(precision); err != nil {
		return err
	}
	if len(code) != precision {
		return common.WrapError(common.RetCInvalidArgument, nil,
			"code %q has precision %d, expected %d", code, len(code), precision)
	}
	_, err := fromString(code)
	return err
}

// IsCode reports whether key is a valid code of any precision.
func IsCode(key string) bool {
	_, err := fromString(key)
	return err == nil
}

// CellSize returns the width and height in degrees of the cells at a
// precision.
func CellSize(precision int) (lng, lat float64, err error) {
	if err := checkPrecision(precision); err != nil {
		return 0, 0, err
	}
	lng, lat = cellSize(uint(precision * bitsPerChar))
	return lng, lat, nil
}

// Neighbors returns the eight cells around code, clockwise starting in the
// north: N, NE, E, SE, S, SW, W, NW. Longitudes wrap around the
// antimeridian, latitudes are clamped at the poles, so cells at a pole
// repeat themselves.
func Neighbors(code string) ([]string, error) {
	hash, err := fromString(code)
	if err != nil {
		return nil, err
	}
	hashes := neighbors(hash, uint(len(code)*bitsPerChar))
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = toString(h, len(code))
	}
	return out, nil
}

// neighbors returns the hashes around hash in the order of Neighbors
func neighbors(hash uint64, bits uint) []uint64 {
	center := boundingBox(hash, bits).Center()
	dLng, dLat := cellSize(bits)

	offsets := [8][2]float64{
		{0, 1}, {1, 1}, {1, 0}, {1, -1},
		{0, -1}, {-1, -1}, {-1, 0}, {-1, 1},
	}
	out := make([]uint64, len(offsets))
	for i, o := range offsets {
		p := Point{
			Lng: wrapLng(center.Lng + o[0]*dLng),
			Lat: math.Max(-90, math.Min(90, center.Lat+o[1]*dLat)),
		}
		out[i] = encodeBits(p, bits)
	}
	return out
}

func wrapLng(lng float64) float64 {
	for lng >= 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}
