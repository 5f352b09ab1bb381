package geohash

import (
	"github.com/ValentinKolb/geoKV/lib/common"
)

// MaxBits is the longest integer hash
const MaxBits = 64

// Integer hashes hold the same bits as string codes, right aligned: a code
// of precision p is the integer hash with 5*p bits. Integer hashes are not
// limited to multiples of five bits.

func checkBits(bits int) error {
	if bits < 1 || bits > MaxBits {
		return common.WrapError(common.RetCInvalidArgument, nil,
			"bit depth %d out of range [1, %d]", bits, MaxBits)
	}
	return nil
}

func checkHash(hash uint64, bits int) error {
	if err := checkBits(bits); err != nil {
		return err
	}
	if bits < MaxBits && hash>>uint(bits) != 0 {
		return common.WrapError(common.RetCInvalidArgument, nil,
			"hash %#x has more than %d bits", hash, bits)
	}
	return nil
}

// EncodeInt returns the integer hash of the cell containing p.
func EncodeInt(p Point, bits int) (uint64, error) {
	if err := checkBits(bits); err != nil {
		return 0, err
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return encodeBits(p, uint(bits)), nil
}

// DecodeInt returns the bounding box of the cell named by an integer hash.
func DecodeInt(hash uint64, bits int) (Box, error) {
	if err := checkHash(hash, bits); err != nil {
		return Box{}, err
	}
	return boundingBox(hash, uint(bits)), nil
}

// NeighborsInt returns the eight cells around hash in the order of
// Neighbors.
func NeighborsInt(hash uint64, bits int) ([]uint64, error) {
	if err := checkHash(hash, bits); err != nil {
		return nil, err
	}
	return neighbors(hash, uint(bits)), nil
}

// CodeToInt converts a string code to its integer hash and bit depth.
func CodeToInt(code string) (hash uint64, bits int, err error) {
	hash, err = fromString(code)
	if err != nil {
		return 0, 0, err
	}
	return hash, len(code) * bitsPerChar, nil
}

// IntToCode converts an integer hash to a string code. The bit depth must be
// a multiple of five.
func IntToCode(hash uint64, bits int) (string, error) {
	if err := checkHash(hash, bits); err != nil {
		return "", err
	}
	if bits%bitsPerChar != 0 || bits/bitsPerChar > MaxPrecision {
		return "", common.WrapError(common.RetCInvalidArgument, nil,
			"bit depth %d is not a string precision", bits)
	}
	return toString(hash, bits/bitsPerChar), nil
}
