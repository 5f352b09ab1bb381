package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor ids
const (
	IDZstd   = "zstd"
	IDGzip   = "gzip"
	IDZlib   = "zlib"
	IDS2     = "s2"
	IDSnappy = "snappy"
	IDLZ4    = "lz4"
)

func init() {
	Register(IDZstd, newZstd)
	Register(IDGzip, newGzip)
	Register(IDZlib, newZlib)
	Register(IDS2, func(Config) (Compressor, error) { return s2Compressor{}, nil })
	Register(IDSnappy, func(Config) (Compressor, error) { return snappyCompressor{}, nil })
	Register(IDLZ4, func(Config) (Compressor, error) { return lz4Compressor{}, nil })
}

// --------------------------------------------------------------------------
// zstd
// --------------------------------------------------------------------------

type zstdCompressor struct {
	level int
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstd returns a zstd compressor, level follows the zstd command line
// levels (1 = fastest, 3 = default, 19+ = best).
func NewZstd(level int) (Compressor, error) {
	return newZstd(Config{"id": IDZstd, "level": level})
}

func newZstd(cfg Config) (Compressor, error) {
	level, err := intParam(cfg, "level", 3)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{level: level, enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) ID() string { return IDZstd }

func (z *zstdCompressor) Encode(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdCompressor) Decode(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

func (z *zstdCompressor) Config() Config {
	return Config{"id": IDZstd, "level": z.level}
}

// --------------------------------------------------------------------------
// gzip / zlib
// --------------------------------------------------------------------------

type gzipCompressor struct {
	level int
}

// NewGzip returns a gzip compressor (-1 = default level, 1..9).
func NewGzip(level int) (Compressor, error) {
	return newGzip(Config{"id": IDGzip, "level": level})
}

func newGzip(cfg Config) (Compressor, error) {
	level, err := intParam(cfg, "level", gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gzip.NewWriterLevel(io.Discard, level); err != nil {
		return nil, err
	}
	return gzipCompressor{level: level}, nil
}

func (g gzipCompressor) ID() string { return IDGzip }

func (g gzipCompressor) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gzipCompressor) Decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g gzipCompressor) Config() Config {
	return Config{"id": IDGzip, "level": g.level}
}

type zlibCompressor struct {
	level int
}

// NewZlib returns a zlib compressor (-1 = default level, 1..9).
func NewZlib(level int) (Compressor, error) {
	return newZlib(Config{"id": IDZlib, "level": level})
}

func newZlib(cfg Config) (Compressor, error) {
	level, err := intParam(cfg, "level", zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zlib.NewWriterLevel(io.Discard, level); err != nil {
		return nil, err
	}
	return zlibCompressor{level: level}, nil
}

func (z zlibCompressor) ID() string { return IDZlib }

func (z zlibCompressor) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, z.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (z zlibCompressor) Decode(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (z zlibCompressor) Config() Config {
	return Config{"id": IDZlib, "level": z.level}
}

// --------------------------------------------------------------------------
// s2 / snappy
// --------------------------------------------------------------------------

type s2Compressor struct{}

func (s2Compressor) ID() string                        { return IDS2 }
func (s2Compressor) Encode(src []byte) ([]byte, error) { return s2.Encode(nil, src), nil }
func (s2Compressor) Decode(src []byte) ([]byte, error) { return s2.Decode(nil, src) }
func (s2Compressor) Config() Config                    { return Config{"id": IDS2} }

type snappyCompressor struct{}

func (snappyCompressor) ID() string                        { return IDSnappy }
func (snappyCompressor) Encode(src []byte) ([]byte, error) { return snappy.Encode(nil, src), nil }
func (snappyCompressor) Decode(src []byte) ([]byte, error) { return snappy.Decode(nil, src) }
func (snappyCompressor) Config() Config                    { return Config{"id": IDSnappy} }

// --------------------------------------------------------------------------
// lz4
// --------------------------------------------------------------------------

// lz4 blocks carry no length, so the block is prefixed with
// [uncompressed size uint32][compressed size uint32]. A compressed size of 0
// marks incompressible data stored as is.
const lz4HeaderSize = 8

type lz4Compressor struct{}

func (lz4Compressor) ID() string     { return IDLZ4 }
func (lz4Compressor) Config() Config { return Config{"id": IDLZ4} }

func (lz4Compressor) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, lz4HeaderSize+lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst[lz4HeaderSize:], nil)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(dst[0:], uint32(len(src)))
	if n == 0 || n >= len(src) {
		binary.LittleEndian.PutUint32(dst[4:], 0)
		copy(dst[lz4HeaderSize:], src)
		return dst[:lz4HeaderSize+len(src)], nil
	}
	binary.LittleEndian.PutUint32(dst[4:], uint32(n))
	return dst[:lz4HeaderSize+n], nil
}

func (lz4Compressor) Decode(src []byte) ([]byte, error) {
	if len(src) < lz4HeaderSize {
		return nil, errors.New("lz4 block too small for header")
	}
	size := binary.LittleEndian.Uint32(src[0:])
	compressed := binary.LittleEndian.Uint32(src[4:])
	body := src[lz4HeaderSize:]

	if compressed == 0 {
		if uint32(len(body)) != size {
			return nil, errors.New("lz4 raw block size mismatch")
		}
		return append([]byte(nil), body...), nil
	}
	if uint32(len(body)) != compressed {
		return nil, errors.New("lz4 block size mismatch")
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, err
	}
	if uint32(n) != size {
		return nil, errors.New("lz4 decompressed size mismatch")
	}
	return dst, nil
}
