// Package codec serializes buckets, i.e. ordered sequences of application
// values, into self-describing byte frames and back.
//
// Values are encoded with msgpack (github.com/tinylib/msgp). The payload can
// optionally be compressed by a Compressor. The built-in compressors are
// zstd, gzip, zlib, s2 (github.com/klauspost/compress), snappy
// (github.com/golang/snappy) and lz4 (github.com/pierrec/lz4/v4). Additional
// compressors can be added with Register.
//
// A compressor is described by a Config, e.g. {"id": "zstd", "level": 3}.
// Configs are what an index persists in its properties record; GetCompressor
// turns them back into a Compressor.
//
// Decoded values use msgpack's canonical Go types: integers come back as
// int64 (unsigned values above 127 as uint64), maps as map[string]any and
// arrays as []any.
//
// Usage Example:
//
//	zstd, _ := codec.NewZstd(3)
//	c := codec.New(zstd)
//	frame, err := c.Encode([]any{"a", 1, 2.5})
//	values, err := c.Decode(frame) // []any{"a", int64(1), 2.5}
package codec
