package storage

import (
	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
)

// ReadOnlyError is returned by every mutation of a handle without FeatureWrite.
func ReadOnlyError(impl Implementation, op string) error {
	return common.WrapError(common.RetCUnsupportedOperation, nil, "%s on read-only %s backend", op, impl)
}

// KeyNotFoundError is returned by Delete of an absent key.
func KeyNotFoundError(key string) error {
	return common.WrapError(common.RetCKeyNotFound, nil, "key %q", key)
}

// DecodeFrame decodes a stored frame. A nil frame (absent key) decodes to an
// empty bucket.
func DecodeFrame(c *codec.Codec, frame []byte) (Bucket, error) {
	if frame == nil {
		return Bucket{}, nil
	}
	return c.Decode(frame)
}

// ExtendFrame appends values to the bucket stored in frame and returns the
// re-encoded frame. The result is encoded with c regardless of the codec the
// old frame was written with.
func ExtendFrame(c *codec.Codec, frame []byte, values Bucket) ([]byte, error) {
	current, err := DecodeFrame(c, frame)
	if err != nil {
		return nil, err
	}
	return c.Encode(append(current, values...))
}

// EncodeItems encodes the buckets of all items before anything is written,
// so an unsupported value fails the whole call.
func EncodeItems(c *codec.Codec, stats *SizeStats, items []Item) ([][]byte, error) {
	frames := make([][]byte, len(items))
	for i, item := range items {
		frame, err := c.Encode(item.Values)
		if err != nil {
			return nil, err
		}
		stats.Record(len(frame))
		frames[i] = frame
	}
	return frames, nil
}
