package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/tinylib/msgp/msgp"
)

// --------------------------------------------------------------------------
// Frame Layout
// --------------------------------------------------------------------------

// Every encoded bucket is a frame:
//
//	magic "GK" | version | flags | [id length | compressor id] | uvarint payload length | payload
//
// The payload is a msgpack array of the bucket values, compressed when
// flagCompressed is set. The compressor id makes frames self-describing, a
// codec can decode frames written with any registered compressor.
const (
	magic0       byte = 'G'
	magic1       byte = 'K'
	frameVersion byte = 1

	flagCompressed byte = 1 << 0
	knownFlags          = flagCompressed
)

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Codec turns an ordered sequence of values into a frame and back.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	compressor Compressor
}

// New returns a codec compressing its payload with c (nil = no compression).
func New(c Compressor) *Codec {
	return &Codec{compressor: c}
}

var defaultCodec = New(nil)

// Default returns the shared uncompressed codec.
func Default() *Codec {
	return defaultCodec
}

// Compressor returns the compressor used for encoding, nil if none.
func (c *Codec) Compressor() Compressor {
	if c == nil {
		return nil
	}
	return c.compressor
}

// Encode serializes values into a frame.
// Supported value types are those of msgp.AppendIntf: nil, bool, numbers,
// strings, []byte, []any, map[string]any and slices of these.
func (c *Codec) Encode(values []any) ([]byte, error) {
	payload := msgp.AppendArrayHeader(make([]byte, 0, 16*len(values)+8), uint32(len(values)))
	for i, v := range values {
		var err error
		payload, err = msgp.AppendIntf(payload, v)
		if err != nil {
			return nil, common.WrapError(common.RetCInvalidArgument, err, "cannot serialize value %d of type %T", i, v)
		}
	}

	flags := byte(0)
	var id string
	if comp := c.Compressor(); comp != nil {
		compressed, err := comp.Encode(payload)
		if err != nil {
			return nil, common.WrapError(common.RetCInternalError, err, "%s compression failed", comp.ID())
		}
		payload = compressed
		id = comp.ID()
		flags |= flagCompressed
		if len(id) > 255 {
			return nil, common.NewError(common.RetCInvalidArgument, fmt.Sprintf("compressor id %q too long", id))
		}
	}

	frame := make([]byte, 0, 4+1+len(id)+binary.MaxVarintLen64+len(payload))
	frame = append(frame, magic0, magic1, frameVersion, flags)
	if flags&flagCompressed != 0 {
		frame = append(frame, byte(len(id)))
		frame = append(frame, id...)
	}
	frame = binary.AppendUvarint(frame, uint64(len(payload)))
	frame = append(frame, payload...)
	return frame, nil
}

// Decode parses a frame produced by Encode. Any framing, decompression or
// msgpack error is reported as common.ErrCorruption.
func (c *Codec) Decode(data []byte) ([]any, error) {
	if len(data) < 4 {
		return nil, corrupt("frame too short (%d bytes)", len(data))
	}
	if data[0] != magic0 || data[1] != magic1 {
		return nil, corrupt("bad magic %#x %#x", data[0], data[1])
	}
	if data[2] != frameVersion {
		return nil, corrupt("unsupported frame version %d", data[2])
	}
	flags := data[3]
	if flags&^knownFlags != 0 {
		return nil, corrupt("unknown flags %#x", flags)
	}
	pos := 4

	var comp Compressor
	if flags&flagCompressed != 0 {
		if pos >= len(data) {
			return nil, corrupt("missing compressor id")
		}
		idLen := int(data[pos])
		pos++
		if pos+idLen > len(data) {
			return nil, corrupt("truncated compressor id")
		}
		id := string(data[pos : pos+idLen])
		pos += idLen

		var err error
		comp, err = c.compressorFor(id)
		if err != nil {
			return nil, common.WrapError(common.RetCCorruption, err, "cannot decompress frame")
		}
	}

	size, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return nil, corrupt("bad payload length")
	}
	pos += n
	if uint64(len(data)-pos) != size {
		return nil, corrupt("payload length %d does not match %d remaining bytes", size, len(data)-pos)
	}
	payload := data[pos:]

	if comp != nil {
		var err error
		payload, err = comp.Decode(payload)
		if err != nil {
			return nil, common.WrapError(common.RetCCorruption, err, "%s decompression failed", comp.ID())
		}
	}

	// walk the whole payload once without allocating, so that a forged
	// container header is rejected before anything is sized by it
	if tail, err := msgp.Skip(payload); err != nil {
		return nil, common.WrapError(common.RetCCorruption, err, "malformed payload")
	} else if len(tail) != 0 {
		return nil, corrupt("%d trailing bytes after payload", len(tail))
	}

	count, rest, err := msgp.ReadArrayHeaderBytes(payload)
	if err != nil {
		return nil, common.WrapError(common.RetCCorruption, err, "payload is not an array")
	}
	// every value takes at least one byte
	if uint64(count) > uint64(len(rest)) {
		return nil, corrupt("array of %d values in %d bytes", count, len(rest))
	}
	values := make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		var v any
		v, rest, err = msgp.ReadIntfBytes(rest)
		if err != nil {
			return nil, common.WrapError(common.RetCCorruption, err, "cannot read value %d", i)
		}
		values = append(values, v)
	}
	if len(rest) != 0 {
		return nil, corrupt("%d trailing bytes after payload", len(rest))
	}
	return values, nil
}

// compressorFor returns the compressor that wrote a frame with the given id.
// The codec's own compressor is preferred since it is already built.
func (c *Codec) compressorFor(id string) (Compressor, error) {
	if comp := c.Compressor(); comp != nil && comp.ID() == id {
		return comp, nil
	}
	return GetCompressor(Config{"id": id})
}

func corrupt(format string, args ...interface{}) error {
	return common.NewError(common.RetCCorruption, fmt.Sprintf(format, args...))
}
