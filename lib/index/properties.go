package index

import (
	"fmt"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
)

// PropertiesKey is the reserved key of the properties record. It cannot
// collide with a cell code since '.' is not part of the geohash alphabet.
const PropertiesKey = ".properties"

// Properties is the index metadata written once by Initialize.
type Properties struct {
	Precision  int          `json:"precision"`
	Compressor codec.Config `json:"compressor"`
}

func (p Properties) String() string {
	compressor := "none"
	if p.Compressor != nil {
		compressor = p.Compressor.ID()
	}
	return fmt.Sprintf("precision=%d compressor=%s", p.Precision, compressor)
}

// bucket returns the record as stored: a bucket with one mapping
func (p Properties) bucket() storage.Bucket {
	var compressor any
	if p.Compressor != nil {
		compressor = map[string]any(p.Compressor)
	}
	return storage.Bucket{map[string]any{
		"precision":  int64(p.Precision),
		"compressor": compressor,
	}}
}

func corruptProperties(format string, args ...interface{}) error {
	return common.WrapError(common.RetCCorruption, nil, "properties record: "+format, args...)
}

// parseProperties reads a record written by bucket
func parseProperties(b storage.Bucket) (Properties, error) {
	if len(b) != 1 {
		return Properties{}, corruptProperties("expected one value, got %d", len(b))
	}
	record, ok := b[0].(map[string]any)
	if !ok {
		return Properties{}, corruptProperties("expected a mapping, got %T", b[0])
	}

	var props Properties
	switch p := record["precision"].(type) {
	case int64:
		props.Precision = int(p)
	case uint64:
		props.Precision = int(p)
	default:
		return Properties{}, corruptProperties("precision has type %T", record["precision"])
	}
	if props.Precision < 1 {
		return Properties{}, corruptProperties("precision %d", props.Precision)
	}

	switch c := record["compressor"].(type) {
	case nil:
	case map[string]any:
		props.Compressor = codec.Config(c)
	default:
		return Properties{}, corruptProperties("compressor has type %T", c)
	}
	return props, nil
}
