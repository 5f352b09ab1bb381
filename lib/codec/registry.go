package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/geoKV/lib/common"
)

var registry = struct {
	sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

// Register makes a compressor available to GetCompressor and to frame
// decoding under the given id. Registering an id twice replaces the factory.
func Register(id string, factory Factory) {
	registry.Lock()
	defer registry.Unlock()
	registry.factories[id] = factory
}

// GetCompressor rebuilds a compressor from its config.
// A nil or empty config means "no compression" and returns (nil, nil).
func GetCompressor(cfg Config) (Compressor, error) {
	if len(cfg) == 0 {
		return nil, nil
	}
	id := cfg.ID()
	registry.RLock()
	factory, ok := registry.factories[id]
	registry.RUnlock()
	if !ok {
		return nil, common.NewError(common.RetCInvalidArgument, fmt.Sprintf("unknown compressor %q", id))
	}
	return factory(cfg)
}

// ByName returns a compressor with default parameters, "" and "none" yield nil.
func ByName(name string, level int) (Compressor, error) {
	if name == "" || name == "none" {
		return nil, nil
	}
	cfg := Config{"id": name}
	if level != 0 {
		cfg["level"] = level
	}
	return GetCompressor(cfg)
}

// Registered returns the sorted ids of all known compressors.
func Registered() []string {
	registry.RLock()
	defer registry.RUnlock()
	ids := make([]string, 0, len(registry.factories))
	for id := range registry.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// intParam reads an integer parameter regardless of the numeric type it was
// decoded as.
func intParam(cfg Config, key string, def int) (int, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, common.NewError(common.RetCInvalidArgument, fmt.Sprintf("compressor parameter %q must be a number, got %T", key, v))
	}
}
