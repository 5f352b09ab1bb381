package codec

// Config describes a compressor well enough to rebuild it later. It always
// carries the compressor id under the key "id"; the remaining keys are
// compressor specific parameters (e.g. "level").
//
// Configs are persisted with msgpack, so numeric parameters may come back as
// int64, uint64 or float64. Factories must accept all of them.
type Config map[string]any

// ID returns the compressor id of the config or "" if it is missing.
func (c Config) ID() string {
	id, _ := c["id"].(string)
	return id
}

// Compressor is a symmetric byte transformation applied to serialized buckets.
// Implementations must be safe for concurrent use.
type Compressor interface {
	// ID returns the stable identifier used in frames and configs.
	ID() string
	// Encode compresses src.
	Encode(src []byte) ([]byte, error)
	// Decode reverses Encode.
	Decode(src []byte) ([]byte, error)
	// Config returns the descriptor needed to rebuild this compressor.
	Config() Config
}

// Factory builds a compressor from its config.
type Factory func(cfg Config) (Compressor, error)
