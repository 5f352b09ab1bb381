package util

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/geohash"
	"github.com/ValentinKolb/geoKV/lib/lockmgr"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/bolt"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/memory"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/pebble"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/sqlite"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and binds GEOKV_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("geokv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetupStorageFlags adds the flags that select and configure a backend
func SetupStorageFlags(cmd *cobra.Command) {
	key := "backend"
	cmd.PersistentFlags().String(key, "sqlite", WrapString("Storage backend (memory, sqlite, bolt, pebble)"))

	key = "path"
	cmd.PersistentFlags().String(key, "geokv.db", WrapString("Path of the database file (sqlite, bolt) or directory (pebble)"))

	key = "read-only"
	cmd.PersistentFlags().Bool(key, false, WrapString("Open the backend read-only, write commands fail"))

	key = "snapshot"
	cmd.PersistentFlags().Bool(key, false, WrapString("Read from a snapshot of the backend, so that a running writer is not blocked (pebble only)"))

	key = "lock-file"
	cmd.PersistentFlags().String(key, "", WrapString("Path of a lock file that serializes writers across processes (empty = no lock)"))

	key = "lock-timeout"
	cmd.PersistentFlags().Duration(key, 0, WrapString("How long to wait for the lock file (0 = forever)"))

	key = "bolt-lock-timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Millisecond, WrapString("How long bolt waits for its file lock"))

	key = "sqlite-busy-timeout"
	cmd.PersistentFlags().Duration(key, 5*time.Second, WrapString("How long sqlite waits for a lock held by another connection"))

	key = "pebble-cache-mib"
	cmd.PersistentFlags().Int(key, 8, WrapString("Size of the pebble block cache in MiB"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Level at which logs will be output (debug, info, warn, error)"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetIndexConfig reads the index configuration from viper
func GetIndexConfig() *common.IndexConfig {
	return &common.IndexConfig{
		Backend:            viper.GetString("backend"),
		Path:               viper.GetString("path"),
		Precision:          viper.GetInt("precision"),
		Compressor:         viper.GetString("compressor"),
		CompressionLevel:   viper.GetInt("compression-level"),
		ReadOnly:           viper.GetBool("read-only"),
		Snapshot:           viper.GetBool("snapshot"),
		LockFile:           viper.GetString("lock-file"),
		LockTimeout:        viper.GetDuration("lock-timeout"),
		BoltLockTimeout:    viper.GetDuration("bolt-lock-timeout"),
		SQLiteBusyTimeout:  viper.GetDuration("sqlite-busy-timeout"),
		PebbleCacheSizeMiB: viper.GetInt("pebble-cache-mib"),
		LogLevel:           viper.GetString("log-level"),
	}
}

// --------------------------------------------------------------------------
// Factories
// --------------------------------------------------------------------------

// OpenBackend opens the backend described by conf
func OpenBackend(conf *common.IndexConfig) (storage.Backend, error) {
	if conf.Snapshot {
		if conf.Backend != string(storage.ImplPebble) {
			return nil, fmt.Errorf("snapshots are only supported for pebble, not %s", conf.Backend)
		}
		snap, err := pebble.OpenSnapshot(conf.Path, &pebble.Options{CacheSize: int64(conf.PebbleCacheSizeMiB) << 20})
		if err != nil {
			return nil, err
		}
		return snap, nil
	}

	switch storage.Implementation(conf.Backend) {
	case storage.ImplMemory:
		return memory.NewMemoryDB(nil), nil
	case storage.ImplSQLite:
		return sqlite.Open(conf.Path, &sqlite.Options{
			ReadOnly:    conf.ReadOnly,
			BusyTimeout: conf.SQLiteBusyTimeout,
		})
	case storage.ImplBolt:
		return bolt.Open(conf.Path, &bolt.Options{
			ReadOnly:    conf.ReadOnly,
			LockTimeout: conf.BoltLockTimeout,
		})
	case storage.ImplPebble:
		return pebble.Open(conf.Path, &pebble.Options{
			ReadOnly:  conf.ReadOnly,
			CacheSize: int64(conf.PebbleCacheSizeMiB) << 20,
		})
	default:
		return nil, fmt.Errorf("invalid backend %s", conf.Backend)
	}
}

// GetSynchronizer returns a process synchronizer for the configured lock
// file. Without a lock file, writers are only serialized within this process.
func GetSynchronizer(conf *common.IndexConfig) lockmgr.Synchronizer {
	if conf.LockFile == "" {
		return lockmgr.NewThreadSynchronizer()
	}
	return lockmgr.NewProcessSynchronizer(conf.LockFile, &lockmgr.ProcessOptions{Timeout: conf.LockTimeout})
}

// --------------------------------------------------------------------------
// Argument parsing
// --------------------------------------------------------------------------

// ParseValue parses a JSON literal. Anything that is not valid JSON is
// taken as a plain string, so that `append u Berlin` works without quotes.
func ParseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// ParseBox parses "minLng,minLat,maxLng,maxLat"
func ParseBox(arg string) (geohash.Box, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 4 {
		return geohash.Box{}, fmt.Errorf("invalid box %q (expected minLng,minLat,maxLng,maxLat)", arg)
	}
	var coords [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return geohash.Box{}, fmt.Errorf("invalid coordinate %q: %w", part, err)
		}
		coords[i] = f
	}
	return geohash.Box{
		Min: geohash.Point{Lng: coords[0], Lat: coords[1]},
		Max: geohash.Point{Lng: coords[2], Lat: coords[3]},
	}, nil
}

// FormatValue renders a decoded value as JSON
func FormatValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
