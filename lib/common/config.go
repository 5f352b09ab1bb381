package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Index configuration struct
// --------------------------------------------------------------------------

// IndexConfig holds everything needed to open a backend and bind an index to it.
type IndexConfig struct {
	// Backend is the storage implementation (memory, sqlite, bolt, pebble)
	Backend string
	// Path of the database file or directory (ignored for memory)
	Path string

	// Index parameters (only used when initializing)
	Precision        int
	Compressor       string
	CompressionLevel int

	// Access mode
	ReadOnly bool
	Snapshot bool

	// LockFile is the path of a process synchronizer lock (empty = none)
	LockFile    string
	LockTimeout time.Duration

	// Engine parameters
	BoltLockTimeout    time.Duration
	SQLiteBusyTimeout  time.Duration
	PebbleCacheSizeMiB int

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *IndexConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Backend", c.Backend)
	addField("Path", c.Path)
	addField("Read Only", fmt.Sprintf("%t", c.ReadOnly))
	addField("Snapshot", fmt.Sprintf("%t", c.Snapshot))

	switch c.Backend {
	case "bolt":
		addField("Lock Timeout", c.BoltLockTimeout.String())
	case "sqlite":
		addField("Busy Timeout", c.SQLiteBusyTimeout.String())
	case "pebble":
		addField("Cache Size", fmt.Sprintf("%d MiB", c.PebbleCacheSizeMiB))
	}

	addSection("Index")
	addField("Precision", fmt.Sprintf("%d", c.Precision))
	compressor := c.Compressor
	if compressor == "" {
		compressor = "none"
	}
	addField("Compressor", compressor)
	if c.CompressionLevel != 0 {
		addField("Compression Level", fmt.Sprintf("%d", c.CompressionLevel))
	}

	addSection("Synchronization")
	if c.LockFile == "" {
		addField("Lock File", "none")
	} else {
		addField("Lock File", c.LockFile)
		addField("Lock Timeout", c.LockTimeout.String())
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
