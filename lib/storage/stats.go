package storage

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// sampleSize is the reservoir size of the size histograms.
const sampleSize = 1028

// SizeStats tracks the encoded size of written buckets. Backends report it in
// the Metadata of GetInfo, since exact sizes would require a full scan.
//
// Thread-safety: all methods are safe for concurrent use.
type SizeStats struct {
	sizes   gometrics.Histogram
	written gometrics.Counter
}

// NewSizeStats creates empty statistics.
func NewSizeStats() *SizeStats {
	return &SizeStats{
		sizes:   gometrics.NewHistogram(gometrics.NewUniformSample(sampleSize)),
		written: gometrics.NewCounter(),
	}
}

// Record registers one encoded bucket of n bytes.
func (s *SizeStats) Record(n int) {
	s.sizes.Update(int64(n))
	s.written.Inc(int64(n))
}

// Stats is the serializable summary of a SizeStats.
type Stats struct {
	Writes       int64   `json:"writes"`
	BytesWritten int64   `json:"bytes_written"`
	Min          int64   `json:"min"`
	Max          int64   `json:"max"`
	Mean         float64 `json:"mean"`
	StdDeviation float64 `json:"std_deviation"`
	P99          float64 `json:"p99"`
}

// Summary returns the current statistics.
func (s *SizeStats) Summary() Stats {
	snap := s.sizes.Snapshot()
	return Stats{
		Writes:       snap.Count(),
		BytesWritten: s.written.Count(),
		Min:          snap.Min(),
		Max:          snap.Max(),
		Mean:         snap.Mean(),
		StdDeviation: snap.StdDev(),
		P99:          snap.Percentile(0.99),
	}
}
