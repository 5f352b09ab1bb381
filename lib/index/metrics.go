package index

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// indexMetrics counts the operations of one index. Every index has its own
// metrics.Set so that several indexes can live in one process.
type indexMetrics struct {
	set *metrics.Set

	updates        *metrics.Counter
	appends        *metrics.Counter
	bucketsWritten *metrics.Counter
	boxQueries     *metrics.Counter
	boxCells       *metrics.Counter
	errors         *metrics.Counter
	boxDuration    *metrics.Histogram
	writeDuration  *metrics.Histogram
}

func newIndexMetrics(backend string) *indexMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`geokv_index_%s{backend=%q}`, metric, backend)
	}
	return &indexMetrics{
		set:            set,
		updates:        set.NewCounter(name("updates_total")),
		appends:        set.NewCounter(name("appends_total")),
		bucketsWritten: set.NewCounter(name("buckets_written_total")),
		boxQueries:     set.NewCounter(name("box_queries_total")),
		boxCells:       set.NewCounter(name("box_cells_total")),
		errors:         set.NewCounter(name("errors_total")),
		boxDuration:    set.NewHistogram(name("box_duration_seconds")),
		writeDuration:  set.NewHistogram(name("write_duration_seconds")),
	}
}

func (m *indexMetrics) observe(h *metrics.Histogram, start time.Time, err error) {
	h.Update(time.Since(start).Seconds())
	if err != nil {
		m.errors.Inc()
	}
}

// WriteMetrics writes the metrics of the index in Prometheus text format.
func (idx *Index) WriteMetrics(w io.Writer) {
	idx.metrics.set.WritePrometheus(w)
}
