package index

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/geoKV/cmd/util"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/geohash"
	"github.com/ValentinKolb/geoKV/lib/index"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for an index",
		Long: util.WrapString("Runs write and query benchmarks against the configured index. " +
			"Writes go to random cells and are not undone, use a scratch backend."),
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			perfNumThreads = viper.GetInt("threads")
			perfBatchSize = viper.GetInt("batch")
			perfBoxDegrees = viper.GetFloat64("box-size")
			perfSkip = strings.Split(viper.GetString("skip"), ",")
			return openIndex(cmd, args)
		},
		RunE: runPerf,
	}
	perfNumThreads = 10
	perfBatchSize  = 10
	perfBoxDegrees = 10.0
	perfSkip       = make([]string, 0)
)

func init() {
	key := "skip"
	perfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. append,box)"))
	key = "threads"
	perfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "batch"
	perfCmd.Flags().Int(key, 10, util.WrapString("Number of entries per append and update"))
	key = "box-size"
	perfCmd.Flags().Float64(key, 10, util.WrapString("Edge length of the query boxes in degrees"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	perfCmd.Flags().Bool(key, false, util.WrapString("Print the index metrics in Prometheus format after the run"))
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for geoKV indexes")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d, Batch: %d, Box: %.1f°\n", perfNumThreads, perfBatchSize, perfBoxDegrees)
	fmt.Println()

	if !backend.SupportsFeature(storage.FeatureWrite) {
		perfSkip = append(perfSkip, "append", "update")
	}

	cells, err := idx.Keys()
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return fmt.Errorf("index has no cells")
	}
	ctx := cmd.Context()

	fmt.Println("starting tests...")
	results := make(map[string]testing.BenchmarkResult)

	run := func(name string, op func(r *rand.Rand) error) {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				r := rand.New(rand.NewSource(time.Now().UnixNano()))
				for pb.Next() {
					if err := op(r); err != nil {
						log.Warningf("(%s) - %v", name, err)
					}
				}
			})
		})
		results[name] = result
		printResult(name, result)
	}

	batch := func(r *rand.Rand, value any) []index.Entry {
		entries := make([]index.Entry, perfBatchSize)
		for i := range entries {
			entries[i] = index.Entry{Key: cells[r.Intn(len(cells))], Value: value}
		}
		return entries
	}

	run("append", func(r *rand.Rand) error {
		return idx.Append(ctx, batch(r, r.Int63()))
	})
	run("update", func(r *rand.Rand) error {
		return idx.Update(ctx, batch(r, []any{r.Int63()}))
	})
	run("get", func(r *rand.Rand) error {
		_, err := idx.Get(cells[r.Intn(len(cells))])
		return err
	})
	run("box", func(r *rand.Rand) error {
		_, err := idx.Box(randomBox(r))
		return err
	})
	run("box-world", func(r *rand.Rand) error {
		_, err := idx.Box(geohash.WholeEarth())
		return err
	})

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, conf); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	if viper.GetBool("metrics") {
		fmt.Println()
		idx.WriteMetrics(os.Stdout)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

var log = logger.GetLogger(common.LoggerCLI)

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// randomBox returns a box of perfBoxDegrees with a random south west corner
func randomBox(r *rand.Rand) geohash.Box {
	lng := -180 + r.Float64()*(360-perfBoxDegrees)
	lat := -90 + r.Float64()*(180-perfBoxDegrees)
	return geohash.Box{
		Min: geohash.Point{Lng: lng, Lat: lat},
		Max: geohash.Point{Lng: lng + perfBoxDegrees, Lat: lat + perfBoxDegrees},
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.IndexConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Backend", "Precision", "Properties", "LockFile",
		"Threads", "Batch", "BoxDegrees",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := result.NsPerOp() == 0
		if !skipped {
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			strconv.FormatFloat(nsPerOp, 'f', 0, 64),
			time.Duration(nsPerOp).String(),
			strconv.FormatFloat(opsPerSec, 'f', 0, 64),
			strconv.FormatBool(skipped),
			config.Backend,
			strconv.Itoa(idx.Precision()),
			idx.Properties().String(),
			config.LockFile,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfBatchSize),
			strconv.FormatFloat(perfBoxDegrees, 'f', 1, 64),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %v", err)
		}
	}

	return nil
}
