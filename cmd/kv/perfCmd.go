package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dCloud/cmd/util"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dCloud nodes",
		Long:    "Runs benchmarks against the admin API of a node. Every request is forwarded by the node to the home of the key, so the results include the cloud round trips.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             []string
)

// benchmark is a single perf test. seed stores a value under every key before
// the timer starts, op runs once per iteration.
type benchmark struct {
	name string
	seed bool
	op   func(ctx context.Context, counter int, key string) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "key-spread"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("key-spread"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = util.SplitList(viper.GetString("skip"))

	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	small := []byte("test")
	large := make([]byte, perfLargeValueSizeKB*1024)

	benchmarks := []benchmark{
		{name: "put", op: func(ctx context.Context, _ int, key string) error {
			_, _, err := adminClient.Put(ctx, key, small)
			return err
		}},
		{name: "put-large", op: func(ctx context.Context, _ int, key string) error {
			_, _, err := adminClient.Put(ctx, key, large)
			return err
		}},
		{name: "get", seed: true, op: func(ctx context.Context, _ int, key string) error {
			_, _, err := adminClient.Get(ctx, key)
			return err
		}},
		{name: "get-miss", op: func(ctx context.Context, _ int, key string) error {
			_, _, err := adminClient.Get(ctx, key)
			return err
		}},
		{name: "put-if-absent", seed: true, op: func(ctx context.Context, _ int, key string) error {
			_, _, err := adminClient.PutIfAbsent(ctx, key, small)
			return err
		}},
		{name: "delete", seed: true, op: func(ctx context.Context, _ int, key string) error {
			_, _, err := adminClient.Delete(ctx, key)
			return err
		}},
		{name: "mixed", seed: true, op: func(ctx context.Context, counter int, key string) (err error) {
			switch counter % 3 {
			case 0:
				_, _, err = adminClient.Put(ctx, key, small)
			case 1:
				_, _, err = adminClient.Get(ctx, key)
			case 2:
				_, _, err = adminClient.Delete(ctx, key)
			}
			return err
		}},
	}

	fmt.Println("Performance testing tool for dCloud nodes")

	// Print configuration
	config := util.GetClientConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Endpoint: %s, Timeout: %s, Retries: %d\n", config.Endpoint, config.Timeout, config.Retries)
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	if err := adminClient.Health(ctx); err != nil {
		return fmt.Errorf("node is not healthy: %w", err)
	}

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		results[bm.name] = runBenchmark(ctx, bm)
		printResult(bm.name, results[bm.name])
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark runs bm with perfNumThreads goroutines per CPU over its own key set
func runBenchmark(ctx context.Context, bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if slices.Contains(perfSkip, bm.name) {
			return
		}

		// prepare keys
		getKey, iter := getKeys(bm.name)

		if bm.seed {
			iter(func(k string) {
				if _, _, err := adminClient.Put(ctx, k, []byte("test")); err != nil {
					log.Printf("(%s) - error setting key: %v\n", bm.name, err)
				}
			})
		}

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, _, err := adminClient.Delete(ctx, k); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", bm.name, err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := bm.op(ctx, counter, getKey(counter)); err != nil {
					log.Printf("(%s) - error performing operation: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// opsPerSecond converts a result to ns/op and ops/sec, zero for skipped tests
func opsPerSecond(result testing.BenchmarkResult) (nsPerOp, opsPerSec float64) {
	if result.NsPerOp() == 0 {
		return 0, 0
	}
	nsPerOp = math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	return nsPerOp, 1.0 / (nsPerOp / 1e9)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	nsPerOp, opsPerSec := opsPerSecond(result)
	if nsPerOp == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Timeout", "Retries",
		"Threads", "LargeValueSizeKB", "KeySpread",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		nsPerOp, opsPerSec := opsPerSecond(result)
		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(nsPerOp == 0),
			config.Endpoint,
			config.Timeout.String(),
			strconv.Itoa(config.Retries),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return writer.Error()
}
