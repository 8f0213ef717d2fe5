package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/blockmine/internal/block"
	"github.com/bardlex/blockmine/internal/metrics"
	"github.com/bardlex/blockmine/internal/mining"
	"github.com/bardlex/blockmine/pkg/log"
)

func newBenchCmd(opts *rootOptions) *cobra.Command {
	var (
		difficulty uint8
		workers    []int
		trials     int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare serial and parallel mining times",
		Long: `
Mines the same --trials blocks serially and then once per worker count, and
prints the elapsed time and hash rate of each run. Runs are written to
InfluxDB when INFLUX_ENABLED is set.

$ blockmine bench --difficulty 18 --workers 1,2,4,8 --trials 4
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if trials < 1 {
				return fmt.Errorf("--trials must be positive, got %d", trials)
			}
			ctx := cmd.Context()

			var recorder *metrics.Recorder
			if opts.cfg.InfluxEnabled {
				var err error
				if recorder, err = opts.influxRecorder(ctx); err != nil {
					return err
				}
				defer recorder.Close()
			}

			blocks := benchBlocks(difficulty, trials)
			results := []metrics.BenchResult{benchSerial(blocks)}

			for _, n := range workers {
				res, err := benchParallel(ctx, opts, blocks, n)
				if err != nil {
					return err
				}
				results = append(results, res)

				if recorder != nil {
					if err := recorder.RecordBench(ctx, res); err != nil {
						opts.logger.WithError(err).Warn("failed to record bench run", "workers", n)
					}
				}
			}

			return printBench(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().Uint8Var(&difficulty, "difficulty", opts.cfg.Difficulty(), "number of trailing zero bits required")
	cmd.Flags().IntSliceVar(&workers, "worker-counts", []int{1, 2, 4, 8}, "worker counts to compare")
	cmd.Flags().IntVar(&trials, "trials", 4, "blocks mined per run")
	return cmd
}

// benchBlocks returns independent blocks so every run searches the same
// candidates regardless of which proofs earlier runs found.
func benchBlocks(difficulty uint8, n int) []*block.Block {
	blocks := make([]*block.Block, n)
	for i := range n {
		blocks[i] = block.New(block.Digest{}, uint64(i), difficulty, "bench "+strconv.Itoa(i))
	}
	return blocks
}

// benchSerial mines blocks on the calling goroutine. Its result reports zero
// workers.
func benchSerial(blocks []*block.Block) metrics.BenchResult {
	res := metrics.BenchResult{Blocks: len(blocks)}
	if len(blocks) > 0 {
		res.Difficulty = blocks[0].Difficulty()
	}

	begin := time.Now()
	for _, b := range blocks {
		res.Hashes += mining.MineSerial(b) + 1
	}
	res.Elapsed = time.Since(begin)
	return res
}

func benchParallel(ctx context.Context, opts *rootOptions, blocks []*block.Block, workers int) (metrics.BenchResult, error) {
	res := metrics.BenchResult{Workers: workers, Blocks: len(blocks)}

	cfg := opts.cfg.Mining()
	cfg.Workers = workers

	counter := mining.SinkFunc(func(_ context.Context, event mining.MinedBlock) error {
		res.Hashes += event.Hashes
		res.Difficulty = event.Difficulty
		return nil
	})
	miner, err := mining.New(cfg, opts.logger, counter)
	if err != nil {
		return res, err
	}

	begin := time.Now()
	for _, b := range blocks {
		if err := miner.Mine(ctx, b.Snapshot()); err != nil {
			return res, err
		}
	}
	res.Elapsed = time.Since(begin)

	opts.logger.LogThroughput("bench", res.Hashes, res.Elapsed)
	return res, nil
}

func printBench(w io.Writer, results []metrics.BenchResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKERS\tBLOCKS\tHASHES\tELAPSED\tMS/BLOCK\tHASH/S")
	for _, res := range results {
		label := strconv.Itoa(res.Workers)
		if res.Workers == 0 {
			label = "serial"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%.1f\t%.0f\n",
			label, res.Blocks, res.Hashes, res.Elapsed.Round(time.Microsecond),
			float64(res.Elapsed.Nanoseconds())/1e6/float64(max(res.Blocks, 1)),
			log.Rate(res.Hashes, res.Elapsed))
	}
	return tw.Flush()
}
