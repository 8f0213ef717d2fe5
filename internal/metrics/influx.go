// Package metrics records mining results as InfluxDB time series.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/blockmine/internal/mining"
	"github.com/bardlex/blockmine/pkg/errors"
	"github.com/bardlex/blockmine/pkg/log"
	"github.com/bardlex/blockmine/pkg/retry"
)

// Measurement names
const (
	MeasurementBlockMined = "block_mined"
	MeasurementBench      = "mining_bench"
)

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// pointWriter is the part of api.WriteAPIBlocking the recorder uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Recorder is a mining.Sink that writes one point per mined block. Writes
// are synchronous so failures reach the miner's sink log.
type Recorder struct {
	client      influxdb2.Client
	writer      pointWriter
	service     string
	logger      *log.Logger
	retryConfig *retry.Config
}

// NewRecorder connects to InfluxDB and checks its health.
func NewRecorder(ctx context.Context, cfg Config, service string, logger *log.Logger) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := checkHealth(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	return &Recorder{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		service:     service,
		logger:      logger.WithComponent("influx"),
		retryConfig: retry.MetricsConfig(),
	}, nil
}

func checkHealth(ctx context.Context, client influxdb2.Client) error {
	health, err := client.Health(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeMetrics, "influx_health", "failed to check InfluxDB health")
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return errors.Newf(errors.ErrorTypeMetrics, "influx_health", "InfluxDB health check failed: %s", msg)
	}
	return nil
}

// Close releases the InfluxDB client
func (r *Recorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// BlockMined implements mining.Sink.
func (r *Recorder) BlockMined(ctx context.Context, event mining.MinedBlock) error {
	return r.write(ctx, blockMinedPoint(event, r.service))
}

// BenchResult is one timing run of the bench command.
type BenchResult struct {
	Difficulty uint8
	Workers    int
	Blocks     int
	Hashes     uint64
	Elapsed    time.Duration
}

// RecordBench writes a bench timing.
func (r *Recorder) RecordBench(ctx context.Context, res BenchResult) error {
	return r.write(ctx, benchPoint(res, r.service, time.Now()))
}

func (r *Recorder) write(ctx context.Context, p *write.Point) error {
	return retry.Do(ctx, r.retryConfig, func(ctx context.Context) error {
		if err := r.writer.WritePoint(ctx, p); err != nil {
			return errors.Wrap(err, errors.ErrorTypeMetrics, "write_point", "failed to write point").
				WithContext("measurement", p.Name())
		}
		r.logger.Debug("wrote point", "measurement", p.Name())
		return nil
	})
}

func blockMinedPoint(event mining.MinedBlock, service string) *write.Point {
	tags := map[string]string{
		"miner":      service,
		"difficulty": strconv.Itoa(int(event.Difficulty)),
		"workers":    strconv.Itoa(event.Workers),
	}

	fields := map[string]any{
		"generation":  event.Generation,
		"proof":       event.Proof,
		"hashes":      event.Hashes,
		"chunks":      event.Chunks,
		"duration_ms": float64(event.Duration.Nanoseconds()) / 1e6,
		"hashrate":    event.HashRate(),
		"block_hash":  event.Hash.String(),
	}

	return write.NewPoint(MeasurementBlockMined, tags, fields, event.MinedAt)
}

func benchPoint(res BenchResult, service string, at time.Time) *write.Point {
	tags := map[string]string{
		"miner":      service,
		"difficulty": strconv.Itoa(int(res.Difficulty)),
		"workers":    strconv.Itoa(res.Workers),
	}

	fields := map[string]any{
		"blocks":       res.Blocks,
		"hashes":       res.Hashes,
		"elapsed_ms":   float64(res.Elapsed.Nanoseconds()) / 1e6,
		"hashrate":     log.Rate(res.Hashes, res.Elapsed),
		"ms_per_block": msPerBlock(res),
	}

	return write.NewPoint(MeasurementBench, tags, fields, at)
}

func msPerBlock(res BenchResult) float64 {
	if res.Blocks == 0 {
		return 0
	}
	return float64(res.Elapsed.Nanoseconds()) / 1e6 / float64(res.Blocks)
}

func (r BenchResult) String() string {
	return fmt.Sprintf("difficulty=%d workers=%d blocks=%d elapsed=%v", r.Difficulty, r.Workers, r.Blocks, r.Elapsed)
}
