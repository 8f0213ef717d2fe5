package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/blockmine/internal/config"
	"github.com/bardlex/blockmine/internal/messaging"
	"github.com/bardlex/blockmine/internal/metrics"
	"github.com/bardlex/blockmine/internal/mining"
	"github.com/bardlex/blockmine/internal/notify"
	"github.com/bardlex/blockmine/pkg/log"
	"github.com/bardlex/blockmine/pkg/retry"
)

// rootOptions carries the loaded config and the persistent flags that
// override it.
type rootOptions struct {
	cfg    *config.Config
	logger *log.Logger

	workers     int
	chunks      uint64
	rangeFactor uint64
	logLevel    string
	logFormat   string
}

// apply folds the persistent flags into the config and builds the logger.
func (o *rootOptions) apply(cmd *cobra.Command) error {
	o.cfg.MinerWorkers = o.workers
	o.cfg.MinerChunks = int(min(o.chunks, uint64(mining.MaxChunks)+1))
	o.cfg.MinerRangeFactor = int(min(o.rangeFactor, 1<<32))
	o.cfg.LogLevel = o.logLevel
	o.cfg.LogFormat = o.logFormat

	if err := o.cfg.Validate(); err != nil {
		return err
	}

	o.logger = log.NewWithWriter(cmd.ErrOrStderr(), o.cfg.ServiceName, o.cfg.Version, o.cfg.LogLevel, o.cfg.LogFormat)
	return nil
}

// newMiner builds a miner from the config. With withSinks set, every enabled
// sink is attached; the returned cleanup closes them.
func (o *rootOptions) newMiner(ctx context.Context, withSinks bool) (*mining.Miner, func(), error) {
	var (
		sinks   []mining.Sink
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if withSinks {
		var err error
		sinks, closers, err = o.sinks(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	miner, err := mining.New(o.cfg.Mining(), o.logger, sinks...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return miner, cleanup, nil
}

// sinks connects every enabled sink. On error the sinks opened so far are
// returned with their closers so the caller can release them.
func (o *rootOptions) sinks(ctx context.Context) ([]mining.Sink, []func(), error) {
	var (
		sinks   []mining.Sink
		closers []func()
	)

	if o.cfg.KafkaEnabled {
		codec, err := messaging.CodecFor(o.cfg.EventFormat)
		if err != nil {
			return sinks, closers, err
		}
		client := o.kafkaClient()
		closers = append(closers, func() { _ = client.Close() })

		publisher := messaging.NewBlockPublisher(client, codec, o.cfg.ServiceName)
		sinks = append(sinks, withTimeout(publisher, o.cfg.KafkaPublishTimeout))
		o.logger.Info("kafka sink enabled", "brokers", o.cfg.KafkaBrokers, "format", codec.Format())
	}

	if o.cfg.InfluxEnabled {
		recorder, err := o.influxRecorder(ctx)
		if err != nil {
			return sinks, closers, err
		}
		closers = append(closers, recorder.Close)
		sinks = append(sinks, recorder)
		o.logger.Info("influx sink enabled", "url", o.cfg.InfluxURL, "bucket", o.cfg.InfluxBucket)
	}

	if o.cfg.ZMQEnabled {
		publisher, err := notify.NewPublisher(o.cfg.ZMQPubAddr, o.logger)
		if err != nil {
			return sinks, closers, err
		}
		closers = append(closers, func() { _ = publisher.Close() })
		sinks = append(sinks, publisher)
	}

	return sinks, closers, nil
}

func (o *rootOptions) kafkaClient() *messaging.KafkaClient {
	retryConfig := retry.PublishConfig()
	retryConfig.MaxAttempts = o.cfg.RetryMaxAttempts
	retryConfig.BaseDelay = o.cfg.RetryBaseDelay
	return messaging.NewKafkaClient(o.cfg.KafkaBrokers, o.logger, retryConfig)
}

func (o *rootOptions) influxRecorder(ctx context.Context) (*metrics.Recorder, error) {
	return metrics.NewRecorder(ctx, metrics.Config{
		URL:    o.cfg.InfluxURL,
		Token:  o.cfg.InfluxToken,
		Org:    o.cfg.InfluxOrg,
		Bucket: o.cfg.InfluxBucket,
	}, o.cfg.ServiceName, o.logger)
}

// withTimeout bounds each delivery to sink by d.
func withTimeout(sink mining.Sink, d time.Duration) mining.Sink {
	if d <= 0 {
		return sink
	}
	return mining.SinkFunc(func(ctx context.Context, event mining.MinedBlock) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return sink.BlockMined(ctx, event)
	})
}
