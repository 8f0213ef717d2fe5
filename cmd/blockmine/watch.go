package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/blockmine/internal/messaging"
	"github.com/bardlex/blockmine/internal/notify"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		endpoint  string
		withKafka bool
		count     int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print mined block notifications",
		Long: `
Subscribes to the ZeroMQ block feed and prints every notification. With
--kafka, block events are also consumed from the event bus. Stops after
--count messages when it is positive.

$ blockmine watch --endpoint tcp://127.0.0.1:28332
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := &watchPrinter{w: cmd.OutOrStdout(), limit: count, done: cancel}

			sub, err := notify.NewSubscriber(endpoint, opts.logger)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			if err := sub.Subscribe(""); err != nil {
				return err
			}
			if err := sub.Connect(); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return sub.Listen(ctx, func(_ context.Context, n notify.Notification) error {
					return out.notification(n)
				})
			})

			if withKafka {
				client := opts.kafkaClient()
				defer func() { _ = client.Close() }()

				g.Go(func() error {
					return client.ConsumeBlocks(ctx, opts.cfg.KafkaGroupID, func(_ context.Context, msg *messaging.BlockMinedMessage) error {
						return out.event(msg)
					})
				})
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", opts.cfg.ZMQSubAddr, "ZeroMQ endpoint to subscribe to")
	cmd.Flags().BoolVar(&withKafka, "kafka", opts.cfg.KafkaEnabled, "also consume block events from Kafka")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many messages, 0 for no limit")
	return cmd
}

// watchPrinter serializes output from the feed listeners.
type watchPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	seen  int
	limit int
	done  func()
}

func (p *watchPrinter) notification(n notify.Notification) error {
	if n.Topic == notify.TopicHashString {
		return p.printf("zmq %s seq=%d %s digest=%s\n", n.Topic, n.Seq, n.HashString, n.Digest())
	}
	return p.printf("zmq %s seq=%d hash=%s\n", n.Topic, n.Seq, n.Hash)
}

func (p *watchPrinter) event(msg *messaging.BlockMinedMessage) error {
	return p.printf("kafka generation=%d difficulty=%d proof=%d hash=%s miner=%s\n",
		msg.Generation, msg.Difficulty, msg.Proof, msg.BlockHash, msg.Miner)
}

func (p *watchPrinter) printf(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.seen >= p.limit {
		return nil
	}
	if _, err := fmt.Fprintf(p.w, format, args...); err != nil {
		return err
	}
	p.seen++
	if p.limit > 0 && p.seen >= p.limit {
		p.done()
	}
	return nil
}
