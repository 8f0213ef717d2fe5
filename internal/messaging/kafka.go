// Package messaging publishes mined block events to Kafka and consumes them
// back for observers.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/blockmine/pkg/circuit"
	"github.com/bardlex/blockmine/pkg/errors"
	"github.com/bardlex/blockmine/pkg/log"
	"github.com/bardlex/blockmine/pkg/retry"
)

// messageWriter is the part of *kafka.Writer the client uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the part of *kafka.Reader the client uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaClient wraps kafka-go with per-topic writer pooling, retries and a
// circuit breaker around publication.
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]messageWriter
	readers        map[string]messageReader
	writersMu      sync.RWMutex
	readersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config

	newWriter func(topic string) messageWriter
	newReader func(topic, groupID string) messageReader
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger, retryConfig *retry.Config) *KafkaClient {
	logger = logger.WithComponent("kafka")

	cbConfig := &circuit.Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	if retryConfig == nil {
		retryConfig = retry.PublishConfig()
	}

	k := &KafkaClient{
		brokers:        brokers,
		logger:         logger,
		writers:        make(map[string]messageWriter),
		readers:        make(map[string]messageReader),
		circuitBreaker: circuit.New("kafka", cbConfig),
		retryConfig:    retryConfig,
	}
	k.newWriter = k.kafkaWriter
	k.newReader = k.kafkaReader
	return k
}

func (k *KafkaClient) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

func (k *KafkaClient) kafkaReader(topic, groupID string) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     1 * time.Second,
	})
}

// producer gets or creates the writer for a topic
func (k *KafkaClient) producer(topic string) messageWriter {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := k.newWriter(topic)
	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// consumer gets or creates the reader for a topic and group
func (k *KafkaClient) consumer(topic, groupID string) messageReader {
	key := fmt.Sprintf("%s-%s", topic, groupID)

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	if reader, exists := k.readers[key]; exists {
		return reader
	}

	reader := k.newReader(topic, groupID)
	k.readers[key] = reader
	k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// Publish writes one message to topic, retrying transient failures behind
// the client's circuit breaker.
func (k *KafkaClient) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	return k.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, k.retryConfig, func(ctx context.Context) error {
			msg := kafka.Message{
				Key:     []byte(key),
				Value:   value,
				Headers: headers,
				Time:    time.Now(),
			}

			if err := k.producer(topic).WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(value))
			}

			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(value))
			return nil
		})
	})
}

// BlockHandler handles one consumed block message.
type BlockHandler func(ctx context.Context, msg *BlockMinedMessage) error

// ConsumeBlocks reads TopicBlocksMined until ctx ends, decoding each message
// with the codec named by its format header. Undecodable messages and handler
// failures are logged and skipped.
func (k *KafkaClient) ConsumeBlocks(ctx context.Context, groupID string, handler BlockHandler) error {
	reader := k.consumer(TopicBlocksMined, groupID)
	k.logger.Info("starting consumer", "topic", TopicBlocksMined, "group_id", groupID)

	for {
		raw, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				k.logger.Info("consumer stopping", "topic", TopicBlocksMined)
				return ctx.Err()
			}
			return errors.Wrap(err, errors.ErrorTypeKafka, "read_message", "failed to read message from Kafka").
				WithContext("topic", TopicBlocksMined)
		}

		msg, err := DecodeBlockMessage(raw)
		if err != nil {
			k.logger.WithError(err).Error("failed to decode message", "topic", raw.Topic, "offset", raw.Offset)
			continue
		}

		if err := handler(ctx, msg); err != nil {
			k.logger.WithError(err).Error("failed to handle message", "topic", raw.Topic, "key", string(raw.Key))
		}
	}
}

// DecodeBlockMessage decodes a consumed message. Messages without a format
// header are read as JSON.
func DecodeBlockMessage(raw kafka.Message) (*BlockMinedMessage, error) {
	format := JSONCodec{}.Format()
	for _, h := range raw.Headers {
		if h.Key == HeaderFormat {
			format = string(h.Value)
		}
	}

	codec, err := CodecFor(format)
	if err != nil {
		return nil, err
	}
	return codec.Unmarshal(raw.Value)
}

// BreakerStats exposes the publication circuit breaker counters.
func (k *KafkaClient) BreakerStats() circuit.Stats {
	return k.circuitBreaker.GetStats()
}

// Close closes all producers and consumers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	var lastErr error

	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	for key, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close consumer", "key", key, "error", err)
			lastErr = err
		}
	}

	k.writers = make(map[string]messageWriter)
	k.readers = make(map[string]messageReader)
	return lastErr
}
