package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/blockmine/internal/mining"
)

// publisher is the part of KafkaClient BlockPublisher needs.
type publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// BlockPublisher is a mining.Sink that announces mined blocks on
// TopicBlocksMined.
type BlockPublisher struct {
	client  publisher
	codec   Codec
	service string
}

// NewBlockPublisher creates a publisher writing through client with codec.
// service is recorded as the miner of every event.
func NewBlockPublisher(client *KafkaClient, codec Codec, service string) *BlockPublisher {
	return &BlockPublisher{client: client, codec: codec, service: service}
}

// BlockMined implements mining.Sink.
func (p *BlockPublisher) BlockMined(ctx context.Context, event mining.MinedBlock) error {
	msg := NewBlockMinedMessage(event, p.service)
	data, err := p.codec.Marshal(msg)
	if err != nil {
		return err
	}

	return p.client.Publish(ctx, TopicBlocksMined, msg.BlockHash, data,
		kafka.Header{Key: HeaderFormat, Value: []byte(p.codec.Format())},
		kafka.Header{Key: HeaderService, Value: []byte(p.service)},
	)
}
