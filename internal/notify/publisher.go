package notify

import (
	"context"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/blockmine/internal/block"
	"github.com/bardlex/blockmine/internal/mining"
	"github.com/bardlex/blockmine/pkg/errors"
	"github.com/bardlex/blockmine/pkg/log"
)

// Publisher is a mining.Sink that announces mined blocks on a PUB socket.
// ZeroMQ sockets are not goroutine safe, so sends are serialized.
type Publisher struct {
	mu       sync.Mutex
	socket   *zmq.Socket
	endpoint string
	seq      map[string]uint32
	logger   *log.Logger
}

// NewPublisher binds a PUB socket to endpoint.
func NewPublisher(endpoint string, logger *log.Logger) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to create ZMQ socket")
	}

	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_bind", "failed to bind ZMQ endpoint").
			WithContext("endpoint", endpoint)
	}

	logger = logger.WithComponent("zmq_publisher")
	logger.Info("bound ZMQ publisher", "endpoint", endpoint)

	return &Publisher{
		socket:   socket,
		endpoint: endpoint,
		seq:      make(map[string]uint32),
		logger:   logger,
	}, nil
}

// BlockMined implements mining.Sink.
func (p *Publisher) BlockMined(_ context.Context, event mining.MinedBlock) error {
	hashString := block.New(event.PrevHash, event.Generation, event.Difficulty, event.Data).
		HashStringForProof(event.Proof)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.send(TopicHashBlock, event.Hash[:]); err != nil {
		return err
	}
	return p.send(TopicHashString, []byte(hashString))
}

func (p *Publisher) send(topic string, body []byte) error {
	if p.socket == nil {
		return errors.New(errors.ErrorTypeNetwork, "zmq_send", "publisher is closed").
			WithContext("topic", topic)
	}

	seq := p.seq[topic]
	if _, err := p.socket.SendMessage(topic, body, encodeSeq(seq)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_send", "failed to publish ZMQ message").
			WithContext("topic", topic)
	}
	p.seq[topic] = seq + 1

	p.logger.Debug("published ZMQ message", "topic", topic, "seq", seq, "size", len(body))
	return nil
}

// Endpoint returns the bound endpoint.
func (p *Publisher) Endpoint() string {
	return p.endpoint
}

// Close closes the ZMQ socket
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.socket != nil {
		err := p.socket.Close()
		p.socket = nil
		return err
	}
	return nil
}
