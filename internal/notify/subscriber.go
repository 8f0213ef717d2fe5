package notify

import (
	"context"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/blockmine/pkg/errors"
	"github.com/bardlex/blockmine/pkg/log"
)

// pollInterval bounds how long Listen waits on the socket before looking at
// its context again.
const pollInterval = 250 * time.Millisecond

// Subscriber receives block notifications from a Publisher feed.
type Subscriber struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewSubscriber creates a SUB socket for endpoint. Call Subscribe and
// Connect before Listen.
func NewSubscriber(endpoint string, logger *log.Logger) (*Subscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to create ZMQ socket")
	}
	if err := socket.SetRcvtimeo(pollInterval); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to set receive timeout")
	}

	return &Subscriber{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq_subscriber"),
	}, nil
}

// Subscribe subscribes to a topic. An empty topic receives everything.
func (s *Subscriber) Subscribe(topic string) error {
	if err := s.socket.SetSubscribe(topic); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_subscribe", "failed to subscribe").
			WithContext("topic", topic)
	}
	s.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the ZMQ endpoint
func (s *Subscriber) Connect() error {
	if err := s.socket.Connect(s.endpoint); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect", "failed to connect to ZMQ endpoint").
			WithContext("endpoint", s.endpoint)
	}
	s.logger.Info("connected to ZMQ endpoint", "endpoint", s.endpoint)
	return nil
}

// Listen receives notifications until ctx ends. Malformed messages and
// handler failures are logged and skipped.
func (s *Subscriber) Listen(ctx context.Context, handler func(ctx context.Context, n Notification) error) error {
	s.logger.Info("starting ZMQ listener")

	for {
		if ctx.Err() != nil {
			s.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		}

		frames, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			if zmq.AsErrno(err) == zmq.ETERM {
				return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_recv", "ZMQ context terminated")
			}
			s.logger.WithError(err).Error("failed to receive ZMQ message")
			continue
		}

		n, err := decodeFrames(frames)
		if err != nil {
			s.logger.WithError(err).Warn("received malformed ZMQ message", "parts", len(frames))
			continue
		}

		s.logger.Debug("received ZMQ message", "topic", n.Topic, "seq", n.Seq)

		if err := handler(ctx, n); err != nil {
			s.logger.WithError(err).Error("failed to handle ZMQ message", "topic", n.Topic)
		}
	}
}

// Close closes the ZMQ socket
func (s *Subscriber) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}
