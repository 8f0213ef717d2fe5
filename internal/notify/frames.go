// Package notify broadcasts mined blocks over a ZeroMQ PUB socket and
// listens to such feeds.
//
// Every mined block is sent as two multipart messages, each
// [topic, body, sequence]: "hashblock" carries the 32-byte digest and
// "hashstring" carries the canonical hash string, so a subscriber can
// recompute and check the digest. The sequence is a little-endian uint32
// counted per topic.
package notify

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/blockmine/internal/block"
	"github.com/bardlex/blockmine/pkg/errors"
)

// Topics
const (
	TopicHashBlock  = "hashblock"
	TopicHashString = "hashstring"
)

// Notification is one decoded feed message.
type Notification struct {
	Topic string
	Seq   uint32

	// Hash is set for hashblock messages.
	Hash block.Digest
	// HashString is set for hashstring messages.
	HashString string
}

// Digest returns the block digest the notification refers to. For
// hashstring messages it is recomputed from the hash string.
func (n Notification) Digest() block.Digest {
	if n.Topic == TopicHashString {
		return block.Digest(chainhash.HashH([]byte(n.HashString)))
	}
	return n.Hash
}

func encodeSeq(seq uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, seq)
}

// decodeFrames parses a received multipart message.
func decodeFrames(frames [][]byte) (Notification, error) {
	if len(frames) != 3 {
		return Notification{}, errors.Newf(errors.ErrorTypeValidation, "decode_notification",
			"expected 3 frames, got %d", len(frames))
	}
	if len(frames[2]) != 4 {
		return Notification{}, errors.Newf(errors.ErrorTypeValidation, "decode_notification",
			"sequence frame must be 4 bytes, got %d", len(frames[2]))
	}

	n := Notification{
		Topic: string(frames[0]),
		Seq:   binary.LittleEndian.Uint32(frames[2]),
	}

	switch n.Topic {
	case TopicHashBlock:
		if len(frames[1]) != block.DigestSize {
			return Notification{}, errors.Newf(errors.ErrorTypeValidation, "decode_notification",
				"invalid block hash length: %d", len(frames[1]))
		}
		n.Hash = block.Digest(frames[1])
	case TopicHashString:
		n.HashString = string(frames[1])
	default:
		return Notification{}, errors.Newf(errors.ErrorTypeValidation, "decode_notification",
			"unknown topic %q", n.Topic)
	}
	return n, nil
}
