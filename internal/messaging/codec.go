package messaging

import (
	"encoding/json"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/blockmine/pkg/errors"
)

// Codec encodes BlockMinedMessage values for the event bus.
type Codec interface {
	// Format is the value of the format header for messages this codec writes.
	Format() string
	Marshal(msg *BlockMinedMessage) ([]byte, error)
	Unmarshal(data []byte) (*BlockMinedMessage, error)
}

// CodecFor returns the codec for an EVENT_FORMAT value.
func CodecFor(format string) (Codec, error) {
	switch format {
	case JSONCodec{}.Format():
		return JSONCodec{}, nil
	case ProtoCodec{}.Format():
		return ProtoCodec{}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "codec_for", "unknown event format %q", format)
	}
}

// JSONCodec writes messages as JSON objects.
type JSONCodec struct{}

// Format implements Codec.
func (JSONCodec) Format() string { return "json" }

// Marshal implements Codec.
func (JSONCodec) Marshal(msg *BlockMinedMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal", "failed to marshal block message")
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte) (*BlockMinedMessage, error) {
	var msg BlockMinedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "json_unmarshal", "failed to unmarshal block message").
			WithContext("message_size", len(data))
	}
	return &msg, nil
}

// ProtoCodec writes messages as a protobuf google.protobuf.Struct. 64-bit
// counters travel as decimal strings because Struct numbers are doubles.
type ProtoCodec struct{}

// Format implements Codec.
func (ProtoCodec) Format() string { return "proto" }

// Marshal implements Codec.
func (ProtoCodec) Marshal(msg *BlockMinedMessage) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"block_hash":  msg.BlockHash,
		"prev_hash":   msg.PrevHash,
		"generation":  strconv.FormatUint(msg.Generation, 10),
		"difficulty":  int(msg.Difficulty),
		"data":        msg.Data,
		"proof":       strconv.FormatUint(msg.Proof, 10),
		"hashes":      strconv.FormatUint(msg.Hashes, 10),
		"workers":     msg.Workers,
		"chunks":      msg.Chunks,
		"duration_ms": msg.DurationMs,
		"hashrate":    msg.Hashrate,
		"miner":       msg.Miner,
		"mined_at":    msg.MinedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal", "failed to build block struct")
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal", "failed to marshal block struct")
	}
	return data, nil
}

// Unmarshal implements Codec.
func (ProtoCodec) Unmarshal(data []byte) (*BlockMinedMessage, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_unmarshal", "failed to unmarshal block struct").
			WithContext("message_size", len(data))
	}

	r := structReader{fields: s.GetFields()}
	msg := &BlockMinedMessage{
		BlockHash:  r.getString("block_hash"),
		PrevHash:   r.getString("prev_hash"),
		Generation: r.getUint("generation"),
		Difficulty: uint8(r.getNumber("difficulty")),
		Data:       r.getString("data"),
		Proof:      r.getUint("proof"),
		Hashes:     r.getUint("hashes"),
		Workers:    int(r.getNumber("workers")),
		Chunks:     int(r.getNumber("chunks")),
		DurationMs: r.getNumber("duration_ms"),
		Hashrate:   r.getNumber("hashrate"),
		Miner:      r.getString("miner"),
		MinedAt:    r.getTime("mined_at"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return msg, nil
}

// structReader pulls typed fields out of a Struct and keeps the first error.
type structReader struct {
	fields map[string]*structpb.Value
	err    error
}

func (r *structReader) fail(key, message string) {
	if r.err == nil {
		r.err = errors.New(errors.ErrorTypeValidation, "protobuf_unmarshal", message).
			WithContext("field", key)
	}
}

func (r *structReader) getString(key string) string {
	v, ok := r.fields[key]
	if !ok {
		r.fail(key, "missing field")
		return ""
	}
	return v.GetStringValue()
}

func (r *structReader) getNumber(key string) float64 {
	v, ok := r.fields[key]
	if !ok {
		r.fail(key, "missing field")
		return 0
	}
	return v.GetNumberValue()
}

func (r *structReader) getUint(key string) uint64 {
	s := r.getString(key)
	if r.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		r.fail(key, "field is not an unsigned integer")
	}
	return n
}

func (r *structReader) getTime(key string) time.Time {
	s := r.getString(key)
	if r.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		r.fail(key, "field is not an RFC 3339 timestamp")
	}
	return t
}
