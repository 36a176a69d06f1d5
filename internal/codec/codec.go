// Package codec converts vector clocks to and from message payloads.
//
// The default Binary codec writes exactly N signed 32-bit counters in rank
// order, big-endian, with no header and no length prefix; framing is left to
// the transport.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"ringclock/internal/clock"
)

// ErrPayloadSize is returned when a payload does not hold exactly N counters.
var ErrPayloadSize = errors.New("payload size does not match ring size")

// Codec encodes and decodes clocks for a ring of a known size.
type Codec interface {
	// Name identifies the codec in configuration, e.g. "binary".
	Name() string
	Encode(vc clock.VectorClock) ([]byte, error)
	// Decode parses a payload that must carry exactly n counters.
	Decode(payload []byte, n int) (clock.VectorClock, error)
}

// Binary is the fixed-width wire format.
type Binary struct{}

// Name implements Codec.
func (Binary) Name() string { return "binary" }

// Encode implements Codec.
func (Binary) Encode(vc clock.VectorClock) ([]byte, error) {
	buf := make([]byte, 4*len(vc))
	for i, c := range vc {
		binary.BigEndian.PutUint32(buf[4*i:], uint32(c))
	}
	return buf, nil
}

// Decode implements Codec.
func (Binary) Decode(payload []byte, n int) (clock.VectorClock, error) {
	if len(payload) != 4*n {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPayloadSize, len(payload), 4*n)
	}
	vc := clock.New(n)
	for i := range vc {
		vc[i] = int32(binary.BigEndian.Uint32(payload[4*i:]))
	}
	return vc, nil
}

// MsgPack encodes the counters as a MessagePack array of integers.
type MsgPack struct{}

// Name implements Codec.
func (MsgPack) Name() string { return "msgpack" }

// Encode implements Codec.
func (MsgPack) Encode(vc clock.VectorClock) ([]byte, error) {
	out, err := msgpack.Marshal([]int32(vc))
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return out, nil
}

// Decode implements Codec.
func (MsgPack) Decode(payload []byte, n int) (clock.VectorClock, error) {
	var counters []int32
	if err := msgpack.Unmarshal(payload, &counters); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	if len(counters) != n {
		return nil, fmt.Errorf("%w: got %d counters, want %d", ErrPayloadSize, len(counters), n)
	}
	return clock.VectorClock(counters), nil
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "binary":
		return Binary{}, nil
	case "msgpack":
		return MsgPack{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
