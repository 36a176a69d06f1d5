package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ringclock/internal/codec"
	"ringclock/internal/pipeline"
	"ringclock/internal/ring"
)

// Transport kinds.
const (
	TransportLocal = "local"
	TransportGRPC  = "grpc"
	TransportZMQ   = "zmq"
)

// Defaults.
const (
	DefaultRingSize = 3
	DefaultCapacity = 10
	DefaultInterval = time.Second
)

var (
	// ErrParticipantCount is returned when the number of participants
	// differs from the ring size.
	ErrParticipantCount = errors.New("participant count does not match ring size")
	// ErrInvalidRank is returned when this participant's rank is outside the ring.
	ErrInvalidRank = errors.New("invalid rank")
	// ErrRingSize is returned for a ring size below one.
	ErrRingSize = errors.New("invalid ring size")
	// ErrCapacity is returned for a queue capacity below one.
	ErrCapacity = errors.New("invalid queue capacity")
	// ErrDuration is returned for a negative interval or timeout.
	ErrDuration = errors.New("invalid duration")
	// ErrTransportKind is returned for an unknown transport name.
	ErrTransportKind = errors.New("unknown transport")
	// ErrPeers is returned when the peer list does not describe a ring.
	ErrPeers = errors.New("invalid peer list")
)

// Peer represents another participant of the ring.
type Peer struct {
	Rank int
	Addr string
}

// Config holds the participant configuration.
type Config struct {
	// Rank is this process's participant. Ignored by the local transport,
	// which runs every rank.
	Rank     int
	RingSize int
	// Participants is how many participants the local transport launches.
	Participants int
	Peers        []Peer
	ListenAddr   string // defaults to this rank's peer address
	Transport    string
	Codec        string
	Capacity     int
	Interval     time.Duration
	SendTimeout  time.Duration // zero waits indefinitely
	RecvTimeout  time.Duration // zero waits indefinitely
	Trace        string
	HTTPAddr     string // empty disables the diagnostics server
}

// Default returns a configuration for a three participant in-process ring.
func Default() Config {
	return Config{
		RingSize:     DefaultRingSize,
		Participants: DefaultRingSize,
		Transport:    TransportLocal,
		Codec:        codec.Binary{}.Name(),
		Capacity:     DefaultCapacity,
		Interval:     DefaultInterval,
		Trace:        pipeline.TraceOn.String(),
	}
}

// ParsePeers parses a comma-separated list of peers in the format:
// "0=addr0,1=addr1,2=addr2"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected rank=addr)", part)
		}

		rankStr := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if rankStr == "" || addr == "" {
			return nil, fmt.Errorf("peer rank and address cannot be empty: %s", part)
		}

		rank, err := strconv.Atoi(rankStr)
		if err != nil {
			return nil, fmt.Errorf("invalid peer rank %q: %w", rankStr, err)
		}

		peers = append(peers, Peer{
			Rank: rank,
			Addr: addr,
		})
	}

	return peers, nil
}

// Networked reports whether each participant runs in its own process.
func (c *Config) Networked() bool {
	return c.Transport == TransportGRPC || c.Transport == TransportZMQ
}

// Validate checks the configuration before anything is constructed.
func (c *Config) Validate() error {
	if c.RingSize < 1 {
		return fmt.Errorf("%w: %d", ErrRingSize, c.RingSize)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("%w: %d", ErrCapacity, c.Capacity)
	}
	if c.Interval < 0 || c.SendTimeout < 0 || c.RecvTimeout < 0 {
		return fmt.Errorf("%w: interval and timeouts must not be negative", ErrDuration)
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return err
	}
	if _, err := pipeline.ParseTraceMode(c.Trace); err != nil {
		return err
	}

	switch c.Transport {
	case TransportLocal:
		if c.Participants != c.RingSize {
			return fmt.Errorf("%w: launched %d, ring size %d", ErrParticipantCount, c.Participants, c.RingSize)
		}
		return nil
	case TransportGRPC, TransportZMQ:
	default:
		return fmt.Errorf("%w: %q", ErrTransportKind, c.Transport)
	}

	if len(c.Peers) != c.RingSize {
		return fmt.Errorf("%w: %d peers, ring size %d", ErrParticipantCount, len(c.Peers), c.RingSize)
	}
	if c.Rank < 0 || c.Rank >= c.RingSize {
		return fmt.Errorf("%w: %d (ring size %d)", ErrInvalidRank, c.Rank, c.RingSize)
	}
	if _, err := c.BuildRing(); err != nil {
		return err
	}
	return nil
}

// BuildRing converts the configuration into a ring topology. The local
// transport gets an address-less ring of RingSize participants.
func (c *Config) BuildRing() (*ring.Ring, error) {
	if !c.Networked() {
		return ring.NewLocal(c.RingSize)
	}

	nodes := make([]ring.Node, 0, len(c.Peers))
	for _, peer := range c.Peers {
		nodes = append(nodes, ring.Node{
			Rank: peer.Rank,
			Addr: peer.Addr,
		})
	}

	r, err := ring.NewRing(nodes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPeers, err)
	}
	return r, nil
}

// Listen returns the address this participant binds: ListenAddr when set,
// otherwise its own entry in the peer list.
func (c *Config) Listen() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	for _, peer := range c.Peers {
		if peer.Rank == c.Rank {
			return peer.Addr
		}
	}
	return ""
}
