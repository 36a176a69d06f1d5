package config

import (
	"errors"
	"testing"
	"time"

	"ringclock/internal/ring"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Peer{},
		},
		{
			name:  "single peer",
			input: "0=127.0.0.1:50051",
			want: []Peer{
				{Rank: 0, Addr: "127.0.0.1:50051"},
			},
		},
		{
			name:  "multiple peers",
			input: "0=127.0.0.1:50051,1=127.0.0.1:50052,2=127.0.0.1:50053",
			want: []Peer{
				{Rank: 0, Addr: "127.0.0.1:50051"},
				{Rank: 1, Addr: "127.0.0.1:50052"},
				{Rank: 2, Addr: "127.0.0.1:50053"},
			},
		},
		{
			name:  "with spaces",
			input: "0 = 127.0.0.1:50051 , 1 = 127.0.0.1:50052",
			want: []Peer{
				{Rank: 0, Addr: "127.0.0.1:50051"},
				{Rank: 1, Addr: "127.0.0.1:50052"},
			},
		},
		{
			name:  "zmq endpoints",
			input: "0=tcp://127.0.0.1:5555,1=tcp://127.0.0.1:5556",
			want: []Peer{
				{Rank: 0, Addr: "tcp://127.0.0.1:5555"},
				{Rank: 1, Addr: "tcp://127.0.0.1:5556"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "0:127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty rank",
			input:   "=127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "0=",
			wantErr: true,
		},
		{
			name:    "invalid format - non-numeric rank",
			input:   "n1=127.0.0.1:50051",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i] != tt.want[i] {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func networked(transport string, rank int, peers string) Config {
	cfg := Default()
	cfg.Transport = transport
	cfg.Rank = rank
	cfg.Peers, _ = ParsePeers(peers)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	const threePeers = "0=127.0.0.1:50051,1=127.0.0.1:50052,2=127.0.0.1:50053"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "local participant mismatch",
			mutate:  func(c *Config) { c.Participants = 2 },
			wantErr: ErrParticipantCount,
		},
		{
			name:    "zero ring size",
			mutate:  func(c *Config) { c.RingSize = 0; c.Participants = 0 },
			wantErr: ErrRingSize,
		},
		{
			name:    "zero capacity",
			mutate:  func(c *Config) { c.Capacity = 0 },
			wantErr: ErrCapacity,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.SendTimeout = -time.Second },
			wantErr: ErrDuration,
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Transport = "carrier-pigeon" },
			wantErr: ErrTransportKind,
		},
		{
			name:   "grpc ring",
			mutate: func(c *Config) { *c = networked(TransportGRPC, 1, threePeers) },
		},
		{
			name: "grpc too few peers",
			mutate: func(c *Config) {
				*c = networked(TransportGRPC, 0, "0=127.0.0.1:50051,1=127.0.0.1:50052")
			},
			wantErr: ErrParticipantCount,
		},
		{
			name:    "zmq rank outside ring",
			mutate:  func(c *Config) { *c = networked(TransportZMQ, 3, threePeers) },
			wantErr: ErrInvalidRank,
		},
		{
			name: "grpc duplicate rank",
			mutate: func(c *Config) {
				*c = networked(TransportGRPC, 0, "0=127.0.0.1:50051,1=127.0.0.1:50052,1=127.0.0.1:50053")
			},
			wantErr: ErrPeers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateRejectsBadCodecAndTrace(t *testing.T) {
	cfg := Default()
	cfg.Codec = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown codec")
	}

	cfg = Default()
	cfg.Trace = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown trace mode")
	}
}

func TestConfig_BuildRing(t *testing.T) {
	cfg := networked(TransportGRPC, 1, "2=127.0.0.1:50053,0=127.0.0.1:50051,1=127.0.0.1:50052")

	r, err := cfg.BuildRing()
	if err != nil {
		t.Fatalf("BuildRing() error: %v", err)
	}
	if r.Size() != 3 {
		t.Errorf("Expected 3 nodes, got %d", r.Size())
	}
	if node, _ := r.Node(2); node.Addr != "127.0.0.1:50053" {
		t.Errorf("Expected rank 2 at 127.0.0.1:50053, got %q", node.Addr)
	}

	local := Default()
	r, err = local.BuildRing()
	if err != nil {
		t.Fatalf("BuildRing() local error: %v", err)
	}
	if r.Size() != DefaultRingSize {
		t.Errorf("Expected %d nodes, got %d", DefaultRingSize, r.Size())
	}
	if node, _ := r.Node(ring.Origin); node.Addr != "" {
		t.Errorf("Expected address-less local ring, got %q", node.Addr)
	}
}

func TestConfig_Listen(t *testing.T) {
	cfg := networked(TransportGRPC, 1, "0=127.0.0.1:50051,1=127.0.0.1:50052,2=127.0.0.1:50053")
	if got := cfg.Listen(); got != "127.0.0.1:50052" {
		t.Errorf("Listen() = %q, want own peer address", got)
	}

	cfg.ListenAddr = ":50052"
	if got := cfg.Listen(); got != ":50052" {
		t.Errorf("Listen() = %q, want explicit listen address", got)
	}
}
