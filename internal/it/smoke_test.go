package it

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringclock/internal/clock"
	"ringclock/internal/codec"
	"ringclock/internal/config"
	"ringclock/internal/node"
	"ringclock/internal/storage"
	"ringclock/internal/transport"
)

// awaitCycles waits until every participant has forwarded at least cycles
// clocks, checking that each forwarded clock dominates the previous one.
func awaitCycles(t *testing.T, c *Cluster, cycles int32) {
	t.Helper()

	last := make([]clock.VectorClock, len(c.Nodes()))
	require.Eventually(t, func() bool {
		done := true
		for _, n := range c.Nodes() {
			vc := n.Coordinator.Clock(storage.StageEgress)
			if vc == nil {
				done = false
				continue
			}
			if prev := last[n.Rank]; prev != nil && !vc.Equal(prev) {
				assert.Equal(t, clock.After, vc.Compare(prev), "P%d clock went from %s to %s", n.Rank, prev, vc)
			}
			last[n.Rank] = vc
			// Two local events per pass, except the origin's seed.
			if vc.Get(n.Rank) < 2*cycles {
				done = false
			}
		}
		return done
	}, 30*time.Second, 5*time.Millisecond)
}

func TestSmoke_RingCirculates(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		codec     codec.Codec
	}{
		{name: "grpc binary", transport: config.TransportGRPC, codec: codec.Binary{}},
		{name: "grpc msgpack", transport: config.TransportGRPC, codec: codec.MsgPack{}},
		{name: "zmq binary", transport: config.TransportZMQ, codec: codec.Binary{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			cluster, err := StartCluster(ctx, Options{
				Size:      3,
				Transport: tt.transport,
				Codec:     tt.codec,
				Interval:  time.Millisecond,
			})
			require.NoError(t, err, "Failed to start cluster")
			defer cluster.Stop()

			awaitCycles(t, cluster, 3)

			for _, n := range cluster.Nodes() {
				snap := n.Coordinator.Snapshot()
				assert.Equal(t, node.StateRunning, snap.State)
				assert.Len(t, snap.Stages, len(storage.Stages))
			}

			cluster.Stop()
			for _, n := range cluster.Nodes() {
				assert.NoError(t, n.Wait(ctx), "P%d", n.Rank)
			}
		})
	}
}

func TestSmoke_PeerFailureStopsParticipant(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster, err := StartCluster(ctx, Options{
		Size:        3,
		Transport:   config.TransportGRPC,
		Codec:       codec.Binary{},
		Interval:    time.Millisecond,
		SendTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	defer cluster.Stop()

	awaitCycles(t, cluster, 1)
	require.NoError(t, cluster.KillNode(2))

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	err = cluster.Node(2).Wait(waitCtx)
	require.Error(t, err)
	// Whichever stage notices first: the closed inbox or the closed clients.
	assert.True(t, errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrTransport), "unexpected error: %v", err)
	assert.Equal(t, node.StateFailed, cluster.Node(2).Coordinator.Snapshot().State)
}
