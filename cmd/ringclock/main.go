package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ringclock/internal/codec"
	"ringclock/internal/config"
	"ringclock/internal/httpapi"
	"ringclock/internal/metrics"
	"ringclock/internal/node"
	"ringclock/internal/pipeline"
	"ringclock/internal/ring"
	"ringclock/internal/transport"
	"ringclock/internal/transport/grpcx"
	"ringclock/internal/transport/zmq"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		os.Exit(configError(cfg, err, os.Stderr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Printf("ringclock: %v", err)
		os.Exit(1)
	}
}

// configError reports a configuration error and returns the exit status.
// Every participant exits, but only the origin reports the problem; a local
// ring is a single process and always reports it.
func configError(cfg config.Config, err error, w io.Writer) int {
	if cfg.Rank == ring.Origin || !cfg.Networked() {
		log.New(w, "", log.LstdFlags).Printf("[P%d] Configuration error: %v", cfg.Rank, err)
	}
	return 1
}

// parseFlags reads the configuration from args. Every flag falls back to an
// environment variable, and then to the built-in default.
func parseFlags(fs *flag.FlagSet, args []string) (config.Config, error) {
	def := config.Default()

	rank := fs.Int("rank", envInt("RING_RANK", def.Rank), "Rank of this participant (grpc/zmq)")
	ringSize := fs.Int("ring-size", envInt("RING_SIZE", def.RingSize), "Number of participants in the ring")
	participants := fs.Int("n", envInt("RING_PARTICIPANTS", def.Participants), "Participants launched in-process (local)")
	peers := fs.String("peers", envString("RING_PEERS", ""), "Comma-separated rank=addr list naming every participant (grpc/zmq)")
	listen := fs.String("listen", envString("RING_LISTEN", ""), "Listen address override (defaults to own peer address)")
	transportKind := fs.String("transport", envString("RING_TRANSPORT", def.Transport), "Transport: local, grpc or zmq")
	codecName := fs.String("codec", envString("RING_CODEC", def.Codec), "Wire codec: binary or msgpack")
	capacity := fs.Int("capacity", envInt("RING_CAPACITY", def.Capacity), "Capacity of each pipeline queue")
	interval := fs.Duration("interval", envDuration("RING_INTERVAL", def.Interval), "Pause after each clock and send stage")
	sendTimeout := fs.Duration("send-timeout", envDuration("RING_SEND_TIMEOUT", 0), "Per-send deadline (0 waits indefinitely)")
	recvTimeout := fs.Duration("recv-timeout", envDuration("RING_RECV_TIMEOUT", 0), "Per-receive deadline (0 waits indefinitely)")
	trace := fs.String("trace", envString("RING_TRACE", def.Trace), "Pipeline tracing: on or off")
	httpAddr := fs.String("http", envString("RING_HTTP", ""), "Diagnostics HTTP address (empty disables)")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg := config.Config{
		Rank:         *rank,
		RingSize:     *ringSize,
		Participants: *participants,
		ListenAddr:   *listen,
		Transport:    *transportKind,
		Codec:        *codecName,
		Capacity:     *capacity,
		Interval:     *interval,
		SendTimeout:  *sendTimeout,
		RecvTimeout:  *recvTimeout,
		Trace:        *trace,
		HTTPAddr:     *httpAddr,
	}

	parsed, err := config.ParsePeers(*peers)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", config.ErrPeers, err)
	}
	cfg.Peers = parsed
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	mode, _ := pipeline.ParseTraceMode(cfg.Trace)
	tracer := pipeline.NewLogTracer(os.Stdout, mode)
	c, _ := codec.ByName(cfg.Codec)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var (
		snapshots func() []node.Snapshot
		runRing   func(context.Context) error
	)

	if cfg.Networked() {
		r, err := cfg.BuildRing()
		if err != nil {
			return err
		}
		t, err := newTransport(cfg, r, c)
		if err != nil {
			return err
		}
		defer t.Close()

		participant, err := node.NewRingCoordinator(node.Options{
			Rank:         cfg.Rank,
			Ring:         r,
			Participants: len(cfg.Peers),
			Transport:    transport.WithTimeouts(t, cfg.SendTimeout, cfg.RecvTimeout),
			Capacity:     cfg.Capacity,
			Interval:     cfg.Interval,
			Tracer:       tracer,
			Metrics:      m,
		})
		if err != nil {
			return err
		}
		snapshots = func() []node.Snapshot { return []node.Snapshot{participant.Snapshot()} }
		runRing = participant.Run
	} else {
		lr, err := node.NewLocalRing(node.LocalOptions{
			RingSize:     cfg.RingSize,
			Participants: cfg.Participants,
			Codec:        c,
			Capacity:     cfg.Capacity,
			Interval:     cfg.Interval,
			SendTimeout:  cfg.SendTimeout,
			RecvTimeout:  cfg.RecvTimeout,
			Tracer:       tracer,
			Metrics:      m,
		})
		if err != nil {
			return err
		}
		defer lr.Close()
		snapshots = lr.Snapshots
		runRing = lr.Run
	}

	if cfg.HTTPAddr != "" {
		lis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.HTTPAddr, err)
		}
		api := httpapi.New(snapshots, reg)
		go func() {
			if err := api.Serve(ctx, lis); err != nil {
				log.Printf("Diagnostics server stopped: %v", err)
			}
		}()
	}

	log.Printf("Starting ring of %d over %s transport (codec %s, capacity %d, interval %s)",
		cfg.RingSize, cfg.Transport, c.Name(), cfg.Capacity, cfg.Interval)

	err := runRing(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("Shutting down")
	return nil
}

type startable interface {
	transport.Transport
	Start()
}

func newTransport(cfg config.Config, r *ring.Ring, c codec.Codec) (transport.Transport, error) {
	var (
		t   startable
		err error
	)
	switch cfg.Transport {
	case config.TransportGRPC:
		t, err = grpcx.New(grpcx.Options{Self: cfg.Rank, Ring: r, Codec: c, ListenAddr: cfg.Listen()})
	case config.TransportZMQ:
		t, err = zmq.New(zmq.Options{Self: cfg.Rank, Ring: r, Codec: c, BindAddr: cfg.Listen()})
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrTransportKind, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	t.Start()
	return t, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
