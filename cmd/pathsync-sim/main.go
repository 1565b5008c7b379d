// Command pathsync-sim drives a simulated player through a tracker
// connected to a collector. It is the quickest way to exercise a
// collector deployment end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pathsync/internal/config"
	"github.com/teslashibe/go-pathsync/internal/log"
	"github.com/teslashibe/go-pathsync/pkg/eventbus"
	"github.com/teslashibe/go-pathsync/pkg/input"
	"github.com/teslashibe/go-pathsync/pkg/outage"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
	"github.com/teslashibe/go-pathsync/pkg/tracking"
	"github.com/teslashibe/go-pathsync/pkg/transport"
)

const endTimeout = 10 * time.Second

type options struct {
	CollectorURL string
	SessionID    string
	UserID       string
	OutageURL    string
	Duration     time.Duration
	Steps        int
	Seed         uint64
	Tracking     tracking.Config
	Simulator    input.SimulatorConfig
}

// result summarizes a finished run.
type result struct {
	SessionID string
	Status    tracking.Status
	Transport transport.Stats
}

func main() {
	cfg := config.Load()

	collectorURL := flag.String("collector", cfg.CollectorURL, "Collector base URL")
	sessionID := flag.String("session", cfg.SessionID, "Session id (random when empty)")
	duration := flag.Duration("duration", 2*time.Minute, "How long to simulate")
	steps := flag.Int("steps", 60, "Number of random script steps")
	seed := flag.Uint64("seed", 0, "Random seed (0 picks one)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := cfg.LogLevel
	if *debug {
		level = "debug"
	}
	log.Init(level, cfg.LogFormat)

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, options{
		CollectorURL: *collectorURL,
		SessionID:    *sessionID,
		UserID:       cfg.UserID,
		OutageURL:    cfg.OutageURL,
		Duration:     *duration,
		Steps:        *steps,
		Seed:         *seed,
		Tracking:     cfg.TrackingConfig(),
		Simulator:    input.DefaultSimulatorConfig(),
	})
	if err != nil {
		log.Error("simulation failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("session %s: path %s, %d samples, %d flushes, %d acks, %d segments unsent\n",
		res.SessionID, res.Status.PathID, res.Status.Stats.Samples, res.Status.Stats.Flushes,
		res.Status.Stats.Acks, res.Status.Segments)
}

func run(ctx context.Context, opts options) (result, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	logger := log.For("sim").With("session", opts.SessionID)

	bus := eventbus.New(log.For("eventbus"))
	client := transport.New(transport.DefaultConfig(opts.CollectorURL, opts.SessionID), bus, log.For("transport"))

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed>>1|1))
	sim := input.NewSimulator(opts.Simulator, input.RandomScript(rng, opts.Steps), log.For("simulator"))

	tr, err := tracking.New(opts.Tracking, bus, input.NewIdleDetector(sim, 0, nil), sim, client,
		tracking.WithLogger(log.For("tracking")),
		tracking.WithSessionID(opts.SessionID),
		tracking.WithOutageReporter(outage.FromURL(opts.OutageURL, log.For("outage"))),
	)
	if err != nil {
		return result{}, err
	}

	bus.Subscribe(eventbus.TopicSegmentsTrimmed, func(p any) {
		if ev, ok := p.(tracking.TrimEvent); ok {
			logger.Info("segments synced", "path", ev.PathID, "added", ev.Added, "remaining", ev.Remaining)
		}
	})
	bus.Subscribe(eventbus.TopicSegmentOpened, func(p any) {
		if ev, ok := p.(tracking.SegmentEvent); ok {
			logger.Debug("segment", "decision", ev.Decision, "from", ev.From, "to", ev.To)
		}
	})

	// the transport outlives the run so path_end can still be sent
	transportCtx, stopTransport := context.WithCancel(context.Background())
	defer stopTransport()
	go client.Run(transportCtx)

	runCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()
	go sim.Run(runCtx)

	if err := tr.Start(); err != nil {
		return result{}, err
	}
	logger.Info("simulation started", "collector", opts.CollectorURL, "duration", opts.Duration)
	tr.Run(runCtx)

	reason := "duration"
	if ctx.Err() != nil {
		reason = "user"
	}

	endCtx, endCancel := context.WithTimeout(context.Background(), endTimeout)
	defer endCancel()

	endErr := tr.End(endCtx, protocol.SessionMetadata{UserID: opts.UserID, Reason: reason})
	if err := client.Drain(endCtx); err != nil {
		logger.Warn("transport not drained", "error", err)
	}
	_ = client.Close()

	res := result{SessionID: opts.SessionID, Status: tr.Status(), Transport: client.Stats()}
	if endErr != nil {
		return res, endErr
	}
	logger.Info("simulation ended", "path", res.Status.PathID, "reason", reason)
	return res, nil
}
