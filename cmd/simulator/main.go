package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/internal/config"
	"github.com/signalsfoundry/agentsim/internal/demo/flock"
	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/internal/observability"
	"github.com/signalsfoundry/agentsim/internal/persistence/indexdb"
	"github.com/signalsfoundry/agentsim/internal/persistence/tracelog"
	"github.com/signalsfoundry/agentsim/internal/transport/observer"
)

// Config holds the process options of the headless simulator.
type Config struct {
	ScenarioPath string
	TuningPath   string
	Ticks        int
	// DT overrides the tuning tick rate when positive.
	DT time.Duration
	// Seed overrides the scenario and tuning seeds when non-zero.
	Seed     uint64
	RealTime bool
	Wrap     bool

	MetricsAddress  string
	GRPCAddress     string
	ObserverAddress string
	TraceDir        string
	IndexDBPath     string
}

// parseFlags parses args, reporting problems and usage to stderr.
func parseFlags(args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.ScenarioPath, "scenario", "configs/pond.yaml", "YAML scenario to load")
	fs.StringVar(&cfg.TuningPath, "tuning", "", "YAML tuning overrides (defaults when empty)")
	fs.IntVar(&cfg.Ticks, "ticks", 0, "ticks to run; 0 runs until interrupted")
	fs.DurationVar(&cfg.DT, "dt", 0, "simulation step; defaults to 1/tick_rate_hz")
	fs.Uint64Var(&cfg.Seed, "seed", 0, "random seed; 0 keeps the scenario or tuning seed")
	fs.BoolVar(&cfg.RealTime, "realtime", false, "pace ticks to the wall clock")
	fs.BoolVar(&cfg.Wrap, "wrap", false, "wrap vehicles around the world edges")
	fs.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&cfg.GRPCAddress, "grpc-addr", "", "TCP address for the gRPC health service (empty disables)")
	fs.StringVar(&cfg.ObserverAddress, "observer-addr", "", "HTTP address for the /observe websocket feed (empty disables)")
	fs.StringVar(&cfg.TraceDir, "trace-dir", "", "directory for the zstd replay trace (empty disables)")
	fs.StringVar(&cfg.IndexDBPath, "index-db", "", "SQLite tick index path (empty disables)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ScenarioPath == "" {
		err := errors.New("-scenario is required")
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return cfg, err
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	var lis net.Listener
	if cfg.GRPCAddress != "" {
		if lis, err = net.Listen("tcp", cfg.GRPCAddress); err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddress), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "simulator exited", logging.Err(err))
		os.Exit(1)
	}
}

// run loads the scenario, wires the side channels and steps the engine
// until cfg.Ticks have run or ctx is cancelled. lis may be nil to skip the
// gRPC health server.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	ctx, runID := logging.EnsureRunID(ctx)
	tune := config.Default()
	if cfg.TuningPath != "" {
		var err error
		if tune, err = config.Load(cfg.TuningPath); err != nil {
			return err
		}
	}

	f, err := os.Open(cfg.ScenarioPath)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	sc, err := core.LoadScenario(f)
	_ = f.Close()
	if err != nil {
		return err
	}
	switch {
	case cfg.Seed != 0:
		sc.Seed = cfg.Seed
	case sc.Seed == 0:
		sc.Seed = tune.Seed
	}
	dt := cfg.DT
	if dt <= 0 {
		dt = tune.TickDuration()
	}

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}

	engineOpts := []core.Option{
		core.WithLogger(log.With(logging.String("component", "engine"))),
		core.WithMetrics(collector),
		core.WithTracer(observability.Tracer()),
		core.WithNeighborRadius(tune.NeighborRadius),
	}

	var trace *tracelog.Writer
	if cfg.TraceDir != "" {
		trace = tracelog.NewWriter(cfg.TraceDir, "trace", uint64(tune.Trace.SegmentTicks))
		defer func() {
			if err := trace.Close(); err != nil {
				log.Warn(context.Background(), "trace close failed", logging.Err(err))
			}
		}()
		engineOpts = append(engineOpts, core.WithDeliveryObserver(trace.ObserveDelivery))
	}

	var index *indexdb.SQLiteIndex
	if cfg.IndexDBPath != "" {
		if index, err = indexdb.OpenSQLite(cfg.IndexDBPath, 0); err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer func() {
			if dropped := index.Dropped(); dropped > 0 {
				log.Warn(context.Background(), "index rows dropped", logging.Uint64("count", dropped))
			}
			_ = index.Close()
		}()
		if err := index.RecordRun(ctx, sc.Name, sc.Seed); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		engineOpts = append(engineOpts, core.WithDeliveryObserver(index.ObserveDelivery))
	}

	se, err := core.NewSimulationEngine(sc.WorldWithCells(tune.Grid.CellsX, tune.Grid.CellsY), engineOpts...)
	if err != nil {
		return err
	}
	fl, err := flock.Build(se, sc, tune, flock.Options{Metrics: collector, Wrap: cfg.Wrap})
	if err != nil {
		return err
	}
	if trace != nil {
		se.RegisterTickListener(trace.ObserveTick)
	}
	if index != nil {
		se.RegisterTickListener(index.ObserveTick)
	}

	var servers []*http.Server
	if srv := serveMetrics(cfg.MetricsAddress, collector, log); srv != nil {
		servers = append(servers, srv)
	}

	if cfg.ObserverAddress != "" {
		hub := observer.NewHub(log.With(logging.String("component", "observer")))
		defer hub.Close()
		se.RegisterTickListener(hub.TickListener(se.Registry, uint64(tune.Observer.BroadcastEveryTicks)))
		mux := http.NewServeMux()
		mux.Handle("/observe", hub.Handler())
		servers = append(servers, serveHTTP(cfg.ObserverAddress, mux, "observer feed", log))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}()

	var healthSrv *health.Server
	if lis != nil {
		var server *grpc.Server
		server, healthSrv = newGRPCServer(collector, log.With(logging.String("component", "grpc")), runID)
		log.Info(ctx, "starting gRPC health server", logging.String("addr", lis.Addr().String()))
		go func() {
			if err := server.Serve(lis); err != nil {
				log.Error(ctx, "gRPC server exited", logging.Err(err))
			}
		}()
		defer server.GracefulStop()
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	log.Info(ctx, "scenario loaded",
		logging.String("scenario", sc.Name),
		logging.Uint64("seed", sc.Seed),
		logging.Int("vehicles", len(fl.Boids)),
		logging.Duration("dt", dt),
		logging.Bool("realtime", cfg.RealTime),
	)

	if cfg.RealTime {
		err = se.RunRealTime(ctx, cfg.Ticks, dt)
	} else {
		err = se.Run(ctx, cfg.Ticks, dt)
	}
	if healthSrv != nil {
		healthSrv.Shutdown()
	}
	if errors.Is(err, context.Canceled) {
		log.Info(context.Background(), "simulator interrupted", logging.Uint64("tick", se.Tick()))
		return nil
	}
	return err
}

func newGRPCServer(collector *observability.SimCollector, log logging.Logger, runID string) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.LoggingUnaryServerInterceptor(log, runID),
			observability.SpanAttributesUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	reflection.Register(server)
	return server, healthSrv
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return serveHTTP(addr, mux, "Prometheus metrics", log)
}

func serveHTTP(addr string, handler http.Handler, what string, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), what+" server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving "+what, logging.String("addr", addr))
	return srv
}
