package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/internal/demo/westworld"
	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/internal/observability"
	"github.com/signalsfoundry/agentsim/internal/persistence/indexdb"
	"github.com/signalsfoundry/agentsim/messaging"
)

// Config holds the options of a WestWorld run.
type Config struct {
	Ticks       int
	DT          time.Duration
	Seed        uint64
	RealTime    bool
	IndexDBPath string
}

func main() {
	var cfg Config
	flag.IntVar(&cfg.Ticks, "ticks", 30, "ticks to run")
	flag.DurationVar(&cfg.DT, "dt", 800*time.Millisecond, "simulation step")
	flag.Uint64Var(&cfg.Seed, "seed", 1, "random seed for Elsa's chores")
	flag.BoolVar(&cfg.RealTime, "realtime", false, "wait dt of wall time between ticks")
	flag.StringVar(&cfg.IndexDBPath, "index-db", "", "SQLite path to record transitions and telegrams (empty disables)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "westworld:", err)
		os.Exit(1)
	}
}

// run plays the demo and writes the entities' lines to out.
func run(ctx context.Context, cfg Config, out io.Writer) error {
	log := logging.New(logging.Config{Level: "info", Format: "text", Output: out})

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	var index *indexdb.SQLiteIndex
	if cfg.IndexDBPath != "" {
		if index, err = indexdb.OpenSQLite(cfg.IndexDBPath, 0); err != nil {
			return err
		}
		defer index.Close()
		if err := index.RecordRun(ctx, "westworld", cfg.Seed); err != nil {
			return err
		}
	}

	engineOpts := []core.Option{
		core.WithMetrics(collector),
		core.WithDeliveryObserver(func(d messaging.Delivery) {
			log.Debug(ctx, "telegram",
				logging.String("msg", westworld.MessageName(d.Telegram.Msg)),
				logging.String("outcome", d.Outcome()))
		}),
	}
	if index != nil {
		engineOpts = append(engineOpts, core.WithDeliveryObserver(index.ObserveDelivery))
	}
	se, err := core.NewSimulationEngine(core.WorldConfig{Width: 1, Height: 1, CellsX: 1, CellsY: 1}, engineOpts...)
	if err != nil {
		return err
	}
	if index != nil {
		se.RegisterTickListener(index.ObserveTick)
	}

	changes := 0
	w, err := westworld.NewWorld(se.Context(ctx), se, westworld.Options{
		Seed:   cfg.Seed,
		Logger: log,
		Observer: func(owner string, tr fsm.Transition) {
			changes++
			collector.ObserveTransition(tr)
			index.RecordTransition(owner, tr)
		},
	})
	if err != nil {
		return err
	}

	if cfg.RealTime {
		err = se.RunRealTime(ctx, cfg.Ticks, cfg.DT)
	} else {
		err = se.Run(ctx, cfg.Ticks, cfg.DT)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Fprintf(out, "\n%s banked %d nuggets in %d ticks (%s); %d state changes.\n",
		w.Miner.Name(), w.Miner.MoneyInBank, se.Tick(), se.Clock.Elapsed(), changes)
	return nil
}
