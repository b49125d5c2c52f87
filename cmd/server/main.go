package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"shmpool/api/grpcserver"
	"shmpool/domain/threshold"
	"shmpool/domain/usage"
	"shmpool/infra/config"
	"shmpool/infra/dispatch"
	"shmpool/infra/events"
	"shmpool/infra/kafka"
	"shmpool/infra/logging"
	"shmpool/infra/outbox"
	"shmpool/infra/pattern"
	"shmpool/infra/sequence"
	"shmpool/infra/stats"
	"shmpool/jobs/broadcaster"
	"shmpool/service"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "shmpool exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// ---------------- Events ----------------

	seq := sequence.New(0)
	var (
		pub threshold.Publisher
		ob  *outbox.Outbox
	)
	switch cfg.Events.Publisher {
	case "log":
		pub = events.NewLog(logger)

	case "kafka":
		p := kafka.NewProducer(cfg.Events.Brokers, cfg.Events.Topic)
		defer p.Close()
		pub = p

	case "sarama":
		p, err := events.DialSarama(cfg.Events.Brokers, cfg.Events.Topic)
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p

	case "outbox":
		var err error
		if ob, err = outbox.Open(cfg.Events.OutboxDir); err != nil {
			return err
		}
		defer ob.Close()
		last, err := ob.LastSeq()
		if err != nil {
			return err
		}
		seq.Advance(last)
		pub = ob

		bc, err := broadcaster.Dial(ob, cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.DrainInterval, logger)
		if err != nil {
			return err
		}
		defer bc.Close()
		g.Go(func() error { return bc.Run(ctx) })
	}

	if q := cfg.Events.AsyncQueue; q > 0 {
		async := dispatch.NewAsync(pub, q, logger)
		g.Go(func() error { return async.Run(ctx) })
		pub = async
	}

	// ---------------- Pattern store ----------------

	var store usage.Store
	switch cfg.Pool.PatternStore {
	case "file":
		store = pattern.NewFile(cfg.Pool.PatternFile)
	case "pebble":
		if ob != nil {
			store = pattern.NewPebble(ob.DB())
			break
		}
		ps, err := pattern.OpenPebble(cfg.Pool.PatternDir)
		if err != nil {
			return err
		}
		defer ps.Close()
		store = ps
	}

	// ---------------- Pool ----------------

	pcfg, err := service.FromConfig(cfg.Pool)
	if err != nil {
		return err
	}
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithPublisher(pub),
		service.WithSequence(seq),
		service.WithEventContext(ctx),
	}
	if store != nil {
		opts = append(opts, service.WithPatternStore(store))
	}
	pool, err := service.New(pcfg, opts...)
	if err != nil {
		return errors.Wrap(err, "shared pool")
	}
	defer pool.Destroy()

	if _, err := pool.WarmUp(); err != nil {
		level.Warn(logger).Log("msg", "warm up skipped", "err", err)
	}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		stats.NewExporter(pool, pool.Histogram()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Server.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: mux}

		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return errors.Wrap(err, "grpc listen")
	}
	grpcSrv := grpc.NewServer()
	grpcserver.Register(grpcSrv, grpcserver.NewServer(pool, logger))

	g.Go(func() error { return grpcSrv.Serve(lis) })
	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	level.Info(logger).Log("msg", "shmpool running",
		"grpc", cfg.Server.GRPCAddr, "metrics", cfg.Server.HTTPAddr,
		"shmid", pool.RegionID(), "publisher", cfg.Events.Publisher)

	return g.Wait()
}
