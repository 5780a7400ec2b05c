package main

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"secondhand/internal/analytics"
	"secondhand/internal/config"
	"secondhand/internal/http/handlers"
	applog "secondhand/internal/log"
	"secondhand/internal/repos"
	"secondhand/internal/services"
	"secondhand/internal/shutdown"
	"secondhand/internal/telemetry"
)

func main() {
	cfg := config.Load()

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			defer f.Close()
			mw := io.MultiWriter(os.Stdout, f)
			log.SetOutput(mw)
			applog.SetOutput(mw)
		}
	}
	defer applog.Sync()

	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	cleanup, err := telemetry.InitTracer(ctx, "secondhand", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer cleanup()

	db, err := repos.OpenDB(repos.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		LockTimeout: cfg.LockTimeout,
		Seed:        cfg.SeedDemo,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	authSvc := &services.AuthService{Users: repos.NewUserRepo(db)}
	deps := handlers.NewDeps(db, services.CoordinatorConfig{
		LockTimeout: cfg.LockTimeout,
		BusyRetries: cfg.BusyRetries,
	}, authSvc)

	pub, err := salesPublisher(cfg)
	if err != nil {
		log.Fatalf("sales sink %s: %v", cfg.SalesSink, err)
	}

	var wg sync.WaitGroup
	relay := analytics.NewRelay(repos.NewSalesRepo(db), pub, analytics.RelayConfig{Interval: cfg.RelayInterval})
	sweeper := &services.Sweeper{Coord: deps.Coord, Interval: cfg.SweepInterval}
	for _, run := range []func(context.Context){relay.Run, sweeper.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	app := handlers.NewApp(deps, handlers.AppOptions{AccessLog: os.Stdout, RateLimit: 120})
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			applog.Error(nil, "server.listen", err, map[string]any{"port": cfg.Port})
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("[shutdown] draining")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		applog.Error(nil, "server.shutdown", err, nil)
	}
	wg.Wait()
	if err := pub.Close(); err != nil {
		applog.Error(nil, "sales.sink.close", err, nil)
	}
}

func salesPublisher(cfg config.Config) (analytics.Publisher, error) {
	switch cfg.SalesSink {
	case "kafka":
		return analytics.NewKafkaPublisher(analytics.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaTopic), nil
	case "nats":
		nc, err := analytics.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		return analytics.NewNATSPublisher(nc, cfg.NATSSubject), nil
	default:
		return analytics.LogPublisher{}, nil
	}
}
