// Command fmcore-worker runs the background side of fmcore: it migrates the
// schema, executes queued recompute jobs and, on the elected leader replica,
// archives old audit entries and schedules periodic depreciation refreshes.
// Its ops server also shows each tenant's recompute queue.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"k8s.io/client-go/kubernetes"

	"github.com/facilityhub/fmcore/pkg/app"
	"github.com/facilityhub/fmcore/pkg/config"
	"github.com/facilityhub/fmcore/pkg/ha"
	"github.com/facilityhub/fmcore/pkg/logging"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

var flagBindings = []config.FlagBinding{
	{Key: "server.addr", Flag: "listen"},
	{Key: "database.type", Flag: "db-type"},
	{Key: "database.dsn", Flag: "db-dsn"},
	{Key: "log.level", Flag: "log-level"},
	{Key: "job.concurrency", Flag: "concurrency"},
	{Key: "ha.leader_election_enabled", Flag: "leader-elect"},
}

func main() {
	configPath := pflag.String("config", "", "Path to a YAML config file")
	pflag.String("listen", "", "Address of the metrics and health endpoints")
	pflag.String("db-type", "", "Database type: postgres, mysql or sqlite")
	pflag.String("db-dsn", "", "Database connection string")
	pflag.String("log-level", "", "Log level: debug, info, warn, error")
	pflag.Int("concurrency", 0, "Number of recompute workers")
	pflag.Bool("leader-elect", false, "Elect a leader through a Kubernetes Lease")
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	_ = flag.Set("logtostderr", "true")

	cfg, err := config.Load(*configPath, pflag.CommandLine, flagBindings...)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	logger, syncLog, err := logging.New(&cfg.Log)
	if err != nil {
		glog.Fatalf("Failed to set up logging: %v", err)
	}
	defer syncLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Open(cfg, logger, reg)
	if err != nil {
		glog.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	var client kubernetes.Interface
	if cfg.HA.LeaderElectionEnabled {
		client, err = ha.InClusterClient()
		if err != nil {
			glog.Fatalf("Failed to create Kubernetes client for leader election: %v", err)
		}
	}
	elector := ha.NewLeaderElector(&cfg.HA, client, logger.With("component", "leader"))

	ops := newOpsServer(a.DB, reg, elector).
		withTenantJobs(tenancy.NewMiddleware(cfg.Tenancy.Mode, a.Provider), a.Jobs)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: ops.routes(),
	}
	go func() {
		logger.Info("ops server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	locker := ha.NewMigrationLocker(a.DB, &cfg.HA, logger.With("component", "migrations"))
	if err := locker.WithLock(ctx, func() error { return a.Migrate(ctx) }); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}
	ops.migrated.Store(true)

	logger.Info("fmcore worker ready",
		"identity", cfg.HA.Identity,
		"concurrency", cfg.Job.Concurrency,
		"leaderElection", cfg.HA.LeaderElectionEnabled)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.WorkerPool().Run(ctx)
	}()
	go func() {
		defer wg.Done()
		elector.Lead(ctx, func(leaderCtx context.Context) {
			runSingletons(leaderCtx, a)
		})
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	wg.Wait()
	logger.Info("fmcore worker stopped")
}

// runSingletons runs the workers that must not run on more than one replica
// and returns once both stopped.
func runSingletons(ctx context.Context, a *app.App) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.ArchiveWorker().Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Scheduler().Run(ctx)
	}()
	wg.Wait()
}
