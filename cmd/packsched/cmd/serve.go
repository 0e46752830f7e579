package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SandrickPro/packsched/pkg/api"
	"github.com/SandrickPro/packsched/pkg/cluster"
	"github.com/SandrickPro/packsched/pkg/config"
	"github.com/SandrickPro/packsched/pkg/health"
	"github.com/SandrickPro/packsched/pkg/models"
	"github.com/SandrickPro/packsched/pkg/placement"
	"github.com/SandrickPro/packsched/pkg/ratelimit"
	"github.com/SandrickPro/packsched/pkg/scheduler"
	"github.com/SandrickPro/packsched/pkg/shutdown"
	"github.com/SandrickPro/packsched/pkg/store"
	"github.com/SandrickPro/packsched/pkg/tracing"
)

var serveCfgFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler server",
	Long: `Start the scheduler: the HTTP API, the dispatch loop, the heartbeat
monitor and the decision archive, wired together from the server config.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveCfgFile, "server-config", "", "server config file (YAML)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer(serveCfgFile)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	log := logrus.WithField("component", "serve")

	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}

	provider, err := tracing.Init(tracing.Config{
		ServiceName:  "packsched",
		OTLPEndpoint: cfg.Tracing.Endpoint,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return err
	}

	clusterState := cluster.NewState()
	if cfg.Inventory != "" {
		nodes, err := config.LoadInventory(cfg.Inventory)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			id, err := clusterState.AddNode(node)
			if err != nil {
				return fmt.Errorf("bootstrap node %q: %w", node.Name, err)
			}
			log.WithFields(logrus.Fields{"node": id, "name": node.Name}).Info("node bootstrapped")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := scheduler.NewMetrics(registry)

	opts := []scheduler.Option{
		scheduler.WithMetrics(metrics),
		scheduler.OnDecision(func(d *models.SchedulingDecision) {
			if err := archive.RecordDecision(d); err != nil {
				log.WithError(err).Warn("archive decision")
			}
		}),
		scheduler.OnFinish(func(j *models.Job) {
			if err := archive.RecordJob(j); err != nil {
				log.WithError(err).Warn("archive job")
			}
		}),
	}
	if cfg.Retry.Enabled {
		policy := models.DefaultRetryPolicy()
		policy.MaxAttempts = cfg.Retry.MaxAttempts
		opts = append(opts, scheduler.WithRetryPolicy(policy))
	}
	sched := scheduler.New(clusterState, placement.NewBestFit(), opts...)

	dispatcher := scheduler.NewDispatcher(sched, scheduler.DispatcherConfig{
		Interval:     cfg.Dispatch.Interval,
		MaxBackoff:   cfg.Dispatch.MaxBackoff,
		MaxQueueTime: cfg.Dispatch.MaxQueueTime,
	})
	dispatcher.Start()

	monitor := health.NewMonitor(clusterState, sched, health.MonitorConfig{
		CheckInterval:    cfg.Health.CheckInterval,
		HeartbeatTimeout: cfg.Health.HeartbeatTimeout,
	})
	monitor.Start()

	router := mux.NewRouter()
	api.NewHandler(sched, clusterState, archive).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	limiter := ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	router.Use(tracing.HTTPMiddleware(provider), limiter.Middleware)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mgr := shutdown.New(15 * time.Second)
	mgr.Register(func(ctx context.Context) error { return archive.Close() })
	mgr.Register(func(ctx context.Context) error { return provider.Shutdown(ctx) })
	mgr.Register(func(ctx context.Context) error { monitor.Stop(); return nil })
	mgr.Register(func(ctx context.Context) error { dispatcher.Stop(); return nil })
	mgr.Register(func(ctx context.Context) error { return srv.Shutdown(ctx) })

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("scheduler server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	mgr.Wait()
	return nil
}

func setupLogging(cfg *config.Server) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func openArchive(cfg *config.Server) (store.Archive, error) {
	switch cfg.Archive.Driver {
	case "", "memory":
		return store.NewMemoryArchive(), nil
	case "sqlite":
		dsn := cfg.Archive.DSN
		if dsn == "" {
			dsn = "packsched.db"
		}
		return store.NewSQLiteArchive(dsn)
	case "postgres":
		return store.NewPostgresArchive(cfg.Archive.DSN)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Archive.Driver)
	}
}
