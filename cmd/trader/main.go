package main

import (
	"context"
	"net/http"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketmaker/internal/core"
	"marketmaker/internal/gateway"
	"marketmaker/internal/gateway/null"
	"marketmaker/internal/obs"
	"marketmaker/internal/ops"
	"marketmaker/internal/params"
	"marketmaker/internal/persist"
	"marketmaker/internal/publish"
	"marketmaker/internal/schema"
	"marketmaker/pkg/conn"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logs.Errorf("trader exited, err: %+v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var src ops.Source
	root := &cobra.Command{
		Use:           "trader",
		Short:         "Automated market maker for one pair on one venue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := ops.Load(src)
			if err != nil {
				return errors.Wrap(err, "load config")
			}
			return run(cmd.Context(), loaded)
		},
	}
	root.Flags().StringVar(&src.File, "config", "", "path to a YAML settings file")
	root.Flags().StringVar(&src.EnvFile, "env", ".env", "path to a .env file, skipped when missing")
	return root
}

func run(ctx context.Context, cfg ops.Loaded) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.PyroscopeURL != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "marketmaker." + cfg.BotIdentifier,
			ServerAddress:   cfg.PyroscopeURL,
			Tags: map[string]string{
				"exchange": cfg.Exchange.String(),
				"pair":     cfg.Pair.String(),
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start profiler")
		}
		defer func() { _ = profiler.Stop() }()
	}

	registry := gateway.NewRegistry()
	registry.Register(schema.ExchangeNull, null.Factory(cfg.Null))
	gw, err := registry.Open(cfg.Exchange, cfg.Pair)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	store, closeStore, err := openStore(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer closeStore()

	writer := persist.NewWriter(store, cfg.QueueSize)
	writer.Start()
	defer writer.Close()

	repo, err := params.NewRepository(cfg.Params)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	hub := publish.NewHub()
	trader, err := core.New(core.Deps{
		Gateway: gw,
		Params:  repo,
		Store:   store,
		Writer:  writer,
		Hub:     hub,
		Metrics: metrics,
		Config: core.Config{
			BotIdentifier:        cfg.BotIdentifier,
			QueueSize:            cfg.QueueSize,
			TimerInterval:        cfg.TimerInterval,
			StatsPersistInterval: cfg.StatsPersistInterval,
			ShutdownTimeout:      cfg.ShutdownTimeout,
			TradesHistoryLimit:   cfg.TradesHistoryLimit,
			AutoStart:            cfg.AutoStart,
		},
	})
	if err != nil {
		return err
	}

	web := publish.NewServer(cfg.WebListenAddr, hub)
	if err := web.Start(); err != nil {
		return err
	}
	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("metrics server stopped, err: %+v", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = web.Shutdown(sctx)
		_ = metricsSrv.Shutdown(sctx)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- trader.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-sys.Shutdown():
		logs.Info("shutdown signal received")
	case <-ctx.Done():
	}

	if err := trader.Shutdown(context.Background()); err != nil {
		logs.Errorf("shutdown incomplete, err: %+v", err)
	}
	return <-errCh
}

// openStore connects to postgres when one is configured, otherwise keeps
// everything in memory for the life of the process.
func openStore(ctx context.Context, opt conn.Option) (persist.Store, func(), error) {
	if !opt.Configured() {
		logs.Info("no postgres configured, persistence is in memory")
		return persist.NewMemory(), func() {}, nil
	}

	client, err := conn.New(opt)
	if err != nil {
		return nil, nil, err
	}
	store := persist.NewPostgres(client.DB())
	if err := store.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}
