package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"autoconfig.org/internal/config"
	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/modules"
	"autoconfig.org/internal/obs"
	"autoconfig.org/internal/workflow"
)

// app carries the state shared by every command of one invocation.
type app struct {
	cfg        config.Config
	configFile string
	global     []config.Opt
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{cfg: config.Default(), logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "autoconfig",
		Short:         "Provision FOLIO tenants and deploy sites",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML file with option values, keyed by flag name")
	a.global = config.GlobalOpts(&a.cfg)
	config.BindOptions(root, a.global)

	root.AddCommand(newFolioCommand(a), newSiteCommand(a))
	return root
}

// command registers opts on cmd and wraps fn with option resolution,
// logging and the optional metrics endpoint.
func (a *app) command(cmd *cobra.Command, opts []config.Opt, fn func(ctx context.Context, cmd *cobra.Command, args []string) error) *cobra.Command {
	config.BindOptions(cmd, opts)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		all := append(append([]config.Opt(nil), a.global...), opts...)
		if err := config.Resolve(cmd, all, a.configFile); err != nil {
			return err
		}
		if err := a.cfg.Validate(); err != nil {
			return err
		}
		a.logger = obs.NewLogger(cmd.ErrOrStderr(), a.cfg.LogFormat, a.cfg.LogLevel)
		obs.SetLogger(a.logger)
		defer func() { _ = a.logger.Sync() }()

		obs.Init()
		obs.InitBuildInfo(version, commit)
		if a.cfg.MetricsAddr != "" {
			stop := a.serveMetrics(a.cfg.MetricsAddr)
			defer stop()
		}
		return fn(cmd.Context(), cmd, args)
	}
	return cmd
}

// serveMetrics exposes /metrics until the returned func is called.
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) orchestrator(cmd *cobra.Command) (*workflow.Orchestrator, error) {
	client, err := gateway.New(a.cfg.OkapiURL,
		gateway.WithTimeout(a.cfg.HTTPTimeout),
		gateway.WithRateLimit(a.cfg.RateLimit, 1),
		gateway.WithLogger(a.logger),
		gateway.WithHeader("User-Agent", "autoconfig/"+version),
	)
	if err != nil {
		return nil, err
	}
	return workflow.New(client,
		workflow.WithLogger(a.logger),
		workflow.WithPolicies(a.cfg.Policies()),
		workflow.WithModuleOptions(modules.WithStdin(cmd.InOrStdin())),
	), nil
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
