// Gray Logic Hub - home automation core
//
// grayhub runs the hub's state store, event bus, service registry, config
// entries and registries behind a WebSocket command API.
//
//	grayhub serve --config configs/config.yaml
//	grayhub token --user admin --ttl 720h
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/api"
	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/hub"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const configEnv = "GRAYHUB_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	ephemeral  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "grayhub",
		Short:         "Gray Logic home automation hub",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(configEnv),
		"config file (env "+configEnv+"; defaults and environment only when empty)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub and its WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	serveCmd.Flags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep all data in memory")

	root.AddCommand(serveCmd, newTokenCmd(opts), newVersionCmd())
	return root
}

func newTokenCmd(opts *options) *cobra.Command {
	var (
		user string
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := auth.IssueToken(user, name, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "admin", "token subject")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*time.Minute, "lifetime; negative never expires")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "grayhub %s (commit %s, built %s)\n", version, commit, date)
}

// serve runs the hub until ctx is cancelled.
func serve(ctx context.Context, opts *options) error {
	log := logging.Default()
	log.Info("starting Gray Logic Hub", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath, "level", cfg.Logging.Level)

	h, err := hub.New(ctx, cfg, hub.Options{Version: version, Logger: log, Ephemeral: opts.ephemeral})
	if err != nil {
		return err
	}
	defer func() {
		// The signal context is already cancelled here.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		log.Info("stopping hub")
		if closeErr := h.Close(closeCtx); closeErr != nil {
			log.Error("error stopping hub", "error", closeErr)
		}
	}()
	h.Start(ctx)

	srv, err := api.New(api.Deps{
		Config:  cfg,
		Hub:     h,
		Auth:    auth.NewValidator(cfg.Auth),
		Logger:  log.Component("api"),
		Version: version,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API listening", "addr", srv.Addr(), "websocket", cfg.API.WebSocket.Path)

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := srv.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("error stopping API server", "error", err)
	}
	log.Info("Gray Logic Hub stopped")
	return nil
}
