// Command httpauth serves HTTP endpoints protected by Basic, Digest and
// token authentication, and provides helpers for managing credentials.
//
// Configuration is read from a YAML file (--config, HTTPAUTH_CONFIG,
// ./config.yaml or /etc/httpauth/config.yaml) with HTTPAUTH_* environment
// overrides. See pkg/config for the full list.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/httpauth/pkg/auth"
	"github.com/rhuss/httpauth/pkg/auth/htdigest"
	"github.com/rhuss/httpauth/pkg/config"
	"github.com/rhuss/httpauth/pkg/observability"
	"github.com/rhuss/httpauth/pkg/transport"
	transporthttp "github.com/rhuss/httpauth/pkg/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	realm      string
	algorithm  string
	cost       int

	rootCmd = &cobra.Command{
		Use:           "httpauth",
		Short:         "HTTP authentication server",
		Long:          `httpauth protects HTTP endpoints with Basic, Digest and token authentication.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of httpauth",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "httpauth version %s\n", version)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok (port %d, session backend %s)\n",
				cfg.Server.Port, cfg.Session.Backend)
			return nil
		},
	}

	ha1Cmd = &cobra.Command{
		Use:   "ha1 USERNAME PASSWORD",
		Short: "Print an htdigest line for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg := auth.Algorithm(algorithm)
			if alg != auth.AlgorithmMD5 && alg != auth.AlgorithmSHA256 {
				return fmt.Errorf("unsupported algorithm %q", algorithm)
			}
			ha1 := auth.HA1(alg, args[0], realm, args[1])
			fmt.Fprintln(cmd.OutOrStdout(), htdigest.Format(args[0], realm, ha1))
			return nil
		},
	}

	bcryptCmd = &cobra.Command{
		Use:   "bcrypt PASSWORD",
		Short: "Print a bcrypt hash for use with basic.password_hash=bcrypt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")
	ha1Cmd.Flags().StringVar(&realm, "realm", auth.DefaultRealm, "digest realm")
	ha1Cmd.Flags().StringVar(&algorithm, "algorithm", string(auth.AlgorithmMD5), "digest algorithm (MD5 or SHA-256)")
	bcryptCmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	rootCmd.AddCommand(versionCmd, serveCmd, checkCmd, ha1Cmd, bcryptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("httpauth failed", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Observability.Logging, os.Stderr)
	slog.SetDefault(logger)

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, run := range a.background {
		go run(ctx)
	}

	var extra []transport.Middleware
	if cfg.Observability.Metrics.Enabled {
		extra = append(extra, observability.MetricsMiddleware)
	}

	srv := transporthttp.NewServer(a.handler, extra,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
	)

	logger.Info("httpauth starting",
		"version", version,
		"port", cfg.Server.Port,
		"session_backend", cfg.Session.Backend,
		"user_store", cfg.UserStore,
	)
	return srv.Run(ctx)
}
