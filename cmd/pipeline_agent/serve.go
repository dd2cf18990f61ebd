package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/config"
	"github.com/jonathan/extraction-pipeline/internal/logging"
	"github.com/jonathan/extraction-pipeline/internal/server"
	"github.com/jonathan/extraction-pipeline/internal/server/ratelimit"
	"github.com/jonathan/extraction-pipeline/internal/wiring"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts job submissions and pipeline runs.

Authentication is enabled when JWT_SECRET is set; issue tokens with the token command.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(serveConfigPath, os.Getenv, func(c *config.Config) {
		if cmd.Flags().Changed("port") {
			c.Port = servePort
		}
	})
	if err != nil {
		return err
	}
	initLogging(cfg, false)
	logger := logging.New("pipeline_agent")

	jwtConfig, err := config.OptionalJWTConfig(os.Getenv)
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}
	var jwtService *server.JWTService
	if jwtConfig != nil {
		jwtService = server.NewJWTService(jwtConfig)
	} else {
		logger.Warn("JWT_SECRET is not set; API is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wiring.Build(ctx, cfg, wiring.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Warn("failed to close", "error", err)
		}
	}()

	srvCfg := server.Config{
		Port:      cfg.Port,
		Jobs:      app.Ledger,
		Executor:  app.Executor,
		Scenarios: app.Scenarios,
		JWT:       jwtService,
		RateLimit: ratelimit.LoadConfig(os.Getenv),
		Metadata:  app.Metadata(version),
		Logger:    logger.With("component", "server"),
	}
	if app.Runs != nil {
		srvCfg.Runs = app.Runs
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}
