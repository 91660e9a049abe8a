package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"reaction-commerce/app"
	"reaction-commerce/config"
	"reaction-commerce/fixtures"
	"reaction-commerce/utils"
)

const (
	Version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "reaction-commerce",
		Short: "Commerce API: carts, checkout, orders and inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(port)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&port, "port", "", "HTTP port (overrides RC_APP_PORT)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(port)
		},
	})
	cmd.AddCommand(fixturesCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reaction-commerce version %s\n", Version)
		},
	})
	return cmd
}

func fixturesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "fixtures", Short: "Manage shop fixtures"}
	cmd.AddCommand(&cobra.Command{
		Use:   "load [path]",
		Short: "Upsert the shops, rates and products of a fixtures file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			path := cfg.Fixtures.Path
			if len(args) == 1 {
				path = args[0]
			}
			ctx := cmd.Context()
			st, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close(context.Background()) }()
			return fixtures.NewLoader(st, logger).LoadFile(ctx, path)
		},
	})
	return cmd
}

func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load config")
	}
	return cfg, utils.NewLogger(cfg.Log), nil
}

func serve(port string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.App.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.Jobs.Start()

	srv := a.Server()
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.App.Port).Info("server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.WithError(err).Error("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.WithError(serr).Warn("http shutdown")
	}
	a.Jobs.Stop(shutdownCtx)
	if cerr := a.Close(shutdownCtx); cerr != nil {
		logger.WithError(cerr).Warn("close connections")
	}
	return err
}
