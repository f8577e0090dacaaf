// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line interface of the authorization server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/handlers"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// version is set at build time with -ldflags "-X .../app.version=...".
var version = "dev"

// NewRootCmd creates the root command of the authserver CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "authserver",
		DisableAutoGenTag: true,
		Short:             "OAuth 2.0 authorization server for carbuildervin",
		Long: `authserver issues access and refresh tokens to MCP clients such as Claude Desktop
and ChatGPT Desktop so they can act on a user's vehicles, builds, and parts.

It implements the authorization code grant with PKCE, refresh token rotation,
token revocation, dynamic client registration, and authorization server metadata.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newDeactivateClientCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the authorization server.

Configuration is read from the file given by --config and from AUTHSERVER_*
environment variables, e.g. AUTHSERVER_AUTH_SIGNING_SECRET.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "Listen address (overrides server.address)")
	if err := viper.BindPFlag("server.address", cmd.Flags().Lookup("address")); err != nil {
		logger.Errorf("Error binding address flag: %v", err)
	}
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the configuration file and environment overrides.

This command checks the issuer, signing secret, token lifetimes, static clients,
storage backend settings, and that the user directory can be loaded.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(viper.GetViper(), viper.GetString("config"))
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			users, err := identity.LoadDirectory(cfg.Identity.UsersFile)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			auth := cfg.Auth.WithDefaults()
			logger.Infof("Configuration is valid")
			logger.Infof("  Issuer: %s", auth.Issuer)
			logger.Infof("  Storage: %s", cfg.Storage.Type)
			logger.Infof("  Static clients: %d", len(auth.StaticClients))
			logger.Infof("  Users: %d", users.Len())
			return nil
		},
	}
}

func newDeactivateClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate-client <client-id>",
		Short: "Deactivate a registered client",
		Long: `Deactivate a registered client in the configured storage backend.

A deactivated client can no longer start authorizations, redeem codes, or
refresh tokens. Static clients stay deactivated across restarts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetViper(), viper.GetString("config"))
			if err != nil {
				return err
			}
			users, err := identity.LoadDirectory(cfg.Identity.UsersFile)
			if err != nil {
				return err
			}
			stor, err := storage.New(cmd.Context(), &cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer func() {
				if err := stor.Close(); err != nil {
					logger.Warnw("failed to close storage", "error", err)
				}
			}()
			return deactivateClient(cmd.Context(), cfg.Auth, stor, users, args[0])
		},
	}
}

func deactivateClient(
	ctx context.Context, auth authserver.Config, stor storage.Storage, users identity.UserLookup, id string,
) error {
	svc, err := authserver.New(auth, stor, users)
	if err != nil {
		return err
	}
	return svc.DeactivateClient(ctx, id)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("authserver version: %s", version)
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(viper.GetViper(), viper.GetString("config"))
	if err != nil {
		return err
	}

	users, err := identity.LoadDirectory(cfg.Identity.UsersFile)
	if err != nil {
		return err
	}
	logger.Infow("loaded user directory", "path", cfg.Identity.UsersFile, "users", users.Len())

	stor, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := stor.Close(); err != nil {
			logger.Warnw("failed to close storage", "error", err)
		}
	}()

	metrics, err := newMetricsProvider(cfg.Server.Metrics)
	if err != nil {
		return err
	}
	if err := observeMemoryStorage(metrics.meterProvider, stor); err != nil {
		return err
	}

	svc, err := authserver.New(cfg.Auth, stor, users,
		authserver.WithMeterProvider(metrics.meterProvider),
		authserver.WithLogger(logger.Get()),
	)
	if err != nil {
		return err
	}
	if err := svc.EnsureStaticClients(ctx); err != nil {
		return fmt.Errorf("failed to register static clients: %w", err)
	}

	h := handlers.NewHandler(svc,
		identity.NewHeaderAuthenticator(cfg.Identity.Header, users),
		handlers.WithRegisterLimit(cfg.Server.registerLimit(), cfg.Server.RegisterBurst),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newRouter(h, stor, metrics.handler),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("authorization server listening",
			"address", cfg.Server.Address,
			"issuer", svc.Config().Issuer,
			"storage", cfg.Storage.Type,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down authorization server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return metrics.shutdown(shutdownCtx)
	})
	g.Go(func() error {
		svc.RunCleanup(gctx, cfg.Server.CleanupInterval)
		return nil
	})

	return g.Wait()
}

// newRouter mounts the OAuth endpoints next to the operational ones.
func newRouter(h *handlers.Handler, stor storage.Storage, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := stor.Ping(req.Context()); err != nil {
			logger.Warnw("storage health check failed", "error", err)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	r.Mount("/", h.Routes())
	return r
}
