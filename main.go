package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/freekieb7/cinder/auth"
	"github.com/freekieb7/cinder/config"
	"github.com/freekieb7/cinder/database"
	"github.com/freekieb7/cinder/http"
	"github.com/freekieb7/cinder/mail"
	"github.com/freekieb7/cinder/responder"
	"github.com/freekieb7/cinder/scheduler"
	"github.com/freekieb7/cinder/session/storage"
	"github.com/freekieb7/cinder/telemetry"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cinder",
		Short:         "HTTP/1.1 server with file serving and account sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "cinder.yaml", "path to the yaml config file")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return root
}

func run(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.Logging.Level)

	tel, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Level:       level,
		Output:      os.Stdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Println("telemetry shutdown:", err)
		}
	}()
	logger := tel.Logger
	slog.SetDefault(logger)

	accounts, sessions, closeStores, err := openStores(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	mailer, err := newMailer(cfg.Mail, logger)
	if err != nil {
		return err
	}
	manager := auth.NewManager(accounts, sessions, mailer)
	manager.Logger = logger
	manager.Sender = cfg.Mail.From
	manager.SessionTTL = cfg.Auth.SessionTTL.Duration()
	manager.VerifyTTL = cfg.Auth.VerifyTTL.Duration()
	manager.SecretTTL = cfg.Auth.SecretTTL.Duration()

	metrics := responder.NewMetrics(strings.ReplaceAll(cfg.Telemetry.ServiceName, "-", "_"))
	routes, err := buildRoutes(cfg, manager, metrics, logger)
	if err != nil {
		return err
	}

	jobs := scheduler.NewScheduler(logger)
	if cfg.Auth.PurgeCron != "" {
		purge := scheduler.NewJob("purge-sessions").
			WithCron(cfg.Auth.PurgeCron).
			WithTimeout(time.Minute).
			WithTasks(func(ctx context.Context) error {
				_, err := manager.PurgeExpiredSessions(ctx)
				return err
			})
		if err := jobs.AddJob(purge); err != nil {
			return err
		}
	}

	server, err := http.New(cfg.Server.Address,
		http.WithName(cfg.Server.Name),
		http.WithLogger(logger),
		http.WithLimits(cfg.Limits()),
		http.WithIdleTimeout(cfg.Server.IdleTimeout.Duration()),
		http.WithWriteTimeout(cfg.Server.WriteTimeout.Duration()),
		http.WithTracerProvider(tel.TracerProvider),
		http.WithMeterProvider(tel.MeterProvider),
	)
	if err != nil {
		return err
	}
	logger.Info("limits",
		slog.String("max_request_line", cfg.Server.Limits.MaxRequestLine.String()),
		slog.String("max_header_size", cfg.Server.Limits.MaxHeaderSize.String()),
		slog.String("max_request_size", cfg.Server.Limits.MaxRequestSize.String()),
	)

	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		jobs.Run(ctx)
	}()

	serverErrorChannel := make(chan error, 1)
	go func() {
		serverErrorChannel <- server.Start(routes)
	}()

	select {
	case err = <-serverErrorChannel:
		stop()
	case <-ctx.Done():
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
		if startErr := <-serverErrorChannel; !errors.Is(startErr, http.ErrServerClosed) {
			err = errors.Join(err, startErr)
		}
	}
	<-jobsDone

	logger.Info("server stopped")
	return err
}

func openStores(cfg config.StorageConfig, logger *slog.Logger) (auth.AccountStore, storage.SessionStore, func(), error) {
	if cfg.Path == "" {
		logger.Warn("no storage path configured, accounts and sessions are kept in memory")
		return auth.NewMemoryAccountStore(), storage.NewMemorySessionStore(), func() {}, nil
	}

	db, err := database.Open(cfg.Path, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", slog.Any("error", err))
		}
	}
	return auth.NewPebbleAccountStore(db), storage.NewPebbleSessionStore(db), closeDB, nil
}

func newMailer(cfg config.MailConfig, logger *slog.Logger) (mail.Mailer, error) {
	switch cfg.Driver {
	case "smtp":
		mailer, err := mail.NewSMTPMailer(cfg.SMTPAddress, cfg.SMTPUser, cfg.SMTPPass)
		if err != nil {
			return nil, err
		}
		return mailer, nil
	case "api":
		return mail.NewAPIMailer(cfg.APIURL, cfg.APIToken), nil
	default:
		return mail.NewLogMailer(logger), nil
	}
}

func buildRoutes(cfg config.Config, manager *auth.Manager, metrics *responder.Metrics, logger *slog.Logger) (*http.Router, error) {
	router := http.NewRouter()

	var limit http.Middleware
	if cfg.RateLimit.RPS > 0 {
		limit = http.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	// First listed runs first, so Recover wraps everything.
	common := func(route string) []http.Middleware {
		mw := []http.Middleware{http.Recover(logger), http.Logging(logger)}
		if limit != nil {
			mw = append(mw, limit)
		}
		if cfg.CORS.Origin != "" {
			mw = append(mw, responder.CORS(cfg.CORS.Origin))
		}
		return append(mw, metrics.Instrument(route))
	}

	router.Get("/metrics", metrics.Handler(), http.Recover(logger))
	auth.Routes(router, manager, common("account")...)

	if cfg.CORS.Origin != "" {
		router.Options("/<path>", responder.NewOptionsResponder(cfg.CORS.Origin, cfg.CORS.Methods, cfg.CORS.Headers), http.Recover(logger))
	}

	if cfg.Static.Mount != "" {
		files, err := responder.NewFileResponder(cfg.Static.Mount, "path", cfg.Static.Index)
		if err != nil {
			return nil, err
		}
		pattern := strings.TrimSuffix(cfg.Static.Route, "/") + "/<path>"
		router.Get(pattern, files, common("static")...)
		router.Head(pattern, files, common("static")...)

		if cfg.Static.SPAFile != "" {
			spa, err := responder.NewSPAResponder(cfg.Static.Mount, cfg.Static.SPAFile)
			if err != nil {
				return nil, err
			}
			router.Get("/", spa, common("app")...)
			router.Get("/<path>", spa, common("app")...)
		}
	}

	return router, nil
}
