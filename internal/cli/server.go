package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/config"
	transport "exam-prep-service/internal/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	if cfg.Data.Source == config.SourceLive {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	syncCtx, stopSync := context.WithCancel(context.Background())
	defer stopSync()
	go app.SyncProfiles(syncCtx, st.provider, st.profiles)

	api := transport.NewAPI(st.catalog, st.attempts, st.provider)
	wsHandler := transport.NewWSHandler(st.attempts, st.provider)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/attempt", wsHandler.ServeWS)
	api.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Str("source", cfg.Data.Source).Msg("starting exam service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	go retryPendingResults(syncCtx, st.attempts, time.Minute)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)

	// closing keeps drafts so takers can resume after a restart
	st.attempts.CloseAll()
	if n, flushErr := st.attempts.FlushPendingResults(shutdownCtx); flushErr != nil {
		log.Error().Err(flushErr).Int("saved", n).Msg("pending results lost on shutdown")
	}
	return err
}

// retryPendingResults periodically stores results that failed on submission.
func retryPendingResults(ctx context.Context, attempts *app.AttemptService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := attempts.FlushPendingResults(ctx)
			if n > 0 {
				log.Info().Int("saved", n).Msg("pending results stored")
			}
			if err != nil {
				log.Warn().Err(err).Msg("pending results still not stored")
			}
		}
	}
}
