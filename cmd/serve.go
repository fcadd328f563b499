package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dvzoll/internal/attempt"
	"dvzoll/internal/config"
	"dvzoll/internal/downloader"
	httprouter "dvzoll/internal/infrastructure/delivery/http"
	"dvzoll/internal/metadata"
	"dvzoll/internal/service"
	"dvzoll/internal/storage"
	httpserver "dvzoll/pkg/http/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const mockDownloadDuration = 3 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the attempt controller and the history workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log := app.cfg, app.log

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Port = addr
		}

		if simulate, _ := cmd.Flags().GetBool("simulate"); simulate {
			cfg.Attempt.Simulate = true
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)

		depMgr := newDepManager()

		log.InfoContext(ctx, "checking if yt-dlp, spotdl, ffmpeg are installed. it may take some time...")
		depMgr.Start(ctx)

		store, path, err := newSettingsStore()
		if err != nil {
			return err
		}

		log.InfoContext(ctx, "settings loaded", slog.String("path", path))

		dl, proxies, err := newExec(depMgr)
		if err != nil {
			return err
		}

		proxies.StartHealthChecker(ctx)

		opts := []attempt.Option{attempt.WithPreferences(store), attempt.WithMetrics(app.metrics)}
		if !cfg.Attempt.Simulate {
			opts = append(opts, attempt.WithBridge(dl))
		}

		attempts := attempt.New(log, cfg.Attempt, opts...)

		processor, err := newProcessor(log, cfg.History, dl)
		if err != nil {
			return err
		}

		storer, err := storage.New(ctx, log, cfg.Storage, app.metrics)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}

		history := service.New(log, cfg.History, storer, processor, app.metrics)
		history.Start(ctx)

		router := httprouter.New(log, httprouter.Deps{
			Attempts:       attempts,
			Settings:       store,
			History:        history,
			Metadata:       metadata.New(log, cfg.Metadata, nil, app.metrics),
			Tools:          depMgr,
			Metrics:        app.metrics,
			AuthTokens:     cfg.Auth.Tokens,
			CORSOrigins:    cfg.HTTP.AllowedOrigins(),
			HandlerTimeout: cfg.HTTP.HandlerTimeout,
		})

		srv := httpserver.New(ctx, router, httpserver.Options{
			Addr:            cfg.HTTP.Port,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		})

		log.InfoContext(ctx, "dvzoll started",
			slog.String("addr", cfg.HTTP.Port),
			slog.Bool("simulate", cfg.Attempt.Simulate),
			slog.String("processor", cfg.History.Processor),
			slog.Int("auth_users", len(cfg.Auth.Tokens)),
			slog.Int("proxies", proxies.Len()))

		g.Go(func() error {
			for err := range srv.Notify() {
				return fmt.Errorf("http server: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			return srv.Shutdown()
		})

		err = g.Wait()

		attempts.Close()
		history.Wait()

		if cerr := storer.Close(); cerr != nil {
			log.Error("close storage", slog.Any("error", cerr))
		}

		if err != nil {
			return err
		}

		log.Info("dvzoll shut down gracefully")

		return nil
	},
}

func newProcessor(log *slog.Logger, cfg config.History, dl downloader.Downloader) (service.Processor, error) {
	switch cfg.Processor {
	case "noop", "":
		return service.Noop(), nil
	case "mock":
		return service.NewBridge(log, downloader.NewMock(log, mockDownloadDuration), cfg.OutputDir), nil
	case "bridge":
		return service.NewBridge(log, dl, cfg.OutputDir), nil
	default:
		return nil, fmt.Errorf("unknown history processor %q, want noop, mock or bridge", cfg.Processor)
	}
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from DVZOLL_HTTP_PORT)")
	serveCmd.Flags().Bool("simulate", false, "run attempts with simulated progress instead of the download tools")

	rootCmd.AddCommand(serveCmd)
}
