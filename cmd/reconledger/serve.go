package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/api"
	"github.com/Harshitk-cp/reconledger/internal/config"
	"github.com/Harshitk-cp/reconledger/internal/deltabridge"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 10 * time.Second
	metacogInterval   = 30 * time.Second
	deltaBridgeBuffer = 1024
)

func serveCmd(gf *globalFlags) *cobra.Command {
	var checkInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the world model over HTTP and verify claims in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(gf.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), gf.snapshotPath, checkInterval, logger)
		},
	}
	cmd.Flags().DurationVar(&checkInterval, "check-interval", metacogInterval, "How often metacognition re-checks the ledger")
	return cmd
}

func serve(parent context.Context, snapshotPath string, checkInterval time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, snapshotPath, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.verifier.Start()

	if natsURL := config.NATSURL(); natsURL != "" {
		conn, err := deltabridge.Connect(natsURL, logger)
		if err != nil {
			logger.Warn("delta bridge disabled", zap.Error(err))
		} else {
			defer conn.Close()
			bridge := deltabridge.New(conn, config.NATSSubjectPrefix(), logger)
			go bridge.Run(ctx, eng.orch.Bus(), deltaBridgeBuffer)
		}
	}

	go runMetaCognition(ctx, eng, checkInterval)

	app := api.NewApp(ctx, api.Deps{
		Orchestrator:   eng.orch,
		Verifier:       eng.verifier,
		MetaCognition:  eng.metacog,
		Registry:       eng.registry,
		Ping:           eng.ping,
		APIToken:       config.APIToken(),
		RateLimitRPS:   config.RateLimitRPS(),
		RateLimitBurst: config.RateLimitBurst(),
	}, logger)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
	}
	logger.Info("shutting down server")

	eng.verifier.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := eng.saveSnapshot(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

// runMetaCognition re-checks the ledger periodically and forwards
// probe-priority hints to the verifier queue.
func runMetaCognition(ctx context.Context, eng *engine, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.metacog.ClearHints()
			queued := enqueueProbeHints(eng, eng.metacog.Check())
			if queued > 0 {
				eng.logger.Info("hinted claims queued for verification", zap.Int("count", queued))
			}
		}
	}
}
