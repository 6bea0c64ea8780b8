package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repolens/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the repolens HTTP API server. Batches submitted over the API
run in the background; results are polled via /api/v1/results and
/api/v1/batches.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	orch, err := buildOrchestrator(cfg, st, logger)
	if err != nil {
		return err
	}
	defer orch.Stop()

	if cfg.Store.RetentionDays > 0 {
		retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
		if removed, err := st.CleanupOldRecords(retention); err == nil && removed > 0 {
			logger.Info("Removed expired analysis records", map[string]interface{}{
				"removed": removed,
			})
		}
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	server := api.NewServer(addr, orch, st, cfg.Server.AuthTokenHash, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("repolens API listening on http://%s\n", addr)
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
