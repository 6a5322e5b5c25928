package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/server"
)

var corsOrigins string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the research API over HTTP and WebSocket",
	Long: `Serve starts the research API:
- POST /api/research runs a session and returns its summary
- GET  /ws/research streams live session events
- GET  /api/sessions/... reads stored sessions, reports, graphs, sources and claims
- POST /api/planning/... backs interactive query planning

Example:
  verity serve
  verity serve --addr 127.0.0.1:9000 --cors http://localhost:3000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8000", "listen address")
	serveCmd.Flags().StringVar(&corsOrigins, "cors", "*", "allowed CORS origins, comma separated (empty disables)")
	serveCmd.Flags().IntVar(&targetSources, "target-sources", 30, "target source count when a request names none")

	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(a.pipeline, a.store, a.planner, logger,
		server.WithCORS(corsOrigins),
		server.WithEmbedder(a.embedder),
		server.WithTargetSources(targetSources),
	)

	fmt.Fprintf(os.Stderr, "✓ Verity API listening on %s\n", cfg.Server.Addr)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	return nil
}
