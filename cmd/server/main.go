package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/crowdlines/crowdlines/internal/config"
	"github.com/crowdlines/crowdlines/internal/db"
	routes "github.com/crowdlines/crowdlines/internal/http"
	"github.com/crowdlines/crowdlines/internal/ws"
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:          "server",
		Short:        "crowdlines link aggregation API",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cfg.LogFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres://, sqlite:// or mongodb:// URL")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&cfg.Port, "port", cfg.Port, "listen port")
	}

	initCmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create the tables or indexes and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := db.OpenStore(cmd.Context(), cfg.DatabaseURL, cfg.MongoDatabase)
			if err != nil {
				return err
			}
			log.Println("Database ready.")
			return st.Close(context.Background())
		},
	}

	rootCmd.AddCommand(serveCmd, initCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging tees the standard logger and gin's writers into a rotating
// file when path is set.
func setupLogging(path string) {
	if path == "" {
		return
	}
	out := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	})
	log.SetOutput(out)
	gin.DefaultWriter = out
	gin.DefaultErrorWriter = out
}

func serve(ctx context.Context, cfg config.Config) error {
	st, err := db.OpenStore(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := gin.New()
	routes.SetupRoutes(ctx, router, st, hub, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exiting")
	return nil
}
