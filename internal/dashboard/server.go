package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/RohitKumar027/ReliabilityPortal/internal/models"
	"github.com/RohitKumar027/ReliabilityPortal/internal/supervisor"
)

// AlertLog is the alert store the API reads and acknowledges.
type AlertLog interface {
	List(ctx context.Context, unacknowledgedOnly bool, limit int) ([]models.Alert, error)
	Since(ctx context.Context, afterID uint) ([]models.Alert, error)
	LatestID(ctx context.Context) uint
	Acknowledge(ctx context.Context, id uint) error
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Supervisor *supervisor.Supervisor
	Alerts     AlertLog
	Port       int
	Origins    []string
	Logger     *slog.Logger
	Out        io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Supervisor == nil {
		return fmt.Errorf("dashboard: supervisor is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           Handler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// Handler returns the API router wrapped in the CORS policy. An empty
// origin list allows any origin.
func Handler(opts StartOpts) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{sup: opts.Supervisor, alerts: opts.Alerts, log: logger, poll: 3 * time.Second, heartbeat: 15 * time.Second}
	registerRoutes(router, a)

	origins := opts.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler(router)
}
