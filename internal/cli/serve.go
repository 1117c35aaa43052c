package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"allies-service/internal/config"
	"allies-service/internal/db"
	"allies-service/internal/feed"
	igrpc "allies-service/internal/grpc"
	"allies-service/internal/handlers"
	"allies-service/internal/metrics"
	"allies-service/internal/middleware"
	"allies-service/internal/observability"
	"allies-service/internal/rabbitmq"
	"allies-service/internal/repositories"
	"allies-service/internal/services"
	"allies-service/internal/telemetry"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and gRPC health servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return serve(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

// routerDeps is everything the HTTP surface needs.
type routerDeps struct {
	Config      config.Config
	Logger      *slog.Logger
	Ping        func(context.Context) error
	Connections *services.ConnectionService
	Listings    *services.ListingService
	Feed        *feed.Hub
	Audit       *telemetry.AuditEmitter
	AccessLog   io.Writer
}

func serve(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.InitMetrics(prometheus.DefaultRegisterer)
	metrics.RegisterAlliesMetrics()

	database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer database.Close()

	events := rabbitmq.Connect(rabbitmq.Config{URL: cfg.AMQPURL, Exchange: cfg.EventsExchange, AppID: cfg.ServiceName}, logger)
	defer events.Close()
	auditPublisher := rabbitmq.Connect(rabbitmq.Config{URL: cfg.AMQPURL, Exchange: cfg.LogsExchange, AppID: cfg.ServiceName}, logger)
	defer auditPublisher.Close()
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.ServiceName, cfg.Environment, logger)

	hub := feed.NewHub(logger)
	defer hub.Close()

	sink := changeSink(cfg, hub)
	if cfg.DBDriver == config.DriverPostgres {
		bridge := feed.NewPGBridge(cfg.DBDSN, db.ChangeChannel, hub, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("change feed bridge stopped", "err", err)
			}
		}()
	}

	connectionRepo := repositories.NewConnectionRepository(database, events, sink)
	listingRepo := repositories.NewListingRepository(database, events, sink)

	listings := services.NewListingService(listingRepo)
	if _, err := listings.WatchCatalog(hub); err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}

	ping := pinger(database)
	if _, err := igrpc.StartGRPCServer(ctx, cfg.GRPCAddr, ping, logger); err != nil {
		return fmt.Errorf("start gRPC server: %w", err)
	}

	router := newRouter(routerDeps{
		Config:      cfg,
		Logger:      logger,
		Ping:        ping,
		Connections: services.NewConnectionService(connectionRepo),
		Listings:    listings,
		Feed:        hub,
		Audit:       auditEmitter,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "err", err)
	}
	return nil
}

// changeSink picks where repository writes are announced. Postgres
// announces through its trigger and the bridge, so the repository stays quiet
// to avoid delivering every change twice.
func changeSink(cfg config.Config, hub *feed.Hub) feed.Sink {
	if cfg.DBDriver == config.DriverPostgres {
		return nil
	}
	return hub
}

func pinger(database *sqlx.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return database.PingContext(ctx)
	}
}

func newRouter(deps routerDeps) *gin.Engine {
	if deps.Config.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.AccessLog(deps.AccessLog), gin.Recovery(), middleware.RequestID(), middleware.Metrics(), middleware.CORS(deps.Config.CORSOrigins))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(deps.Ping))

	connectionHandler := handlers.NewConnectionHandler(deps.Connections, deps.Audit)
	streamHandler := handlers.NewConnectionStreamHandler(deps.Connections, deps.Feed, deps.Config.CORSOrigins, deps.Logger)
	marketplaceHandler := handlers.NewMarketplaceHandler(deps.Listings, deps.Audit)

	auth := r.Group("", middleware.JWTAuth(deps.Config.JWTSecret))
	auth.POST("/connections", connectionHandler.SendRequest)
	auth.GET("/connections", connectionHandler.List)
	auth.GET("/connections/pending", connectionHandler.ListPending)
	auth.GET("/connections/stream", streamHandler.Stream)
	auth.PATCH("/connections/:id", connectionHandler.UpdateStatus)

	auth.GET("/marketplace/listings", marketplaceHandler.Browse)
	auth.GET("/marketplace/facets", marketplaceHandler.Facets)
	auth.GET("/marketplace/listings/:id", marketplaceHandler.Get)
	auth.POST("/marketplace/listings", marketplaceHandler.Create)
	auth.PATCH("/marketplace/listings/:id", marketplaceHandler.Update)
	auth.DELETE("/marketplace/listings/:id", marketplaceHandler.Delete)

	return r
}

func healthz(ping func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
