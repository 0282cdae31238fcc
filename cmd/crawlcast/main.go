package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/crawlcast/internal/broadcaster"
	"github.com/goevery/crawlcast/internal/handler"
	"github.com/goevery/crawlcast/internal/registry"
	"github.com/goevery/crawlcast/internal/server"
	"github.com/goevery/crawlcast/internal/source"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type App struct {
	logger          *zap.Logger
	settings        Settings
	scheduler       *broadcaster.Scheduler
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings, dataSource source.DataSource) *App {
	clock := clockwork.NewRealClock()

	originChecker := server.NewOriginChecker(settings.AllowedOrigins)
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	sessions := registry.NewInMemoryRegistry(logger)

	scheduler := broadcaster.NewScheduler(
		logger,
		clock,
		sessions,
		dataSource,
		broadcaster.Options{
			Period:       settings.TickPeriod,
			FetchTimeout: settings.FetchTimeout,
			SendTimeout:  settings.SendTimeout,
			FanoutLimit:  settings.FanoutLimit,
		},
	)

	heartbeatHandler := handler.NewHeartbeatHandler(clock)
	latestHandler := handler.NewLatestHandler(scheduler)

	router := server.NewRouter(
		logger,
		heartbeatHandler,
		latestHandler,
	)

	connectionOptions := server.DefaultConnectionOptions()
	connectionOptions.OutboundBuffer = settings.OutboundBuffer
	connectionOptions.WriteTimeout = settings.SendTimeout

	websocketServer := server.NewWebSocketServer(
		logger,
		clock,
		websocketUpgrader,
		sessions,
		router,
		rate.NewLimiter(rate.Limit(settings.ConnectionsPerSecond), settings.ConnectionsBurst),
		connectionOptions,
	)
	restServer := server.NewRESTServer(
		logger,
		scheduler,
		sessions,
	)

	return &App{
		logger,
		settings,
		scheduler,
		websocketServer,
		restServer,
	}
}

func (a *App) run(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := a.scheduler.Run(notifyCtx); err != nil {
			a.logger.Error("scheduler failed", zap.Error(err))
		}
	}()

	a.startHttpServer(notifyCtx)

	// Let an in-flight tick finish before returning.
	wg.Wait()
}

func (a *App) startHttpServer(ctx context.Context) {
	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address),
		zap.String("basePath", a.settings.BasePath))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-ctx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(fmt.Errorf("failed to parse settings from environment: %w", err))
	}

	logger, err := buildZapLogger(settings.LogEncoding, settings.LogFile)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()

	if err := settings.Validate(); err != nil {
		logger.Fatal("invalid settings", zap.Error(err))
	}

	dataSource, closeSource, err := buildSource(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to set up data source", zap.Error(err))
	}
	defer func() {
		if err := closeSource(ctx); err != nil {
			logger.Warn("failed to close data source", zap.Error(err))
		}
	}()

	app := NewApp(logger, settings, dataSource)
	app.run(ctx)
}
