package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cadenzahq/cadenza/modules/workstream/infrastructure/persistence"
	"github.com/cadenzahq/cadenza/modules/workstream/presentation/controllers"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
	"github.com/cadenzahq/cadenza/pkg/application"
	"github.com/cadenzahq/cadenza/pkg/authz"
	"github.com/cadenzahq/cadenza/pkg/configuration"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/metrics"
	"github.com/cadenzahq/cadenza/pkg/middleware"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	bus := eventbus.NewEventPublisher(logger)
	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: bus,
		Logger:   logger,
	})

	authzService, err := authz.NewService(authz.DefaultConfig())
	if err != nil {
		log.Fatalf("failed to set up authz: %v", err)
	}

	var cache services.PermissionCache = services.NewMemoryCache()
	if conf.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		cache = persistence.NewRedisPermissionCache(client, logger)
		logger.Info("using redis permission cache at " + conf.Redis.Addr)
	}

	repo := persistence.NewWorkstreamRepository()
	permissions := services.NewPermissionService(repo, cache, authzService, logger)
	validator := services.NewHierarchyValidator(repo)
	workstreams := services.NewWorkstreamService(repo, permissions, validator, cache, bus, logger)
	grants := services.NewGrantService(repo, permissions, bus, logger)
	ownership := services.NewOwnershipService(repo, authzService, bus, logger)

	broker := services.NewCacheInvalidationBroker(repo, cache, logger)
	broker.Register(bus)

	app.RegisterServices(permissions, workstreams, grants, ownership)
	app.RegisterMiddleware(
		middleware.RequestID(),
		middleware.ProvidePool(pool),
		middleware.ProvideActor(),
		middleware.RequestLogger(logger),
	)
	app.RegisterControllers(controllers.NewWorkstreamAPIController(app))
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	router := mux.NewRouter()
	router.Use(app.Middleware()...)
	for _, controller := range app.Controllers() {
		controller.Register(router)
	}

	server := &http.Server{
		Addr:         conf.SocketAddress,
		Handler:      router,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
	}

	go func() {
		logger.Info("listening on " + conf.SocketAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
