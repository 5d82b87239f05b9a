package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/snaplink/snaplink/internal/analytics"
	"github.com/snaplink/snaplink/internal/api"
	"github.com/snaplink/snaplink/internal/cache"
	"github.com/snaplink/snaplink/internal/config"
	"github.com/snaplink/snaplink/internal/idgen"
	"github.com/snaplink/snaplink/internal/middleware"
	"github.com/snaplink/snaplink/internal/observability"
	"github.com/snaplink/snaplink/internal/repository"
	"github.com/snaplink/snaplink/internal/service"
)

// redisPinger adapts *redis.Client to api.CacheInterface.
type redisPinger struct{ client *redis.Client }

func (r *redisPinger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// NewRouter initializes all dependencies and returns a configured Gin
// router plus the analytics producer, whose Close drains buffered
// events on shutdown. queueChannel may be nil; the service then runs
// without click events.
func NewRouter(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, cacheClient *redis.Client, queueChannel *amqp.Channel, obs *observability.Observability) (*gin.Engine, *analytics.Producer, error) {
	links := repository.NewLinkRepository(db)
	versions := repository.NewVersionRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)

	existence, err := service.RebuildGuard(ctx, links)
	if err != nil {
		return nil, nil, err
	}

	ids, err := idgen.NewGenerator(idgen.MachineID())
	if err != nil {
		return nil, nil, err
	}

	resolution := cache.New(cacheClient, cache.Options{
		TTL:                cfg.Cache.TTL,
		OpTimeout:          cfg.Cache.OpTimeout,
		DefaultRedirectTTL: cfg.App.DefaultRedirectTTL,
		VisitorSetTTL:      cfg.App.VisitorSetTTL,
	}, obs.Logger, obs.Metrics)

	var producer *analytics.Producer
	var linkService *service.LinkService
	if queueChannel != nil {
		producer = analytics.NewProducer(queueChannel, cfg.Queue.QueueName, cfg.Queue.PublishBuffer, obs.Logger, obs.Metrics)
		linkService = service.NewLinkService(links, versions, analyticsRepo, resolution, existence, ids, producer, cfg.App, obs.Logger, obs.Metrics)
	} else {
		linkService = service.NewLinkService(links, versions, analyticsRepo, resolution, existence, ids, nil, cfg.App, obs.Logger, obs.Metrics)
	}

	handler := api.NewHandler(linkService, db, &redisPinger{client: cacheClient}, cfg.App.BaseURL, obs.Logger)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("snaplink"))
	router.Use(middleware.Logging(obs.Logger))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(obs.Metrics.Registry, promhttp.HandlerOpts{})))
	handler.RegisterRoutes(router)

	return router, producer, nil
}

// NewServer wraps the router in an HTTP server with sane timeouts.
func NewServer(router *gin.Engine, port string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
