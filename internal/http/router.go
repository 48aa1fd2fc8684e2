package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/storefronthq/storefront/internal/auth"
	"github.com/storefronthq/storefront/internal/cache"
	"github.com/storefronthq/storefront/internal/config"
	"github.com/storefronthq/storefront/internal/http/handlers"
	"github.com/storefronthq/storefront/internal/http/middlewares"
	"github.com/storefronthq/storefront/internal/observability"
	"github.com/storefronthq/storefront/internal/repo/postgres"
)

const maxBodyBytes = 1 << 20 // 1 MiB

func NewRouter(log *slog.Logger, pool *pgxpool.Pool, redis *cache.Client, cfg config.Config, reg *prometheus.Registry, prom *observability.Prom) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(otelgin.Middleware("storefront"))
	r.Use(prom.GinMiddleware())
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// operational endpoints

	readyDeps := map[string]handlers.Pinger{"postgres": pool}

	if redis != nil {
		readyDeps["redis"] = redis
	}

	health := handlers.NewHealthHandler(readyDeps)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// wire up repositories

	customersRepo := postgres.NewCustomersRepo(pool, prom)
	productsRepo := postgres.NewProductsRepo(pool, prom)
	refreshRepo := postgres.NewRefreshTokensRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)
	ordersRepo := postgres.NewOrdersRepo(pool, prom, jobsRepo)

	// auth wiring

	jwt := auth.NewManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	cookies := auth.NewCookies(cfg.Env)
	sessions := auth.NewService(customersRepo, refreshRepo, jwt)
	guard := middlewares.NewSessionGuard(jwt, sessions, cookies)

	authHandler := handlers.NewAuthHandler(sessions, customersRepo, cookies)
	customersHandler := handlers.NewCustomersHandler(customersRepo)

	var productCache handlers.ProductCache
	if redis != nil {
		productCache = redis
	}
	productsHandler := handlers.NewProductsHandler(productsRepo, productCache, log)
	ordersHandler := handlers.NewOrdersHandler(ordersRepo)

	// credential endpoints get a tighter limit than the rest of the API
	authLimiter := middlewares.NewRateLimiter(10, time.Minute)

	a := r.Group("/auth")
	a.POST("/register", authLimiter.Middleware(middlewares.KeyByIP), authHandler.Register)
	a.POST("/login", authLimiter.Middleware(middlewares.KeyByIP), authHandler.Login)
	a.POST("/refresh", authHandler.Refresh)
	a.POST("/logout", authHandler.Logout)
	a.GET("/me", guard.RequireSession(), authHandler.Me)

	// everything below requires a session

	api := r.Group("/", guard.RequireSession())

	api.POST("/customers", customersHandler.Create)
	api.GET("/customers", customersHandler.List)
	api.GET("/customers/:id", customersHandler.Get)
	api.PATCH("/customers/:id", customersHandler.Update)
	api.DELETE("/customers/:id", customersHandler.Delete)

	api.POST("/products", productsHandler.Create)
	api.GET("/products", productsHandler.List)
	api.GET("/products/:id", productsHandler.Get)
	api.PUT("/products/:id", productsHandler.Update)
	api.DELETE("/products/:id", productsHandler.Delete)

	api.POST("/orders", ordersHandler.Create)
	api.GET("/orders", ordersHandler.List)
	api.GET("/orders/:id", ordersHandler.Get)
	api.PUT("/orders/:id", ordersHandler.Update)
	api.DELETE("/orders/:id", ordersHandler.Delete)

	return r
}
