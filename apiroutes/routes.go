package apiroutes

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcedrop/sourcedrop-server/api"
	restinterceptors "github.com/sourcedrop/sourcedrop-server/api/interceptors"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/metrics"
	"github.com/sourcedrop/sourcedrop-server/repository"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
)

// NewAPIRouter creates the gin engine with recovery, request logging and
// same origin CORS
func NewAPIRouter(conf *global.Config) *gin.Engine {
	switch conf.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), restinterceptors.LoggingMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{fmt.Sprintf("%s://%s:%d", conf.Scheme, conf.Host, conf.Port)},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.MaxMultipartMemory = 32 << 20
	return router
}

// REST API routes
func ConfigRoutes(router *gin.Engine, dbSelector repository.DBSelector, vault *services.KeyVaultService, store *services.StoreService, scheduler services.KeyGenScheduler, env *types.Environment) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {

		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	sessionSecret, err := util.ParseHexKey(global.Conf.Session.SecretHex)
	if err != nil {
		panic(err)
	}
	tokens := restinterceptors.NewTokenCodec(sessionSecret)

	// SERVICE definitions
	codec := util.NewCodec(global.Conf.Codename)
	sourceService := services.NewSourceService(dbSelector)
	identityService := services.NewIdentityService(codec, sourceService, store, global.Conf.Codename.DefaultWords, time.Duration(global.Conf.Session.LifetimeMinutes)*time.Minute)
	submissionService := services.NewSubmissionService(store, vault, sourceService, scheduler)

	// API definitions
	sourceApi := api.NewSourceApi(identityService, submissionService, vault, tokens)
	healthApi := api.NewHealthCheckAPI()

	limiterMiddleware := restinterceptors.RateLimitMiddleware(nil, 0)
	if global.Conf.RateLimit.Enabled && env != nil {
		limiterMiddleware = restinterceptors.RateLimitMiddleware(env.RateLimiter, global.Conf.RateLimit.PerMinute)
	}
	session := restinterceptors.SessionMiddleware(tokens, global.Conf.Session.CookieName)

	// PUBLIC ROOT API
	rootPublicApi := router.Group("/", metrics.MetricsMiddleware())
	{
		rootPublicApi.GET("health", healthApi.HealthCheck)
		rootPublicApi.GET("journalist-key", sourceApi.JournalistKey)
	}

	// PUBLIC API
	publicApi := router.Group("/api", metrics.MetricsMiddleware(), session)
	{
		publicApi.POST("/v1/generate", sourceApi.Generate)
		publicApi.POST("/v1/create", limiterMiddleware, sourceApi.Create)
		publicApi.POST("/v1/login", limiterMiddleware, sourceApi.Login)
		publicApi.POST("/v1/logout", sourceApi.Logout)
	}

	rootApi := router.Group("/api", metrics.MetricsMiddleware(), session, restinterceptors.LoginRequired(identityService))
	{
		rootApi.GET("/v1/lookup", sourceApi.Lookup)
		rootApi.POST("/v1/submit", sourceApi.Submit)
		rootApi.POST("/v1/delete", sourceApi.Delete)
	}

	return router
}
