// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"comlink-service/internal/config"
	"comlink-service/internal/handler"
	"comlink-service/internal/middleware"
	"comlink-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	health    *handler.HealthHandler
	link      *handler.LinkHandler
	websocket *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	health *handler.HealthHandler,
	link *handler.LinkHandler,
	websocket *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		health:    health,
		link:      link,
		websocket: websocket,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	r.health.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	r.link.RegisterRoutes(apiV1)

	r.websocket.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
