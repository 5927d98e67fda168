package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"scentcart/internal/cart"
	"scentcart/internal/logger"
	"scentcart/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Pinger reports database liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterConfig struct {
	Service      cart.Service
	JWTSecret    string
	AllowOrigins []string
	Limiter      *middleware.Limiter
	GeneralTier  middleware.Tier
	MergeTier    middleware.Tier
	DB           Pinger
}

// NewRouter wires the cart API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		logger.RequestID(),
		logger.Logging(),
		cors.New(corsConfig(cfg.AllowOrigins)),
	)

	router.GET("/health", healthHandler(cfg.DB))

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = middleware.NewLimiter()
	}

	h := NewCartHandler(cfg.Service)

	api := router.Group("/cart", middleware.RequireAuth(cfg.JWTSecret))
	general := limiter.Middleware(cfg.GeneralTier)
	owner := middleware.RequireOwner("userId")

	api.GET("/user/:userId", general, owner, h.GetCart)
	api.POST("/user/:userId", general, owner, h.AddToCart)
	api.DELETE("/user/:userId", general, owner, h.ClearCart)
	api.GET("/user/:userId/count", general, owner, h.Count)
	api.POST("/user/:userId/merge", limiter.Middleware(cfg.MergeTier), owner, h.Merge)

	api.PUT("/:itemId", general, h.UpdateItem)
	api.DELETE("/:itemId", general, h.RemoveItem)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", logger.HeaderRequestID, "X-Device-ID"},
		ExposeHeaders: []string{logger.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}

	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}

	// Cookies only cross origins that are listed explicitly.
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
		cfg.AllowCredentials = true
	}
	return cfg
}

func healthHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "db not reachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
