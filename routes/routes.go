package routes

import (
	"net/http"

	"stockcart-backend/cart"
	"stockcart-backend/handlers"
	"stockcart-backend/jobs"
	"stockcart-backend/ledger"
	"stockcart-backend/middleware"
	"stockcart-backend/reservation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	DB           *gorm.DB
	Ledger       *ledger.Ledger
	Carts        *cart.Store
	Reservations *reservation.Service
	Scheduler    *jobs.Scheduler
	CartLimiter  *middleware.RateLimiter
	Logger       *zap.Logger
}

func SetupRoutes(r *gin.Engine, deps Deps) {
	// Initialize handlers
	productHandler := &handlers.ProductHandler{Ledger: deps.Ledger, Logger: deps.Logger}
	cartHandler := &handlers.CartHandler{Reservations: deps.Reservations, Carts: deps.Carts, Logger: deps.Logger}
	jobsHandler := &handlers.JobsHandler{Scheduler: deps.Scheduler, Logger: deps.Logger}

	// Public routes
	api := r.Group("/api")
	{
		api.GET("/products", productHandler.GetProducts)
		api.GET("/products/:id", productHandler.GetProduct)
	}

	// Protected routes (require authentication)
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.GET("/cart", cartHandler.GetCart)

		// Mutations reserve stock, so they are rate limited per user.
		mutations := protected.Group("")
		if deps.CartLimiter != nil {
			mutations.Use(deps.CartLimiter.Middleware())
		}
		mutations.POST("/cart", cartHandler.AddToCart)
		mutations.PUT("/cart/:id", cartHandler.UpdateCartItem)
		mutations.DELETE("/cart/:id", cartHandler.RemoveFromCart)
		mutations.DELETE("/cart", cartHandler.ClearCart)
	}

	// Admin routes (require admin role)
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware())
	admin.Use(middleware.AdminMiddleware())
	{
		admin.POST("/products/:id/restock", productHandler.Restock)

		admin.GET("/jobs", jobsHandler.ListRuns)
		admin.POST("/jobs/:name/run", jobsHandler.RunJob)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		if deps.DB != nil {
			sqlDB, err := deps.DB.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
