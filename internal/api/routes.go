package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes.
func SetupRoutes(r *gin.Engine, h *Handlers, corsOrigins string) {
	r.Use(corsMiddleware(corsOrigins))

	v1 := r.Group("/api")
	{
		v1.GET("/health", h.HealthCheck)
		v1.HEAD("/health", h.HealthCheck)

		// Read surface for the serving layer
		v1.GET("/products", h.SearchProducts)
		v1.GET("/products/:id", h.GetProduct)
		v1.GET("/products/:id/prices", h.GetProductPrices)
		v1.GET("/products/barcode/:barcode", h.GetProductByBarcode)

		// Price submissions
		v1.POST("/prices", h.SubmitPrice)
		v1.POST("/ingest", h.IngestBatch)

		// Crawl queue: user requests and worker lease protocol
		v1.POST("/crawl/request", h.RequestCrawl)
		v1.POST("/crawl/lease", h.LeaseTasks)
		v1.POST("/crawl/complete", h.CompleteTask)

		// Operator/audit surface (WARNING: add auth middleware before production)
		v1.GET("/admin/dead-letters", h.GetDeadLetters)
		v1.GET("/admin/products/:id/observations", h.GetObservations)
		v1.POST("/admin/products/:id/resync", h.ResyncPrice)

		v1.GET("/stats", h.GetStats)
	}
}

func corsMiddleware(origins string) gin.HandlerFunc {
	allowed := strings.Split(origins, ",")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, o := range allowed {
			if strings.TrimSpace(o) == origin {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
				break
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
