package api

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes attaches all API routes to the echo instance
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/", h.Info)
	e.GET("/health", h.Health)
	e.GET("/status", h.Status)

	v1 := e.Group("/api/v1")
	v1.POST("/fraud/evaluate", h.Evaluate)
	v1.POST("/fraud/evaluate-batch", h.EvaluateBatch)
	v1.GET("/fraud/cases", h.FraudCases)
	v1.GET("/customer/:id/profile", h.CustomerProfile)
}
