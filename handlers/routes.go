package handlers

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, h *Handlers, limiter echo.MiddlewareFunc) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api")
	if limiter != nil {
		api.Use(limiter)
	}

	api.POST("/auth/register", h.Register)

	verify := api.Group("/verification")
	verify.POST("/verify", h.Verify)
	verify.POST("/resend", h.Resend)
	verify.GET("/status", h.Status)
}
