package main

import (
	"net/http"

	"ship-client/agent"
	"ship-client/config"

	"github.com/labstack/echo/v4"
)

const readyPath = "/ready"

// demoIgnorePaths adds the readiness endpoint to the configured ignore list: it is an
// infrastructure route, not a service.
func demoIgnorePaths(configured []string) []string {
	return append(append([]string(nil), configured...), readyPath)
}

type order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// registerHandlers mounts the demo business routes and the readiness endpoint.
func registerHandlers(e *echo.Echo, cfg *config.Config, ag *agent.Agent) {
	e.GET("/orders", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []order{{ID: "1", Status: "paid"}})
	})
	e.GET("/orders/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, order{ID: c.Param("id"), Status: "paid"})
	})
	e.POST("/orders", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"app": cfg.AppName, "version": cfg.Version})
	})
	e.GET(readyPath, readyHandler(ag))
}

// readyHandler answers 503 until the agent has registered the application.
func readyHandler(ag interface{ Registered() bool }) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ag.Registered() {
			return c.String(http.StatusServiceUnavailable, "not registered (yet)")
		}
		return c.NoContent(http.StatusOK)
	}
}
