package bootstrap

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	httpecho "github.com/mohammadpnp/pinventory/internal/interfaces/http/echo"
)

func NewHTTPServer(importHandler *httpecho.ImportHandler, healthHandler *httpecho.HealthHandler) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit("1M"))

	httpecho.RegisterRoutes(server, importHandler, healthHandler)

	return server
}
