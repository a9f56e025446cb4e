package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, importHandler *ImportHandler, healthHandler *HealthHandler) {
	if healthHandler != nil {
		server.GET("/healthz", healthHandler.Health)
	}
	if importHandler != nil {
		imports := server.Group("/api/v1/imports")
		imports.POST("", importHandler.StartImport)
		imports.GET("/latest", importHandler.LatestImport)
		imports.DELETE("/:archiveJobId", importHandler.CancelImport)
	}
}
