package handler

import (
	"net/http"

	"geomap/internal/app/presence"
	"geomap/internal/app/storage"
	"geomap/internal/configs"
)

// AppDeps carries everything the HTTP layer needs from the running process.
type AppDeps struct {
	Hub            *presence.Hub
	Config         *configs.AppConfig
	StorageService storage.StorageService

	// MetricsHandler serves /metrics; nil disables the route.
	MetricsHandler http.Handler
}
