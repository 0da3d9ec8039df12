package server

import (
	"net/http"
)

func SetupRoutes(runHandler *RunService, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /runs", runHandler.ListRuns)
	mux.HandleFunc("GET /runs/", runHandler.GetRun)
	mux.HandleFunc("GET /readings/", runHandler.GetReading)
	mux.HandleFunc("GET /health", runHandler.Health)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return mux
}
