package handler

import "net/http"

const serviceName = "Auth Service"

// Version is reported by the root endpoint.
var Version = "1.0.0"

// HandleHealth reports liveness.
//
// HTTP: GET /health
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

// HandleRoot returns the service banner.
//
// HTTP: GET /
func HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": serviceName + " API", "version": Version})
}
