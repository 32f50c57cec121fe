package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket progress mirror
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Emission routes
	mux.HandleFunc("/api/emissions", s.handleEmissionsRoute)       // GET (list), POST (create)
	mux.HandleFunc("/api/emissions/metrics", s.handleMetricsRoute) // GET aggregate metrics
	mux.HandleFunc("/api/emissions/", s.handleEmissionRoutes)      // /{id} and subpaths

	// Internal routes, called by the render service with an identity token
	mux.HandleFunc("/internal/data-source-rows/", s.requireServiceToken(s.handleInternalRowRoutes))

	// System routes
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Catch-all for unknown API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleEmissionsRoute routes /api/emissions requests (list and create)
func (s *Server) handleEmissionsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.EmissionHandler.ListHandler(w, r)
	case "POST":
		s.app.EmissionHandler.CreateHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMetricsRoute routes /api/emissions/metrics requests
func (s *Server) handleMetricsRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.EmissionHandler.MetricsHandler(w, r)
}

// handleEmissionRoutes routes /api/emissions/{id} requests and subpaths
func (s *Server) handleEmissionRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/emissions/{id}/events (SSE)
	if r.Method == "GET" && strings.HasSuffix(path, "/events") {
		s.app.EventsHandler.StreamHandler(w, r)
		return
	}

	// /api/emissions/{id}/generations and /generations/retry
	if strings.Contains(path, "/generations") {
		switch {
		case r.Method == "POST" && strings.HasSuffix(path, "/generations/retry"):
			s.app.GenerationHandler.RetryHandler(w, r)
		case r.Method == "POST" && strings.HasSuffix(path, "/generations"):
			s.app.GenerationHandler.GenerateHandler(w, r)
		case r.Method == "GET" && strings.HasSuffix(path, "/generations"):
			s.app.GenerationHandler.BatchStateHandler(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	// PUT /api/emissions/{id}/template
	if strings.HasSuffix(path, "/template") {
		if r.Method == "PUT" {
			s.app.EmissionHandler.AttachTemplateHandler(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// PUT /api/emissions/{id}/data-source
	if strings.HasSuffix(path, "/data-source") {
		if r.Method == "PUT" {
			s.app.EmissionHandler.AttachDataSourceHandler(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// PUT /api/emissions/{id}/mapping
	if strings.HasSuffix(path, "/mapping") {
		if r.Method == "PUT" {
			s.app.EmissionHandler.UpdateMappingHandler(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// GET /api/emissions/{id}/rows
	if strings.HasSuffix(path, "/rows") {
		if r.Method == "GET" {
			s.app.EmissionHandler.ListRowsHandler(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// /api/emissions/{id}/emails
	if strings.HasSuffix(path, "/emails") {
		switch r.Method {
		case "POST":
			s.app.EmissionHandler.SendEmailsHandler(w, r)
		case "GET":
			s.app.EmissionHandler.ListEmailRunsHandler(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	// /api/emissions/{id}
	switch r.Method {
	case "GET":
		s.app.EmissionHandler.GetHandler(w, r)
	case "PUT":
		s.app.EmissionHandler.UpdateHandler(w, r)
	case "DELETE":
		s.app.EmissionHandler.DeleteHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleInternalRowRoutes routes /internal/data-source-rows/{id} requests
func (s *Server) handleInternalRowRoutes(w http.ResponseWriter, r *http.Request) {
	// PATCH /internal/data-source-rows/{id}/generations
	if r.Method == "PATCH" && strings.HasSuffix(r.URL.Path, "/generations") {
		s.app.GenerationHandler.CompletionHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
