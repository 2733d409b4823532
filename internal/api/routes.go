// Package api provides HTTP handlers and routing for the orchestrator service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Task management
	api.HandleFunc("/tasks", s.handlers.CreateTask).Methods("POST")
	api.HandleFunc("/tasks", s.handlers.ListTasks).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handlers.GetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handlers.UpdateTask).Methods("PATCH")
	api.HandleFunc("/tasks/{id}", s.handlers.DeleteTask).Methods("DELETE")
	api.HandleFunc("/tasks/{id}/status", s.handlers.GetTaskStatus).Methods("GET")
	api.HandleFunc("/tasks/{id}/cancel", s.handlers.CancelTask).Methods("POST")

	// Dependency graph and resources
	api.HandleFunc("/graph", s.handlers.GetGraph).Methods("GET")
	api.HandleFunc("/resources/{id}", s.handlers.GetResource).Methods("GET")

	// Workflow management
	api.HandleFunc("/workflows", s.handlers.CreateWorkflow).Methods("POST")
	api.HandleFunc("/workflows", s.handlers.ListWorkflows).Methods("GET")
	api.HandleFunc("/workflows/{id}", s.handlers.GetWorkflow).Methods("GET")
	api.HandleFunc("/workflows/{id}/execute", s.handlers.ExecuteWorkflow).Methods("POST")

	// Event stream
	api.HandleFunc("/events", s.handlers.StreamEvents).Methods("GET")

	// Apply middleware
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.RateLimitMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
}
