// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"eventmap/internal/config"
	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/identity"
	"eventmap/internal/logging"
	"eventmap/internal/server/handlers"
)

// Dependencies are the services the HTTP layer is built on
type Dependencies struct {
	Events     event.Store
	Markers    event.MarkerService
	Geo        geo.Service
	Sessions   handlers.SessionManager
	Auth       identity.Broadcaster
	Prefs      handlers.PrefsStore
	Subscriber handlers.StateSubscriber
	Unit       geo.Unit
	RadiusKm   float64
	Location   *time.Location
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router := NewRouter(cfg, deps)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// NewRouter builds the route tree
func NewRouter(cfg config.ServerConfig, deps Dependencies) *chi.Mux {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logging.Middleware(deps.Logger))
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	geoHandler := handlers.NewGeoHandler(deps.Geo, deps.Markers, deps.Unit, deps.RadiusKm, deps.Now)
	eventHandler := handlers.NewEventHandler(deps.Events, deps.Location)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	authHandler := handlers.NewAuthHandler(deps.Auth)

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			r.Get("/markers", geoHandler.GetMarkers)

			// Geo API
			r.Route("/geo", func(r chi.Router) {
				r.Get("/distance", geoHandler.GetDistance)
				r.Get("/geocode", geoHandler.Geocode)
			})

			// Events API; /{id}.ics serves the calendar export
			r.Get("/events/{id}", eventHandler.GetEvent)

			// Map sessions API
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", sessionHandler.CreateSession)
				r.Get("/{id}", sessionHandler.GetSession)
				r.Delete("/{id}", sessionHandler.DeleteSession)
				r.Post("/{id}/events", sessionHandler.PostEvent)
			})

			r.Post("/auth/state", authHandler.PostAuthState)

			if deps.Prefs != nil {
				prefsHandler := handlers.NewPrefsHandler(deps.Prefs)
				r.Route("/users/{userID}/prefs", func(r chi.Router) {
					r.Get("/", prefsHandler.GetPrefs)
					r.Put("/{key}", prefsHandler.SetPref)
					r.Delete("/{key}", prefsHandler.DeletePref)
				})
			}
		})
	})

	// WebSocket endpoint for live session state
	router.Get("/ws/sessions/{id}", handlers.SessionWebSocketHandler(deps.Sessions, deps.Subscriber, deps.Logger))

	return router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
