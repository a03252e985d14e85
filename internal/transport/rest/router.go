package rest

import (
	"log/slog"
	"net/http"

	"healthsurvey/internal/metrics"
	"healthsurvey/internal/service"
	"healthsurvey/internal/transport/rest/handler"
	"healthsurvey/internal/transport/rest/middleware"
	"healthsurvey/internal/transport/ws"

	"github.com/gorilla/mux"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService        *service.AuthService
	DraftService       *service.DraftService
	WSHub              *ws.Hub
	Metrics            *metrics.Registry
	Logger             *slog.Logger
	CORSAllowedOrigins string
	// TrustedProxies may be nil, in which case forwarding headers are ignored
	TrustedProxies *middleware.TrustedProxies
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	draftHandler := handler.NewDraftHandler(c.DraftService, c.Logger)
	responseHandler := handler.NewResponseHandler(c.DraftService, c.Logger)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.DraftService)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.CORSAllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientAddress(c.TrustedProxies))
	r.Use(middleware.Logging(c.Logger, c.Metrics))

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", c.Metrics.Handler()).Methods("GET")

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// WebSocket route (token in query param)
	v1.HandleFunc("/ws/responses/{id}", wsHandler.ResponseWS).Methods("GET")

	// User routes (require user auth)
	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(authMW.RequireUser)

	userRoutes.HandleFunc("/centers/{centerId}/surveys/{surveyId}/responses", responseHandler.StartOrResume).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/responses/{id}", responseHandler.Get).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/responses/{id}/versions", responseHandler.NewVersion).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/responses/{id}/draft", draftHandler.SaveDraft).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/responses/{id}/draft", draftHandler.GetDraft).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/responses/{id}/draft", draftHandler.DiscardDraft).Methods("DELETE", "OPTIONS")
	userRoutes.HandleFunc("/responses/{id}/submit", draftHandler.Submit).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/responses/{id}/progress", draftHandler.Progress).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/admin/sweep", responseHandler.Sweep).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(allowedOrigins string) mux.MiddlewareFunc {
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
