package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"prizepick/auth"
	"prizepick/game"
	"prizepick/ws"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Auth          *auth.Service
	AdminGate     *auth.AdminGate
	Lobby         *game.Lobby
	Engine        *game.Engine
	Games         *ws.Manager
	LobbyFeed     *ws.LobbyManager
	AllowedOrigin string

	// Requests per minute and burst for login and game creation. Zero
	// selects the defaults.
	LoginPerMinute  float64
	LoginBurst      int
	CreatePerMinute float64
	CreateBurst     int
}

type Server struct {
	router   *mux.Router
	handlers *Handlers
	handler  http.Handler
	limiters []*RateLimiter
}

func NewServer(deps Deps) *Server {
	router := mux.NewRouter()
	handlers := NewHandlers(deps)

	server := &Server{
		router:   router,
		handlers: handlers,
	}

	server.setupRoutes(deps)
	server.handler = CORSMiddleware(deps.AllowedOrigin)(router)
	return server
}

func perMinute(n float64, def float64) rate.Limit {
	if n <= 0 {
		n = def
	}
	return rate.Limit(n / 60.0)
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func (s *Server) setupRoutes(deps Deps) {
	// Apply global middleware
	s.router.Use(LoggingMiddleware)
	s.router.Use(SecurityHeadersMiddleware)

	// No CSRF tokens: nothing authenticates with an ambient cookie. Admin
	// calls carry X-Admin-Key and player calls a bearer token.

	loginLimiter := NewRateLimiter(perMinute(deps.LoginPerMinute, 10), orDefault(deps.LoginBurst, 5))
	createLimiter := NewRateLimiter(perMinute(deps.CreatePerMinute, 30), orDefault(deps.CreateBurst, 10))
	s.limiters = append(s.limiters, loginLimiter, createLimiter)

	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")

	// Player auth (public) with rate limiting
	s.router.Handle("/api/auth/player/login", loginLimiter.Middleware(http.HandlerFunc(s.handlers.Login))).Methods("POST")

	// Public read-only game views
	s.router.HandleFunc("/api/games/{id}/state", s.handlers.GetGameState).Methods("GET")
	s.router.HandleFunc("/api/games/{id}/picks", s.handlers.ListPicks).Methods("GET")

	// Player routes
	player := s.router.PathPrefix("/api/games").Subrouter()
	player.Use(PlayerAuthMiddleware(deps.Auth))
	player.HandleFunc("/{id}/pick", s.handlers.PickCard).Methods("POST")

	// Admin routes
	admin := s.router.PathPrefix("/api/admin").Subrouter()
	admin.Use(AdminMiddleware(deps.AdminGate))
	admin.Handle("/games", createLimiter.Middleware(http.HandlerFunc(s.handlers.CreateGame))).Methods("POST")
	admin.HandleFunc("/games", s.handlers.ListGames).Methods("GET")
	admin.HandleFunc("/games/{id}", s.handlers.GetGame).Methods("GET")
	admin.HandleFunc("/games/{id}", s.handlers.DeleteGame).Methods("DELETE")
	admin.HandleFunc("/games/{id}/start", s.handlers.StartGame).Methods("POST")
	admin.HandleFunc("/games/{id}/cancel", s.handlers.CancelGame).Methods("POST")
	admin.HandleFunc("/games/{id}/shuffle", s.handlers.ShuffleCards).Methods("POST")

	// WebSocket routes authenticate before upgrading
	s.router.HandleFunc("/ws/game", s.handlers.HandleGameSocket).Methods("GET")
	s.router.HandleFunc("/ws/lobby", s.handlers.HandleLobbySocket).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) GetHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
