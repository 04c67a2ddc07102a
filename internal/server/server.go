// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New opens the database and builds
// every repository, service and handler in one place, and setupRoutes maps
// URLs onto them. main.go only loads configuration and calls Start.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → sqlite.DB (implements every repository interface)
//	             → policy.Policy, auth.TokenService, auth.KeyService
//	             → ProfileService, RegistrationService, GroupService, SearchService, APIAppService
//	             → handlers
//	             → indexer.Job (scheduled search rebuild)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/config"
	"github.com/sakif/phonebook/internal/handler"
	"github.com/sakif/phonebook/internal/indexer"
	"github.com/sakif/phonebook/internal/middleware"
	"github.com/sakif/phonebook/internal/policy"
	sqliteRepo "github.com/sakif/phonebook/internal/repository/sqlite"
	"github.com/sakif/phonebook/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the reindex scheduler. Both
// are released by Close, which Start calls on the way out.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	reindex *indexer.Job
}

// New opens the database, applies migrations and wires every route.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	job, err := indexer.New(db, cfg.ReindexSchedule, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		reindex: job,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /                                   → who am I
//	GET    /healthz                            → database reachability
//	POST   /browserid/verify                   → BrowserID sign-in
//	GET    /auth/github/login, /callback       → GitHub sign-in (when configured)
//	POST   /auth/logout
//	POST   /register                           → needs the registration cookie
//	GET    /u/{username}                       → profile page
//	GET    /country/{country}[/region/{region}][/city/{city}]
//	GET    /search
//	GET    /groups, /groups/search, /group/{url}
//	GET    /api/v1/users                       → API app membership check
//	GET    /user/edit, PUT /user/edit          → session required from here on
//	POST   /user/delete, /vouch, /group/{url}/toggle, /apps
//	POST   /admin/users/index_profiles
//	GET    /{username}                         → 301 to /u/{username}
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: the Logger reads it
//  2. RealIP
//  3. Recoverer: a panic becomes a 500 that is still logged
//  4. CORS: answers preflight requests before any handler runs
//  5. OptionalAuth: the Logger can record the signed-in profile
//  6. Logger
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return err
	}

	// Cookies get the Secure flag whenever the site is served over HTTPS.
	site, err := url.Parse(s.config.SiteURL)
	if err != nil {
		return fmt.Errorf("parsing site url: %w", err)
	}
	cookies := handler.Cookies{Secure: site.Scheme == "https"}

	// === Services ===
	pol := policy.New(s.config.AutoVouchDomains)
	profileSvc := service.NewProfileService(s.db, s.db, pol, service.NewLogNotifier(s.logger), s.logger)
	regSvc := service.NewRegistrationService(s.db, profileSvc, tokens, s.logger)
	groupSvc := service.NewGroupService(s.db, s.db, s.logger)
	searchSvc := service.NewSearchService(s.db, s.db, s.db, s.logger)
	appSvc := service.NewAPIAppService(s.db, s.db, auth.NewKeyService(), s.logger)

	// === Handlers ===
	var github *auth.GitHubProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.config.GitHub.ClientID, s.config.GitHub.ClientSecret, s.config.GitHub.CallbackURL)
	} else {
		s.logger.Warn("GitHub sign-in disabled: github.client_id or github.client_secret not set")
	}
	browserID := auth.NewBrowserIDVerifier(s.config.BrowserID.VerifierURL, s.config.SiteURL)

	authHandler := handler.NewAuthHandler(regSvc, profileSvc, browserID, github, tokens, cookies, s.logger)
	profileHandler := handler.NewProfileHandler(profileSvc, cookies, s.logger)
	searchHandler := handler.NewSearchHandler(searchSvc, s.logger)
	groupHandler := handler.NewGroupHandler(groupSvc, s.logger)
	apiHandler := handler.NewAPIHandler(appSvc, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(auth.OptionalAuth(tokens))
	s.router.Use(middleware.Logger(s.logger))

	// === Public Routes ===
	s.router.Get("/", authHandler.HandleHome)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/browserid/verify", authHandler.HandleBrowserIDVerify)
	s.router.Post("/auth/logout", authHandler.HandleLogout)
	s.router.Post("/register", authHandler.HandleRegister)
	if github != nil {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	}

	// The services decide what anonymous and unvouched visitors may see.
	s.router.Get("/u/{username}", profileHandler.HandleView)
	s.router.Get("/country/{country}", profileHandler.HandleLocation)
	s.router.Get("/country/{country}/region/{region}", profileHandler.HandleLocation)
	s.router.Get("/country/{country}/city/{city}", profileHandler.HandleLocation)
	s.router.Get("/country/{country}/region/{region}/city/{city}", profileHandler.HandleLocation)
	s.router.Get("/search", searchHandler.HandleSearch)
	s.router.Get("/groups", groupHandler.HandleList)
	s.router.Get("/groups/search", groupHandler.HandleAutocomplete)
	s.router.Get("/group/{url}", groupHandler.HandleShow)
	s.router.Get("/api/v1/users", apiHandler.HandleUsers)

	// === Protected Routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Get("/user/edit", profileHandler.HandleGetEdit)
		r.Put("/user/edit", profileHandler.HandleEdit)
		r.Post("/user/delete", profileHandler.HandleDelete)
		r.Post("/vouch", profileHandler.HandleVouch)
		r.Post("/group/{url}/toggle", groupHandler.HandleToggle)
		r.Post("/apps", apiHandler.HandleCreateApp)
		r.Post("/admin/users/index_profiles", searchHandler.HandleReindex)
	})

	// Anything unmatched may be a bare username.
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","message":"page not found"}`, http.StatusNotFound)
	})
	s.router.NotFound(middleware.UsernameRedirect(profileSvc, s.logger)(notFound).ServeHTTP)

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Close stops the reindex scheduler and closes the database.
func (s *Server) Close(ctx context.Context) error {
	return errors.Join(s.reindex.Stop(ctx), s.db.Close())
}

// Start runs the HTTP server until SIGINT or SIGTERM.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the reindex scheduler, letting a running rebuild finish
//  4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("site_url", s.config.SiteURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()
	s.reindex.Start()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		return errors.Join(runErr, fmt.Errorf("releasing resources: %w", err))
	}
	if runErr == nil {
		s.logger.Info("server stopped gracefully")
	}
	return runErr
}
