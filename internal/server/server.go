// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: New builds every dependency from a
// config.Config and hands each layer only what it needs.
//
//	sqlite.DB → UserDB (repository.UserRepository)
//	  → AuthService, IdentityService, PasswordResetService
//	    → AuthHandler, OAuthHandler, PasswordHandler
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/cache"
	"github.com/sakif/auth-service/internal/config"
	"github.com/sakif/auth-service/internal/handler"
	"github.com/sakif/auth-service/internal/mail"
	"github.com/sakif/auth-service/internal/middleware"
	"github.com/sakif/auth-service/internal/model"
	sqliteRepo "github.com/sakif/auth-service/internal/repository/sqlite"
	"github.com/sakif/auth-service/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

type options struct {
	mailer    mail.Mailer
	passwords *auth.PasswordService
	providers map[string]auth.Provider
}

// WithMailer replaces the SMTP or log mailer.
func WithMailer(m mail.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithPasswordService replaces the production bcrypt cost.
func WithPasswordService(p *auth.PasswordService) Option {
	return func(o *options) { o.passwords = p }
}

// WithProvider registers p under name in place of the configured client.
func WithProvider(name string, p auth.Provider) Option {
	return func(o *options) {
		if o.providers == nil {
			o.providers = make(map[string]auth.Provider)
		}
		o.providers[name] = p
	}
}

// Server owns the router and every long-lived resource behind it. The
// database and the Redis client are closed by Close, which Start calls on
// the way out.
type Server struct {
	router  chi.Router
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	closers []io.Closer
}

// New connects to the datastore, applies migrations and wires the routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sqliteRepo.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := db.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	if err := s.setupRoutes(ctx, o); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes builds the services and registers every route.
//
// ROUTES:
//
//	GET  /                        → service banner
//	GET  /health                  → liveness
//	POST /register                → create local account
//	POST /login                   → password login
//	GET  /auth/google/login       → redirect to Google
//	GET  /auth/google/callback    → finish Google login
//	GET  /auth/facebook           → redirect to Facebook
//	GET  /auth/facebook/callback  → finish Facebook login
//	POST /forgot-password         → mail a reset link
//	POST /reset-password          → set a new password
//	GET  /me, /profile            → current user (bearer token)
//
// Middleware order: RequestID, RealIP, Logger, Recoverer, CORS.
func (s *Server) setupRoutes(ctx context.Context, o options) error {
	cfg := s.config

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    cfg.Token.SecretKey,
		Algorithm: cfg.Token.Algorithm,
		AccessTTL: cfg.Token.AccessTTL(),
		ResetTTL:  cfg.Token.ResetTTL(),
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	passwords := o.passwords
	if passwords == nil {
		passwords = auth.NewPasswordService()
	}

	states, err := s.stateStore(ctx)
	if err != nil {
		return err
	}

	mailer := o.mailer
	if mailer == nil {
		mailer = s.newMailer()
	}

	users := s.db.Users()
	providers := s.providerRegistry(o.providers)

	accounts := service.NewAuthService(users, tokens, passwords, s.logger)
	identities := service.NewIdentityService(users, providers, tokens, s.logger)
	resets := service.NewPasswordResetService(users, tokens, passwords, mailer, s.logger, service.ResetOptions{
		DiscloseOAuthOnly: cfg.DiscloseOAuthOnly,
	})

	authHandler := handler.NewAuthHandler(accounts, s.logger)
	oauthHandler := handler.NewOAuthHandler(identities, states, s.logger)
	passwordHandler := handler.NewPasswordHandler(resets, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	s.router.Get("/", handler.HandleRoot)
	s.router.Get("/health", handler.HandleHealth)

	s.router.Post("/register", authHandler.HandleRegister)
	s.router.Post("/login", authHandler.HandleLogin)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", oauthHandler.HandleGoogleLogin)
		r.Get("/google/callback", oauthHandler.HandleGoogleCallback)
		r.Get("/facebook", oauthHandler.HandleFacebookLogin)
		r.Get("/facebook/callback", oauthHandler.HandleFacebookCallback)
	})

	s.router.Post("/forgot-password", passwordHandler.HandleForgotPassword)
	s.router.Post("/reset-password", passwordHandler.HandleResetPassword)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/me", authHandler.HandleMe)
		r.Get("/profile", authHandler.HandleMe)
	})

	return nil
}

// providerRegistry registers each provider that has a client id, then
// applies overrides.
func (s *Server) providerRegistry(overrides map[string]auth.Provider) *auth.Registry {
	cfg := s.config
	registry := auth.NewRegistry()

	if cfg.Google.Enabled() {
		registry.Register(model.ProviderGoogle, auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			Timeout:      cfg.OAuth.ProviderTimeout,
		}))
	}
	if cfg.Facebook.Enabled() {
		registry.Register(model.ProviderFacebook, auth.NewFacebookProvider(auth.FacebookConfig{
			ClientID:     cfg.Facebook.ClientID,
			ClientSecret: cfg.Facebook.ClientSecret,
			RedirectURL:  cfg.Facebook.RedirectURI,
			Timeout:      cfg.OAuth.ProviderTimeout,
			Logger:       s.logger.With(slog.String("provider", model.ProviderFacebook)),
		}))
	}
	for name, p := range overrides {
		registry.Register(name, p)
	}

	s.logger.Info("oauth providers registered", slog.Any("providers", registry.Names()))
	return registry
}

// stateStore uses Redis when REDIS_URL is set so that several replicas share
// OAuth state. Otherwise state lives in this process.
func (s *Server) stateStore(ctx context.Context) (cache.StateStore, error) {
	ttl := s.config.OAuth.StateTTL
	if s.config.OAuth.RedisURL == "" {
		return cache.NewMemoryStateStore(ttl), nil
	}

	client, err := cache.NewRedisClient(ctx, s.config.OAuth.RedisURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, client)
	return cache.NewRedisStateStore(client, cache.DefaultStatePrefix, ttl), nil
}

func (s *Server) newMailer() mail.Mailer {
	smtp := s.config.SMTP
	if !smtp.Enabled() {
		s.logger.Warn("SMTP not configured, emails will only be logged")
		return mail.NewLogMailer(s.logger)
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:        smtp.Server,
		Port:        smtp.Port,
		Username:    smtp.User,
		Password:    smtp.Password,
		FromAddress: smtp.From,
		FrontendURL: s.config.FrontendURL,
		ResetTTL:    s.config.Token.ResetTTL(),
		Timeout:     smtp.Timeout,
	})
}

// Close releases the Redis client and the database.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Start serves HTTP until SIGINT or SIGTERM, then drains in-flight requests
// for up to 30 seconds and closes every resource.
func (s *Server) Start() error {
	defer s.Close()

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
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DatabaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
