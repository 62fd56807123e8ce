package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/racedesk/apiserver/config"
	"github.com/racedesk/apiserver/internal/auth"
	"github.com/racedesk/apiserver/internal/handlers"
	"github.com/racedesk/apiserver/internal/logging"
	"github.com/racedesk/apiserver/internal/mq"
	"github.com/racedesk/apiserver/internal/notify"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/services"
	"github.com/racedesk/apiserver/types"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    []func() error
}

// App holds what the router serves.
type App struct {
	Users           *services.UserService
	Messages        *services.MessageService
	Identity        auth.IdentityProvider
	Health          handlers.Pinger
	MessageDefaults paging.Defaults
	UserDefaults    paging.Defaults
	CORSOrigins     []string
	// PanicReporter sees a panic before the recoverer turns it into a 500.
	// It must re-panic.
	PanicReporter func(http.Handler) http.Handler
	Logger        *slog.Logger
}

// NewRouter mounts every route of app with the standard middleware.
func NewRouter(app App) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.Middleware(app.Logger),
		middleware.Recoverer,
	)
	// Registered inside Recoverer so it sees the panic first.
	if app.PanicReporter != nil {
		router.Use(app.PanicReporter)
	}
	router.Use(middleware.Timeout(60 * time.Second))
	if len(app.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   app.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/healthz", handlers.Health(app.Health, app.Logger))

	identify := handlers.Identify(app.Identity, app.Logger)
	messageHandler := handlers.NewMessageHandler(app.Messages, app.Users, app.MessageDefaults, app.Logger)
	userHandler := handlers.NewUserHandler(app.Users, app.UserDefaults, app.Logger)

	for _, prefix := range []string{"/messages", "/api/messages"} {
		router.Route(prefix, func(r chi.Router) {
			r.Use(identify)
			handlers.MessageRouter(r, messageHandler)
		})
	}
	router.Route("/users", func(r chi.Router) {
		r.Use(identify)
		handlers.UserRouter(r, userHandler)
	})
	return router
}

// New wires stores, brokers and handlers according to cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{logger: logger}

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, stores.Close)

	identity, err := NewIdentity(cfg.Auth)
	if err != nil {
		s.close()
		return nil, err
	}

	events, err := OpenEvents(ctx, cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	archive, err := OpenArchive(ctx, cfg)
	if err != nil {
		s.close()
		return nil, err
	}

	messageOpts := []services.MessageOption{
		services.WithAtomicCreate(cfg.Messages.AtomicCreate),
		services.WithReadStrategy(services.ReadStrategy(cfg.Messages.ReadStrategy)),
		services.WithMessageLogger(logger),
		services.WithErrorReporter(reportToSentry),
	}
	userOpts := []services.UserOption{services.WithUserLogger(logger)}
	if events != nil {
		s.closers = append(s.closers, events.Close)
		messageOpts = append(messageOpts, services.WithMessageEvents(events))
		userOpts = append(userOpts, services.WithUserEvents(events))
		if cfg.MQBackend == config.MQBackendLoopback {
			s.closers = append(s.closers, consumeInProcess(events, notify.NewDispatcher(stores.Users, nil, logger), logger))
		}
	}
	if archive != nil {
		s.closers = append(s.closers, archive.Close)
		userOpts = append(userOpts, services.WithUserArchive(archive))
	}

	var panicReporter func(http.Handler) http.Handler
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		}); err != nil {
			logger.Error("sentry init failed", "error", err)
		} else {
			panicReporter = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle
			s.closers = append(s.closers, func() error {
				sentry.Flush(2 * time.Second)
				return nil
			})
		}
	}

	router := NewRouter(App{
		Users:           services.NewUserService(stores.Users, stores.Messages, userOpts...),
		Messages:        services.NewMessageService(stores.Messages, stores.Users, messageOpts...),
		Identity:        identity,
		Health:          pingFunc(stores.Ping),
		MessageDefaults: MessageDefaults(cfg),
		UserDefaults:    UserDefaults(cfg),
		CORSOrigins:     cfg.CORSAllowedOrigins,
		PanicReporter:   panicReporter,
		Logger:          logger,
	})

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// NewIdentity builds the identity provider selected by cfg.Mode.
func NewIdentity(cfg config.AuthConfig) (auth.IdentityProvider, error) {
	switch cfg.Mode {
	case config.AuthModeFixed:
		id, err := FixedCaller(cfg)
		if err != nil {
			return nil, err
		}
		return auth.FixedIdentity{Caller: auth.Caller{
			ID:   id,
			Nick: cfg.CallerNick,
			Role: types.Role(cfg.CallerRole),
		}}, nil
	case config.AuthModeJWT:
		chain := auth.Chain{auth.NewJWTIdentity(cfg.JWTSecret)}
		if cfg.APIKeyHash != "" {
			id, err := FixedCaller(cfg)
			if err != nil {
				return nil, err
			}
			chain = append(chain, auth.NewAPIKeyIdentity(cfg.APIKeyHash, auth.Caller{
				ID:   id,
				Nick: cfg.APIKeyNick,
				Role: types.RoleRaceDirector,
			}))
		}
		return chain, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.close()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
}

// consumeInProcess drains every event channel of a loopback broker so that
// publishers never block on a full buffer. It returns the stop function.
func consumeInProcess(events *mq.MQ, dispatcher *notify.Dispatcher, logger *slog.Logger) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	for _, channel := range []string{mq.ChannelMessagesCreated, mq.ChannelUsersDeleted} {
		go func() {
			err := events.SubscribeEvents(ctx, channel, dispatcher.Handle)
			if err != nil && ctx.Err() == nil {
				logger.Error("in-process consumer stopped", "channel", channel, "error", err)
			}
		}()
	}
	return func() error {
		cancel()
		return nil
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

func reportToSentry(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
