// Package server exposes the OAuth handshake, manual triggers, health and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/metrics"
	"github.com/spigell/hh-autopilot/internal/model"
)

const (
	defaultListen   = ":8080"
	shutdownTimeout = 10 * time.Second
)

type Authorizer interface {
	AuthorizeURL(ctx context.Context, userID string) (string, error)
	CompleteHandshake(ctx context.Context, state, code string) (*model.OAuthToken, error)
}

type ResumeLister interface {
	GetMineResumes(ctx context.Context, token string) (*headhunter.Resumes, error)
}

type UserService interface {
	Add(ctx context.Context, id, locale string) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Authorized(ctx context.Context, id, resumeID string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, userID string) (string, error)
}

// Check reports whether a dependency is healthy.
type Check func(ctx context.Context) error

type Deps struct {
	OAuth   Authorizer
	Resumes ResumeLister
	Users   UserService
	// Triggers is optional; without it manual triggers answer 503.
	Triggers Enqueuer
	Health   map[string]Check
	Metrics  *metrics.Metrics
}

type Options struct {
	Listen string `mapstructure:"listen"`
	// Token guards operator endpoints and signs authorization links. Without it they answer 503.
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
	// PublicURL is where users reach this server, used in authorization links.
	PublicURL string        `mapstructure:"public-url"`
	LinkTTL   time.Duration `mapstructure:"link-ttl"`
}

type Server struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	router *gin.Engine
	links  *Links
}

func New(deps Deps, opts Options, log *zap.Logger) *Server {
	if opts.Listen == "" {
		opts.Listen = defaultListen
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.WithFields(log, zap.String("component", "http")),
	}

	links, err := NewLinks(opts.Token, opts.LinkTTL)
	if err != nil {
		s.logger.Warn("operator endpoints are disabled", zap.Error(err))
	}
	s.links = links
	s.router = s.routes()

	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(correlationID(), requestLogger(s.logger), gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	hh := router.Group("/hh")
	{
		hh.GET("/authorize", s.requireLinkOrOperator(), s.authorize)
		hh.GET("/callback", s.callback)
	}

	router.POST("/users/:id/trigger", s.requireOperator(), s.trigger)

	return router
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("listen", s.opts.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	s.logger.Info("http server stopping")
	return srv.Shutdown(shutdownCtx)
}
