package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"botrelay/internal/config"
	"botrelay/internal/handler"
	"botrelay/internal/metrics"
	"botrelay/internal/middleware"
	"botrelay/internal/migration"
	"botrelay/internal/repository"
	"botrelay/internal/service"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

const reasonShutdown = "server shutting down"

type server struct {
	cfg      config.Config
	registry *service.ConnectionRegistry
	metrics  *metrics.Metrics
	db       *sql.DB
	queries  *repository.Queries
	history  *service.HistoryRecorder
	handler  http.Handler

	// sessions inherit sessionCtx so shutdown can end them after the listener stops
	sessionCtx    context.Context
	cancelSession context.CancelFunc
}

func newServer(cfg config.Config) (*server, error) {
	s := &server{
		cfg:      cfg,
		registry: service.NewConnectionRegistry(),
		metrics:  metrics.New(),
	}
	s.metrics.WatchAppIDs(s.registry.Count)
	s.sessionCtx, s.cancelSession = context.WithCancel(context.Background())

	if cfg.HistoryDB != "" {
		db, err := sql.Open("sqlite", cfg.HistoryDB)
		if err != nil {
			return nil, errors.Wrap(err, "open history db")
		}
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		if err := migration.Run(db); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "migrate history db")
		}
		s.db = db
		s.queries = repository.New(db)
		s.history = service.NewHistoryRecorder(s.queries, 1024)
		log.WithField("path", cfg.HistoryDB).Info("history journal enabled")
	}

	s.handler = s.routes()
	return s, nil
}

func (s *server) routes() http.Handler {
	cfg := s.cfg

	relayH := handler.NewRelayHandler(s.sessionCtx, service.SessionOptions{
		Registry:    s.registry,
		Dialer:      service.NewWebSocketDialer(cfg.DialTimeout, cfg.MaxMessageBytes, cfg.InsecureSkipVerify),
		Metrics:     s.metrics,
		History:     s.history,
		MaxAttempts: cfg.MaxReconnectAttempts,
		RetryDelay:  cfg.ReconnectDelay,
	}, cfg.MaxMessageBytes)

	proxy := service.NewHTTPProxy(service.HTTPProxyOptions{
		Client: service.CreateHTTPClient(service.HTTPClientOptions{
			Timeout:            cfg.ProxyTimeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			HTTP2:              true,
		}),
		Decoder:     service.NewContentDecoder(cfg.DeflateFraming, s.metrics),
		UserAgent:   cfg.UserAgent,
		AppIDHeader: cfg.AppIDHeader,
		Metrics:     s.metrics,
		History:     s.history,
	})
	proxyH := handler.NewProxyHandler(proxy, cfg.MaxBodyBytes)
	healthH := handler.NewHealthHandler(s.registry)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{
		Logger:  log.StandardLogger(),
		NoColor: true,
	}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.AppID(cfg.AppIDHeader))

	// Relay
	r.Get("/", relayH.Relay)
	r.Get("/ws", relayH.Relay)

	// Proxy
	r.Get("/proxy", proxyH.Proxy)
	r.Post("/proxy", proxyH.Proxy)
	r.Put("/proxy", proxyH.Proxy)
	r.Delete("/proxy", proxyH.Proxy)
	r.Patch("/proxy", proxyH.Proxy)

	// Status
	r.Get("/health", healthH.Health)
	r.Handle("/metrics", s.metrics.Handler())

	if s.queries != nil {
		histH := handler.NewHistoryHandler(s.queries)
		r.Get("/history/proxy", histH.ListProxy)
		r.Get("/history/sessions", histH.ListSessions)
	}

	return r
}

// closeSessions ends every live relay session with a going-away close.
func (s *server) closeSessions() {
	sessions := s.registry.All()
	if len(sessions) == 0 {
		return
	}
	log.WithField("sessions", len(sessions)).Info("closing relay sessions")

	var g errgroup.Group
	for _, rs := range sessions {
		rs := rs
		g.Go(func() error {
			rs.Close(websocket.StatusGoingAway, reasonShutdown)
			return nil
		})
	}
	g.Wait()
}

func (s *server) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	s.closeSessions()
	s.cancelSession()

	s.history.Close()
	if s.db != nil {
		s.db.Close()
	}
}

func (s *server) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.NoTLS {
			log.WithField("addr", srv.Addr).Warn("serving without TLS")
			err = srv.ListenAndServe()
		} else {
			log.WithFields(log.Fields{
				"addr": srv.Addr,
				"cert": s.cfg.TLSCertFile,
			}).Info("server listening")
			err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		s.shutdown(srv)
		return nil
	})
	if s.queries != nil {
		g.Go(func() error {
			return service.RunRetention(gctx, s.queries, s.cfg.HistoryRetention, 0)
		})
	}

	return g.Wait()
}

func run(ctx context.Context, cfg config.Config) error {
	s, err := newServer(cfg)
	if err != nil {
		return err
	}
	return s.serve(ctx)
}
