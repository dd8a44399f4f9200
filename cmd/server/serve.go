package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"agora-server/internal/config"
	"agora-server/internal/handler"
	"agora-server/internal/metrics"
	"agora-server/internal/service"
	"agora-server/internal/store"
	"agora-server/internal/store/memory"
	"agora-server/internal/store/postgres"
	"agora-server/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := postgres.Migrate(st.DB()); err != nil {
				return nil, multierr.Append(err, st.Close())
			}
		}
		return st, nil
	default:
		return memory.New(), nil
	}
}

func runServe(ctx context.Context, cfg *config.Config) (err error) {
	logger.Init(cfg.Log.Level, cfg.Log.Dir, cfg.Log.MaxEntries)
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	jwtService := service.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpirationHours)
	gateway := service.NewGateway(jwtService, st, service.GatewayConfig{
		LivenessInterval: cfg.WebSocket.LivenessInterval,
		IdleTimeout:      cfg.WebSocket.IdleTimeout,
		TypingTTL:        cfg.WebSocket.TypingTTL,
		MaxTypingPerRoom: cfg.WebSocket.MaxTypingPerRoom,
		Search: service.SearchLimits{
			DefaultPageSize: cfg.Marketplace.DefaultPageSize,
			MaxPageSize:     cfg.Marketplace.MaxPageSize,
		},
	}, metrics.New())

	router := handler.NewRouter(handler.RouterConfig{
		Gateway:        gateway,
		Auth:           service.NewAuthService(cfg.Admin.Secret),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		WebSocket: handler.WebSocketConfig{
			PingInterval: cfg.WebSocket.PingInterval,
			ReadLimit:    cfg.WebSocket.ReadLimit,
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"port":  cfg.Server.Port,
			"mode":  cfg.Mode,
			"store": cfg.Store.Driver,
			"tls":   cfg.TLS.Enabled,
		}).Info("gateway listening")

		var err error
		if cfg.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// stop accepting first, then close the hijacked websocket connections
		errs := srv.Shutdown(shutdownCtx)
		errs = multierr.Append(errs, gateway.Shutdown())
		logrus.Info("server stopped")
		return errs
	})

	return g.Wait()
}
