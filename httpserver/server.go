// Package httpserver exposes the core over HTTP: unauthenticated seal
// plumbing under /v1/sys, authenticated system operations, and a logical
// catch-all under /v1 that maps HTTP verbs to logical operations.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"github.com/helixcare/secrets-core/common"
	"github.com/helixcare/secrets-core/metrics"
)

type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

func New(cfg *HTTPServerConfig, handler *Handler) (srv *Server, err error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	srv = &Server{
		cfg:        cfg,
		log:        cfg.Log,
		srv:        nil,
		metricsSrv: metricsSrv,
		handler:    handler,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	// Seal plumbing: reachable without a token, and while sealed.
	mux.With(srv.httpLogger).Post("/v1/sys/init", srv.handler.HandleInit)
	mux.With(srv.httpLogger).Get("/v1/sys/init-token", srv.handler.HandleInitToken)
	mux.With(srv.httpLogger).Get("/v1/sys/seal-status", srv.handler.HandleSealStatus)
	mux.With(srv.httpLogger).Post("/v1/sys/unseal", srv.handler.HandleUnseal)
	mux.With(srv.httpLogger).Post("/v1/sys/seal", srv.handler.HandleSeal)

	// Authenticated system operations.
	mux.With(srv.httpLogger).Get("/v1/sys/policies", srv.handler.HandleListPolicies)
	mux.With(srv.httpLogger).Get("/v1/sys/policies/{name}", srv.handler.HandleGetPolicy)
	mux.With(srv.httpLogger).Put("/v1/sys/policies/{name}", srv.handler.HandleSetPolicy)
	mux.With(srv.httpLogger).Delete("/v1/sys/policies/{name}", srv.handler.HandleDeletePolicy)
	mux.With(srv.httpLogger).Post("/v1/sys/capabilities", srv.handler.HandleCapabilities)
	mux.With(srv.httpLogger).Get("/v1/sys/mounts", srv.handler.HandleListMounts)
	mux.With(srv.httpLogger).Post("/v1/sys/mounts", srv.handler.HandleMount)
	mux.With(srv.httpLogger).Delete("/v1/sys/mounts/*", srv.handler.HandleUnmount)
	mux.With(srv.httpLogger).Post("/v1/sys/tokens/create", srv.handler.HandleTokenCreate)
	mux.With(srv.httpLogger).Post("/v1/sys/tokens/renew-self", srv.handler.HandleTokenRenewSelf)
	mux.With(srv.httpLogger).Get("/v1/sys/tokens/lookup-self", srv.handler.HandleTokenLookupSelf)
	mux.With(srv.httpLogger).Post("/v1/sys/tokens/revoke", srv.handler.HandleTokenRevoke)
	mux.With(srv.httpLogger).Get("/v1/sys/realms", srv.handler.HandleListRealms)
	mux.With(srv.httpLogger).Post("/v1/sys/realms", srv.handler.HandleCreateRealm)

	// Logical catch-all. Registered last so the sys routes above win.
	mux.With(srv.httpLogger).Get("/v1/*", srv.handler.HandleLogical)
	mux.With(srv.httpLogger).Put("/v1/*", srv.handler.HandleLogical)
	mux.With(srv.httpLogger).Post("/v1/*", srv.handler.HandleLogical)
	mux.With(srv.httpLogger).Delete("/v1/*", srv.handler.HandleLogical)

	// Health and diagnostic endpoints
	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}

	srv.log.Info("Server marked as not ready")

	go func() {
		// Let load balancers notice the readiness flip before shutdown.
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("Drain period completed")
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}

	srv.log.Info("Server marked as ready")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("HTTP server failed", "err", err)
			}
		}()
	}

	// api
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

func (srv *Server) Shutdown() {
	// api
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	// metrics
	if len(srv.cfg.MetricsAddr) != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
