package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"garrison/internal/app"
	"garrison/internal/connection"
	"garrison/internal/logs"
	"garrison/internal/metrics"
	"garrison/internal/mods"
	"garrison/internal/rcon"
	"garrison/internal/runner"
	"garrison/internal/serverconfig"
	"garrison/internal/ws"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	Registry   *connection.Registry
	Supervisor *runner.Supervisor
	Configs    *serverconfig.Manager
	Mods       *mods.Manager
	Logs       *logs.Streamer
	Relay      *rcon.Relay
	HubManager *ws.HubManager
	Metrics    *metrics.Recorder
	Auth       Authorizer

	AllowedOrigins []string
	MetricsEnabled bool

	log *zap.SugaredLogger
}

func NewAPIServer(container *app.Container, log *zap.SugaredLogger) *Server {
	var auth Authorizer = AllowAll{}
	if container.Config.AuthEnabled {
		auth = JWTAuthorizer{Secret: []byte(container.Secret)}
	}
	return &Server{
		Registry:       container.Registry,
		Supervisor:     container.Supervisor,
		Configs:        container.Configs,
		Mods:           container.Mods,
		Logs:           container.Logs,
		Relay:          container.Relay,
		HubManager:     container.HubManager,
		Metrics:        container.Metrics,
		Auth:           auth,
		AllowedOrigins: container.Config.AllowedOrigins,
		MetricsEnabled: container.Config.MetricsEnabled,
		log:            log.Named("api"),
	}
}

func (api *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /connections", api.handleListConnections)
	mux.HandleFunc("POST /connections", api.handleCreateConnection)
	mux.HandleFunc("GET /connections/{id}", api.handleGetConnection)
	mux.HandleFunc("PATCH /connections/{id}", api.handleUpdateConnection)
	mux.HandleFunc("DELETE /connections/{id}", api.handleDeleteConnection)
	mux.HandleFunc("POST /connections/{id}/test", api.handleTestConnection)
	mux.HandleFunc("POST /connections/{id}/default", api.handleSetDefault)

	mux.HandleFunc("GET /connections/{id}/status", api.handleStatus)
	mux.HandleFunc("POST /connections/{id}/start", api.lifecycle(api.startServer))
	mux.HandleFunc("POST /connections/{id}/stop", api.lifecycle(api.stopServer))
	mux.HandleFunc("POST /connections/{id}/restart", api.lifecycle(api.restartServer))
	mux.HandleFunc("POST /connections/{id}/reset", api.lifecycle(api.resetServer))
	mux.HandleFunc("POST /connections/{id}/install", api.handleInstall)
	mux.HandleFunc("GET /connections/{id}/install", api.handleInstallProgress)

	mux.HandleFunc("GET /connections/{id}/config", api.handleGetConfig)
	mux.HandleFunc("PUT /connections/{id}/config", api.handleSaveConfig)

	mux.HandleFunc("GET /connections/{id}/mods", api.handleListMods)
	mux.HandleFunc("POST /connections/{id}/mods", api.handleAddMod)
	mux.HandleFunc("PUT /connections/{id}/mods/order", api.handleReorderMods)
	mux.HandleFunc("GET /connections/{id}/mods/compatibility", api.handleModCompatibility)
	mux.HandleFunc("PATCH /mods/{modId}", api.handleUpdateMod)
	mux.HandleFunc("DELETE /mods/{modId}", api.handleDeleteMod)
	mux.HandleFunc("POST /mods/{modId}/toggle", api.handleToggleMod)

	mux.HandleFunc("POST /connections/{id}/rcon", api.handleRcon)

	mux.HandleFunc("GET /connections/{id}/logs", api.handleListLogDirectories)
	mux.HandleFunc("GET /connections/{id}/logs/{dir}", api.handleListLogFiles)
	mux.HandleFunc("GET /connections/{id}/logs/{dir}/{file}", api.handleReadLogFile)
	mux.HandleFunc("GET /connections/{id}/console", api.handleConsole)
	mux.HandleFunc("GET /ws/connections/{id}/console", api.handleConsoleSocket)

	root := http.NewServeMux()
	root.Handle("/", api.AuthMiddleware(mux))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if api.MetricsEnabled {
		root.Handle("GET /metrics", promhttp.Handler())
	}

	return api.corsMiddleware(root)
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (api *Server) Start(ctx context.Context, listenAddr string) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		api.log.Infow("API listening", "addr", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
