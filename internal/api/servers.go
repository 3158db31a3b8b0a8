package api

import (
	"context"
	"net/http"
	"strconv"

	"garrison/internal/domain"
)

func (api *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := api.Supervisor.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (api *Server) startServer(ctx context.Context, id string) error {
	return api.Supervisor.Start(ctx, id)
}

func (api *Server) stopServer(ctx context.Context, id string) error {
	return api.Supervisor.Stop(ctx, id)
}

func (api *Server) restartServer(ctx context.Context, id string) error {
	return api.Supervisor.Restart(ctx, id)
}

func (api *Server) resetServer(ctx context.Context, id string) error {
	return api.Supervisor.Reset(ctx, id)
}

// lifecycle runs a synchronous operation and answers with the resulting
// status.
func (api *Server) lifecycle(op func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := op(r.Context(), id); err != nil {
			api.writeError(w, r, err)
			return
		}
		status, err := api.Supervisor.Status(r.Context(), id)
		if err != nil {
			api.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (api *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	progress, err := api.Supervisor.Install(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, progress)
}

func (api *Server) handleInstallProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	progress, err := api.Supervisor.InstallProgress(r.Context(), id)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if progress == nil {
		api.writeError(w, r, domain.NotFound("no install has run for connection %s", id))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type rconRequest struct {
	Command string `json:"command"`
}

type rconResponse struct {
	Command string `json:"command"`
	Reply   string `json:"reply"`
}

func (api *Server) handleRcon(w http.ResponseWriter, r *http.Request) {
	var req rconRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	reply, err := api.Relay.SendCommand(r.Context(), id, req.Command)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if p, ok := PrincipalFrom(r.Context()); ok {
		api.log.Infow("rcon command sent", "connection", id, "by", p.ID)
	}
	writeJSON(w, http.StatusOK, rconResponse{Command: req.Command, Reply: reply})
}

func linesParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("lines")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.ValidationFields("invalid query", []domain.FieldError{{Field: "lines", Message: "must be a number"}})
	}
	return n, nil
}

func (api *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	n, err := linesParam(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	lines, err := api.Logs.TailConsole(r.Context(), r.PathValue("id"), n)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (api *Server) handleConsoleSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := api.Registry.Get(r.Context(), id); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.HubManager.ServeWs(w, r, id)
}
