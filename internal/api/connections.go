package api

import (
	"net/http"
	"strconv"

	"garrison/internal/domain"
)

// connectionView never carries secrets, only whether they are set.
type connectionView struct {
	domain.Connection
	HasCredentials bool `json:"hasCredentials"`
}

func viewOf(c domain.Connection) connectionView {
	return connectionView{Connection: c, HasCredentials: c.HasCredentials()}
}

func (api *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := api.Registry.List(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, viewOf(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (api *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := api.Registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*conn))
}

func (api *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var def domain.ConnectionDefinition
	if err := decodeJSON(r, &def); err != nil {
		api.writeError(w, r, err)
		return
	}
	conn, err := api.Registry.Add(r.Context(), def)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(*conn))
}

func (api *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var def domain.ConnectionDefinition
	if err := decodeJSON(r, &def); err != nil {
		api.writeError(w, r, err)
		return
	}
	conn, err := api.Registry.Update(r.Context(), r.PathValue("id"), def)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*conn))
}

func (api *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			api.writeError(w, r, domain.Validation("force must be true or false"))
			return
		}
		force = b
	}

	if err := api.Registry.Remove(r.Context(), id, force); err != nil {
		api.writeError(w, r, err)
		return
	}

	if api.HubManager != nil {
		api.HubManager.RemoveHub(id)
	}
	if api.Relay != nil {
		api.Relay.Drop(id)
	}
	if api.Metrics != nil {
		api.Metrics.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	result, err := api.Registry.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := api.Registry.SetDefault(r.Context(), id); err != nil {
		api.writeError(w, r, err)
		return
	}
	conn, err := api.Registry.Get(r.Context(), id)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*conn))
}
