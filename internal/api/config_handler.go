package api

import (
	"net/http"
	"strconv"

	"garrison/internal/domain"
)

// revisionHeader carries the save count of the returned document.
const revisionHeader = "X-Config-Revision"

func (api *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := api.Configs.Load(r.Context(), id)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if !api.setRevision(w, r, id) {
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (api *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var cfg domain.ServerConfig
	if err := decodeJSON(r, &cfg); err != nil {
		api.writeError(w, r, err)
		return
	}
	saved, err := api.Configs.Save(r.Context(), id, cfg)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if p, ok := PrincipalFrom(r.Context()); ok {
		api.log.Infow("server config changed", "connection", id, "by", p.ID)
	}
	if !api.setRevision(w, r, id) {
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (api *Server) setRevision(w http.ResponseWriter, r *http.Request, id string) bool {
	rev, err := api.Configs.Revision(r.Context(), id)
	if err != nil {
		api.writeError(w, r, err)
		return false
	}
	w.Header().Set(revisionHeader, strconv.Itoa(rev))
	return true
}
