package api

import (
	"net/http"

	"garrison/internal/domain"
)

func (api *Server) handleListMods(w http.ResponseWriter, r *http.Request) {
	list, err := api.Mods.List(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (api *Server) handleAddMod(w http.ResponseWriter, r *http.Request) {
	var def domain.ModDefinition
	if err := decodeJSON(r, &def); err != nil {
		api.writeError(w, r, err)
		return
	}
	mod, err := api.Mods.Add(r.Context(), r.PathValue("id"), def)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mod)
}

type reorderRequest struct {
	Order []string `json:"order"`
}

func (api *Server) handleReorderMods(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	list, err := api.Mods.Reorder(r.Context(), r.PathValue("id"), req.Order)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (api *Server) handleUpdateMod(w http.ResponseWriter, r *http.Request) {
	var def domain.ModDefinition
	if err := decodeJSON(r, &def); err != nil {
		api.writeError(w, r, err)
		return
	}
	mod, err := api.Mods.Update(r.Context(), r.PathValue("modId"), def)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mod)
}

func (api *Server) handleToggleMod(w http.ResponseWriter, r *http.Request) {
	mod, err := api.Mods.Toggle(r.Context(), r.PathValue("modId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mod)
}

func (api *Server) handleDeleteMod(w http.ResponseWriter, r *http.Request) {
	if err := api.Mods.Remove(r.Context(), r.PathValue("modId")); err != nil {
		api.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleModCompatibility checks against ?version= or, when absent, the
// version the server last reported.
func (api *Server) handleModCompatibility(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	version := r.URL.Query().Get("version")
	if version == "" {
		conn, err := api.Registry.Get(r.Context(), id)
		if err != nil {
			api.writeError(w, r, err)
			return
		}
		version = conn.ServerVersion
	}
	report, err := api.Mods.CompatibilityReport(r.Context(), id, version)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
