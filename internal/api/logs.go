package api

import (
	"net/http"
)

func (api *Server) handleListLogDirectories(w http.ResponseWriter, r *http.Request) {
	dirs, err := api.Logs.ListLogDirectories(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dirs)
}

func (api *Server) handleListLogFiles(w http.ResponseWriter, r *http.Request) {
	files, err := api.Logs.ListLogFiles(r.Context(), r.PathValue("id"), r.PathValue("dir"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (api *Server) handleReadLogFile(w http.ResponseWriter, r *http.Request) {
	n, err := linesParam(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	lines, err := api.Logs.ReadLogFile(r.Context(), r.PathValue("id"), r.PathValue("dir"), r.PathValue("file"), n)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}
