package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
)

func (r *Router) handleListFolders(w http.ResponseWriter, req *http.Request) {
	folders, err := r.store.ListFolders(req.Context())
	if err != nil {
		r.logger.Printf("folders: list failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (r *Router) handleCreateFolder(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, `{"error": "name is required"}`, http.StatusBadRequest)
		return
	}

	folder, err := r.store.CreateFolder(req.Context(), body.Name)
	if err != nil {
		r.logger.Printf("folders: create failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (r *Router) handleRenameFolder(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, `{"error": "name is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.RenameFolder(req.Context(), req.PathValue("id"), body.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "folder not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("folders: rename failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteFolder removes a folder. Agents inside are kept and moved to
// the top level.
func (r *Router) handleDeleteFolder(w http.ResponseWriter, req *http.Request) {
	if err := r.store.DeleteFolder(req.Context(), req.PathValue("id")); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "folder not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("folders: delete failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
