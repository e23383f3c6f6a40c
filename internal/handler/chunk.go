package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"storyloom/internal/config"
	"storyloom/internal/domain/models"
	"storyloom/internal/httputil"
	"storyloom/internal/service/store"
)

// ChunkHandler handles chunk HTTP requests
type ChunkHandler struct {
	chunks       *store.ChunkStore
	keepVersions int
	logger       *slog.Logger
}

// NewChunkHandler creates a new chunk handler. keepVersions is the default
// retention for cleanup requests that do not specify one.
func NewChunkHandler(chunks *store.ChunkStore, keepVersions int, logger *slog.Logger) *ChunkHandler {
	if keepVersions < 1 {
		keepVersions = config.DefaultKeepVersions
	}
	return &ChunkHandler{
		chunks:       chunks,
		keepVersions: keepVersions,
		logger:       logger,
	}
}

// CreateChunk creates version 1 of a new chunk
// POST /api/chunks
func (h *ChunkHandler) CreateChunk(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChunkRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	chunk, err := h.chunks.Create(r.Context(), &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, chunk)
}

// GetChunk returns the latest version of a chunk
// GET /api/chunks/{id}
func (h *ChunkHandler) GetChunk(w http.ResponseWriter, r *http.Request) {
	chunk, err := h.chunks.GetLatest(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chunk)
}

// ListVersions returns all versions of a chunk, oldest first
// GET /api/chunks/{id}/versions
func (h *ChunkHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.chunks.ListVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// GetVersion returns one specific version of a chunk
// GET /api/chunks/{id}/versions/{version}
func (h *ChunkHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		httputil.RespondError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}

	chunk, err := h.chunks.GetVersion(r.Context(), r.PathValue("id"), version)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chunk)
}

// UpdateText writes a new version with the given text
// PUT /api/chunks/{id}/text
func (h *ChunkHandler) UpdateText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	chunk, err := h.chunks.UpdateText(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chunk)
}

// PatchProps merges a props patch into the latest version without creating
// a new version
// PATCH /api/chunks/{id}/props
func (h *ChunkHandler) PatchProps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch map[string]any
	if err := httputil.ParseJSON(w, r, &patch); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chunks.SetProps(r.Context(), id, patch); err != nil {
		respondDomainError(w, err)
		return
	}

	chunk, err := h.chunks.GetLatest(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chunk)
}

// DeleteChunk soft-deletes a chunk (all versions)
// DELETE /api/chunks/{id}
func (h *ChunkHandler) DeleteChunk(w http.ResponseWriter, r *http.Request) {
	if err := h.chunks.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CleanupVersions removes old versions beyond the keep count
// POST /api/chunks/{id}/cleanup?keep=N
func (h *ChunkHandler) CleanupVersions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	keep := h.keepVersions
	if raw := r.URL.Query().Get("keep"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.RespondError(w, http.StatusBadRequest, "keep must be an integer")
			return
		}
		keep = parsed
	}

	deleted, err := h.chunks.CleanupOldVersions(r.Context(), id, keep)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"chunk_id": id,
		"kept":     keep,
		"deleted":  deleted,
	})
}

// GetNeighbor returns the chunk before or after this one in chapter order
// GET /api/chunks/{id}/neighbor?direction=next|prev
func (h *ChunkHandler) GetNeighbor(w http.ResponseWriter, r *http.Request) {
	forward := true
	switch r.URL.Query().Get("direction") {
	case "", "next":
	case "prev":
		forward = false
	default:
		httputil.RespondError(w, http.StatusBadRequest, "direction must be next or prev")
		return
	}

	chunk, err := h.chunks.Neighbor(r.Context(), r.PathValue("id"), forward)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chunk)
}

// chunkFilterFromQuery builds a list filter from query parameters.
func chunkFilterFromQuery(r *http.Request) (models.ChunkFilter, error) {
	var filter models.ChunkFilter
	q := r.URL.Query()

	if t := q.Get("type"); t != "" {
		filter.Type = &t
	}
	if raw := q.Get("chapter"); raw != "" {
		chapter, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("chapter must be an integer")
		}
		filter.Chapter = &chapter
	}
	filter.IncludeDeleted = q.Get("include_deleted") == "true"
	filter.IncludeText = q.Get("include_text") == "true"

	return filter, nil
}
