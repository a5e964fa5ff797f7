// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metadata"
)

const (
	defaultClipLimit = 50
	maxClipLimit     = 500
)

type registerRequest struct {
	AssetID       string `json:"asset_id"`
	SourceLocator string `json:"source_locator"`
}

type clipList struct {
	Clips  []asset.Clip `json:"clips"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, created, err := s.deps.Assets.Register(r.Context(), req.AssetID, req.SourceLocator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, a)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Assets.Get(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "asset_id")
	if err := s.deps.Assets.Delete(log.ContextWithAssetID(r.Context(), id), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(q url.Values, key string, def int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, failure.Newf(failure.KindInvalidParameter, "%s must be a non-negative integer", key)
	}
	return v, nil
}

func (s *Server) handleListClips(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "asset_id")
	limit, err := queryInt(r.URL.Query(), "limit", defaultClipLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r.URL.Query(), "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit = min(max(limit, 1), maxClipLimit)

	// an unknown asset is a 404, not an empty page
	if _, err := s.deps.Assets.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	clips, total, err := s.deps.Clips.ListClips(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if clips == nil {
		clips = []asset.Clip{}
	}
	writeJSON(w, http.StatusOK, clipList{Clips: clips, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) clip(r *http.Request) (asset.Clip, error) {
	id := chi.URLParam(r, "clip_id")
	c, err := s.deps.Clips.GetClip(r.Context(), id)
	if errors.Is(err, metadata.ErrNotFound) {
		return asset.Clip{}, failure.Newf(failure.KindNotFound, "clip %s not found", id)
	}
	return c, err
}

func (s *Server) handleGetClip(w http.ResponseWriter, r *http.Request) {
	c, err := s.clip(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteClip removes the record first; a file left behind by a
// failed remove becomes an orphan for retention.
func (s *Server) handleDeleteClip(w http.ResponseWriter, r *http.Request) {
	c, err := s.clip(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Clips.DeleteClip(r.Context(), c.ID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	logger := log.FromContext(r.Context()).With().Str(log.FieldClipID, c.ID).Str(log.FieldAssetID, c.AssetID).Logger()
	if s.deps.Outputs != nil {
		if err := s.deps.Outputs.Remove(r.Context(), c.OutputLocator); err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "clip.output_remove_failed").Msg("clip output left for retention")
		}
	}
	logger.Info().Str(log.FieldEvent, "clip.deleted").Msg("clip deleted")
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadClip redirects to a short-lived signed link. Outputs are
// served by the local backend, which honours the filename parameter.
func (s *Server) handleDownloadClip(w http.ResponseWriter, r *http.Request) {
	c, err := s.clip(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ep, err := s.deps.Links.DownloadLink(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := clipFilename(c.AssetID, c.ID)
	target, err := url.Parse(ep.URL)
	if err != nil {
		writeError(w, r, failure.Wrap(failure.KindInternal, "download link is malformed", err))
		return
	}
	q := target.Query()
	q.Set(filenameParam, name)
	target.RawQuery = q.Encode()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target.String(), http.StatusFound)
}
