// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/storage"
)

// filenameParam asks the file handler for an attachment disposition. It
// is not covered by the signature; the handler re-folds it.
const filenameParam = "filename"

// FileSigner verifies signed local URLs and maps them to files.
// *storage.Local implements it.
type FileSigner interface {
	Verify(method, root, rel, exp, sig string) error
	Resolve(root, rel string) (string, error)
}

// FileHandler serves only the signed /files/ routes. One-shot commands
// mount it so the engine can read local sources without the full API.
func FileHandler(files FileSigner) http.Handler {
	r := chi.NewRouter()
	mountFiles(r, files)
	return r
}

func mountFiles(r chi.Router, files FileSigner) {
	h := func(w http.ResponseWriter, r *http.Request) { serveSigned(files, w, r) }
	r.Get("/files/{root}/*", h)
	r.Head("/files/{root}/*", h)
}

// serveSigned serves one file behind a signed URL. Range and conditional
// requests are handled by http.ServeContent.
func serveSigned(files FileSigner, w http.ResponseWriter, r *http.Request) {
	root := chi.URLParam(r, "root")
	rel := path.Clean("/" + chi.URLParam(r, "*"))[1:]
	q := r.URL.Query()

	logger := log.FromContext(r.Context()).With().Str("root", root).Str(log.FieldPath, rel).Logger()
	if err := files.Verify(r.Method, root, rel, q.Get("exp"), q.Get("sig")); err != nil {
		code := "forbidden"
		if errors.Is(err, storage.ErrLinkExpired) {
			code = "link_expired"
		}
		logger.Warn().Str(log.FieldEvent, "files.rejected").Str("reason", code).Msg("signed file request rejected")
		writeProblem(w, r, http.StatusForbidden, code, "", nil)
		return
	}

	p, err := files.Resolve(root, rel)
	if err != nil {
		writeProblem(w, r, http.StatusNotFound, "not_found", "", nil)
		return
	}
	f, err := os.Open(p) // #nosec G304 -- p is confined to a configured root
	if err != nil {
		writeProblem(w, r, http.StatusNotFound, "not_found", "", nil)
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeProblem(w, r, http.StatusNotFound, "not_found", "", nil)
		return
	}

	if name := q.Get(filenameParam); name != "" {
		if folded := foldASCII(name); folded != "" {
			w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": folded}))
		}
	}
	switch path.Ext(rel) {
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	case ".ts":
		w.Header().Set("Content-Type", "video/mp2t")
	case ".mp4":
		w.Header().Set("Content-Type", "video/mp4")
	}
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, path.Base(rel), info.ModTime(), f)
}
