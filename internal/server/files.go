package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/storage"
)

// multipart bookkeeping on top of the configured upload limit
const formOverhead = 1 << 20

// registerFiles mounts upload and download routes directly on chi; they move
// raw bytes and multipart forms rather than JSON bodies.
func registerFiles(r chi.Router, basePath string, e engine.Engine) {
	maxBytes := e.Config.Storage.MaxUploadBytes
	admin := path.Join(basePath, "sessions/{session_id}/trainees/{trainee_id}")
	portal := path.Join(basePath, "portal/{token}")

	r.Post(admin+"/documents/{key}", func(w http.ResponseWriter, req *http.Request) {
		actorID, authErr := actorIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		submitDocument(w, req, e, maxBytes, chi.URLParam(req, "session_id"), chi.URLParam(req, "trainee_id"), actorID)
	})
	r.Get(admin+"/documents/{key}/files/{index}", func(w http.ResponseWriter, req *http.Request) {
		serveDocument(w, req, e, chi.URLParam(req, "session_id"), chi.URLParam(req, "trainee_id"))
	})
	r.Post(admin+"/deliverables/{kind}", func(w http.ResponseWriter, req *http.Request) {
		actorID, authErr := actorIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		filename, data, err := readUpload(w, req, maxBytes)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		t, err := e.SetDeliverable(req.Context(), chi.URLParam(req, "session_id"), chi.URLParam(req, "trainee_id"),
			chi.URLParam(req, "kind"), filename, data, actorID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		writeJSON(w, http.StatusCreated, t)
	})
	r.Get(admin+"/deliverables/{kind}", func(w http.ResponseWriter, req *http.Request) {
		p, err := e.DeliverableFile(req.Context(), chi.URLParam(req, "session_id"), chi.URLParam(req, "trainee_id"), chi.URLParam(req, "kind"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		serveFile(w, req, p)
	})

	r.Post(portal+"/documents/{key}", func(w http.ResponseWriter, req *http.Request) {
		s, t, ok := portalTrainee(w, req, e)
		if !ok {
			return
		}
		submitDocument(w, req, e, maxBytes, s.ID, t.ID, portalActor(t))
	})
	r.Get(portal+"/documents/{key}/files/{index}", func(w http.ResponseWriter, req *http.Request) {
		s, t, ok := portalTrainee(w, req, e)
		if !ok {
			return
		}
		serveDocument(w, req, e, s.ID, t.ID)
	})
}

func portalTrainee(w http.ResponseWriter, req *http.Request, e engine.Engine) (domain.Session, domain.Trainee, bool) {
	s, t, err := e.FindByToken(req.Context(), chi.URLParam(req, "token"))
	if err != nil {
		respondStatusError(w, handleError(err))
		return s, t, false
	}
	return s, t, true
}

func submitDocument(w http.ResponseWriter, req *http.Request, e engine.Engine, maxBytes int64, sessionID, traineeID, actorID string) {
	filename, data, err := readUpload(w, req, maxBytes)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	res, err := e.SubmitDocument(req.Context(), sessionID, traineeID, chi.URLParam(req, "key"),
		engine.Upload{Filename: filename, Data: data}, actorID)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func serveDocument(w http.ResponseWriter, req *http.Request, e engine.Engine, sessionID, traineeID string) {
	index, err := strconv.Atoi(chi.URLParam(req, "index"))
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "index must be an integer", nil))
		return
	}
	p, err := e.DocumentFile(req.Context(), sessionID, traineeID, chi.URLParam(req, "key"), index)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	serveFile(w, req, p)
}

// readUpload reads the "file" part of a multipart form.
func readUpload(w http.ResponseWriter, req *http.Request, maxBytes int64) (string, []byte, error) {
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes+formOverhead)
	if err := req.ParseMultipartForm(maxBytes + formOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, fmt.Errorf("%w: upload exceeds %d bytes", storage.ErrTooLarge, maxBytes)
		}
		return "", nil, fmt.Errorf("%w: multipart form with a file part required", domain.ErrInvalidArgument)
	}
	defer req.MultipartForm.RemoveAll()
	f, hdr, err := req.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: file part required", domain.ErrInvalidArgument)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return "", nil, err
	}
	if int64(len(data)) > maxBytes {
		return "", nil, fmt.Errorf("%w: upload exceeds %d bytes", storage.ErrTooLarge, maxBytes)
	}
	return filepath.Base(hdr.Filename), data, nil
}

func serveFile(w http.ResponseWriter, req *http.Request, p string) {
	ctype, err := storage.SniffFile(p)
	if err != nil {
		respondStatusError(w, handleError(fmt.Errorf("stored file: %w", notFoundIfMissing(err))))
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filepath.Base(p)}))
	http.ServeFile(w, req, p)
}

func notFoundIfMissing(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%v: %w", err, domain.ErrNotFound)
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
