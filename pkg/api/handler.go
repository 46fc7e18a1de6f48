// Package api exposes files, jobs and profile pictures over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simplebox/pkg/credcache"
	"github.com/tendant/simplebox/pkg/jobs"
	"github.com/tendant/simplebox/pkg/profile"
	"github.com/tendant/simplebox/pkg/scoped"
	"github.com/tendant/simplebox/pkg/storage"
)

// DefaultMaxUploadBytes bounds multipart uploads held in memory.
const DefaultMaxUploadBytes = 32 << 20

type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

// JobEnqueuer sends raw JSON jobs.
type JobEnqueuer interface {
	EnqueueRaw(ctx context.Context, body []byte) (scoped.Receipt, error)
}

// ProfileService reads and replaces profile pictures.
type ProfileService interface {
	PictureURL(ctx context.Context, userID uuid.UUID) (string, error)
	SetPicture(ctx context.Context, userID uuid.UUID, filename, mimeType string, r io.Reader) (string, error)
}

// StatusReporter reports credential state without secrets.
type StatusReporter interface {
	Status() []credcache.Status
}

// Handler serves the simplebox API
type Handler struct {
	store          storage.BlobStore
	jobs           JobEnqueuer
	profiles       ProfileService
	credentials    StatusReporter
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewHandler creates a Handler. A nil logger uses slog.Default().
func NewHandler(store storage.BlobStore, jobs JobEnqueuer, profiles ProfileService, credentials StatusReporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:          store,
		jobs:           jobs,
		profiles:       profiles,
		credentials:    credentials,
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
}

// Routes returns the router for all endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/files", func(r chi.Router) {
		r.Get("/", h.ListFiles)
		r.Post("/", h.UploadFile)
		r.Delete("/", h.DeleteFile)
		r.Get("/url", h.GetFileURL)
	})
	r.Post("/jobs", h.EnqueueJob)
	r.Route("/users/{userID}/profile-picture", func(r chi.Router) {
		r.Get("/", h.GetProfilePicture)
		r.Put("/", h.SetProfilePicture)
	})
	r.Get("/credentials", h.GetCredentialStatus)

	return r
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListFilesResponse lists object keys
type ListFilesResponse struct {
	Keys []string `json:"keys"`
}

// KeyResponse names a stored object
type KeyResponse struct {
	Key string `json:"key"`
}

// URLResponse carries a presigned URL
type URLResponse struct {
	URL string `json:"url"`
}

// ListFiles lists the keys under the prefix query parameter
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.writeError(w, r, "list files", err)
		return
	}
	render.JSON(w, r, ListFilesResponse{Keys: keys})
}

// UploadFile stores the multipart "file" part under the "key" field, or under
// the uploaded file name when no key is given
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, r, "parse upload", badRequest(err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, "read upload", badRequest(err))
		return
	}
	defer file.Close()

	key := r.FormValue("key")
	if key == "" {
		key = path.Base(header.Filename)
	}
	if key == "" || key == "." || key == "/" {
		h.writeError(w, r, "upload file", badRequest(errors.New("key is required")))
		return
	}

	err = h.store.UploadWithParams(r.Context(), file, storage.UploadParams{
		ObjectKey: key,
		MimeType:  header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.writeError(w, r, "upload file", err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, KeyResponse{Key: key})
}

// GetFileURL returns a presigned download URL for the key query parameter
func (h *Handler) GetFileURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(w, r, "get file url", badRequest(errors.New("key is required")))
		return
	}

	url, err := h.store.GetDownloadURL(r.Context(), key, r.URL.Query().Get("filename"))
	if err != nil {
		h.writeError(w, r, "get file url", err)
		return
	}
	render.JSON(w, r, URLResponse{URL: url})
}

// DeleteFile deletes the object named by the key query parameter
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(w, r, "delete file", badRequest(errors.New("key is required")))
		return
	}

	if err := h.store.Delete(r.Context(), key); err != nil {
		h.writeError(w, r, "delete file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnqueueJob sends the JSON request body to the job queue
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxUploadBytes))
	if err != nil {
		h.writeError(w, r, "read job", badRequest(err))
		return
	}

	receipt, err := h.jobs.EnqueueRaw(r.Context(), body)
	if err != nil {
		h.writeError(w, r, "enqueue job", err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, receipt)
}

// GetProfilePicture returns a download URL for the user's picture
func (h *Handler) GetProfilePicture(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, "get profile picture", badRequest(err))
		return
	}

	url, err := h.profiles.PictureURL(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "get profile picture", err)
		return
	}
	render.JSON(w, r, URLResponse{URL: url})
}

// SetProfilePicture replaces the user's picture with the multipart "file" part
func (h *Handler) SetProfilePicture(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, "set profile picture", badRequest(err))
		return
	}
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, r, "parse upload", badRequest(err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, "read upload", badRequest(err))
		return
	}
	defer file.Close()

	key, err := h.profiles.SetPicture(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.writeError(w, r, "set profile picture", err)
		return
	}
	render.JSON(w, r, KeyResponse{Key: key})
}

// GetCredentialStatus reports the state of each service's credentials
func (h *Handler) GetCredentialStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.credentials.Status())
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "status", status, "err", err)
	} else {
		h.logger.Debug("request rejected", "op", op, "status", status, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var dispatchErr *scoped.DispatchError
	var badReq *badRequestError
	switch {
	case credcache.IsCredentialError(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &dispatchErr):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, profile.ErrPictureNotFound):
		return http.StatusNotFound
	case errors.As(err, &badReq), errors.Is(err, jobs.ErrInvalidJSON), errors.Is(err, profile.ErrInvalidFilename):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
