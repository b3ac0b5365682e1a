// Package httpapi exposes the Storage Engine over HTTP: multipart upload,
// JSON record responses, content download, search, stats, and health,
// behind a single shared bearer token.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/sagarc03/blobcache"
)

// CORSConfig mirrors go-chi/cors's options as a mapstructure-tagged struct
// so it loads straight out of viper.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Verifier      RequestVerifier // nil disables auth
	CORS          CORSConfig
	MaxUploadSize int64 // bytes; 0 means no limit beyond StorageConfig.MaxFileSize
}

// Handler serves the file-cache HTTP surface over a Storage Engine.
type Handler struct {
	config HandlerConfig
	engine *blobcache.Engine
}

// NewHandler constructs a Handler bound to engine.
func NewHandler(config HandlerConfig, engine *blobcache.Engine) *Handler {
	return &Handler{config: config, engine: engine}
}

// Router builds the chi route tree for the file API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Get("/health", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.config.Verifier))
		r.Post("/files", h.handleUpload)
		r.Get("/files", h.handleSearch)
		r.Get("/files/stats", h.handleStats)
		r.Get("/files/{id}", h.handleGetInfo)
		r.Get("/files/{id}/download", h.handleDownload)
		r.Get("/files/{id}/exists", h.handleExists)
		r.Delete("/files/{id}", h.handleDelete)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.GetHealth(r.Context())
	code := http.StatusOK
	if !health.Healthy {
		code = http.StatusServiceUnavailable
	}
	_ = WriteJSON(w, code, health)
}

// handleUpload reads every part of the multipart body before calling
// SaveFile. Fields can arrive in any order a client chooses to send them
// (the "file" part is not guaranteed to come last), so the file's content
// is spooled to a temp file as it is read; SaveFile only runs once the
// whole request has been consumed and every field value is final.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "expected multipart form data")
		return
	}

	var (
		originalName   string
		declaredMime   string
		ttl            int
		metadata       map[string]any
		allowDuplicate bool
		haveFile       bool
	)

	spool, err := os.CreateTemp("", "blobcache-upload-*")
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to buffer upload")
		return
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "malformed multipart body")
			return
		}

		switch part.FormName() {
		case "file":
			originalName = part.FileName()
			declaredMime = part.Header.Get("Content-Type")
			haveFile = true

			body := io.Reader(part)
			if h.config.MaxUploadSize > 0 {
				body = http.MaxBytesReader(w, part, h.config.MaxUploadSize)
			}

			if _, err := io.Copy(spool, body); err != nil {
				_ = part.Close()
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					WriteError(w, http.StatusRequestEntityTooLarge, "size_exceeded", "uploaded file exceeds the maximum allowed size")
					return
				}
				WriteError(w, http.StatusBadRequest, "invalid_request", "failed to read uploaded file")
				return
			}
		case "ttl":
			value, _ := io.ReadAll(part)
			ttl, _ = strconv.Atoi(string(value))
		case "metadata":
			value, _ := io.ReadAll(part)
			if len(value) > 0 {
				if err := json.Unmarshal(value, &metadata); err != nil {
					WriteError(w, http.StatusBadRequest, "invalid_request", "metadata must be a JSON object")
					_ = part.Close()
					return
				}
			}
		case "allowDuplicate":
			value, _ := io.ReadAll(part)
			allowDuplicate, _ = strconv.ParseBool(string(value))
			slog.Debug("allowDuplicate is advisory only and does not affect dedup behavior", "value", allowDuplicate)
		}
		_ = part.Close()
	}

	if !haveFile {
		WriteError(w, http.StatusBadRequest, "invalid_request", "multipart body missing \"file\" field")
		return
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to rewind buffered upload")
		return
	}

	record, err := h.engine.SaveFile(r.Context(), blobcache.SaveFileParams{
		Stream:         spool,
		OriginalName:   originalName,
		DeclaredMime:   declaredMime,
		TTL:            ttl,
		Metadata:       metadata,
		AllowDuplicate: allowDuplicate,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, record)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: malformed id", blobcache.ErrValidation)
	}
	return id, nil
}

func (h *Handler) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	record, err := h.engine.GetFileInfo(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleExists(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	_, err = h.engine.GetFileInfo(r.Context(), id)
	exists := err == nil
	if err != nil && !errors.Is(err, blobcache.ErrNotFound) && !errors.Is(err, blobcache.ErrExpired) {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	record, stream, err := h.engine.OpenReadStream(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = stream.Close() }()

	w.Header().Set("Content-Type", record.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, record.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(record.Size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, stream)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	record, err := h.engine.DeleteFile(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := blobcache.SearchFilter{
		MimeType:    query.Get("mimeType"),
		ExpiredOnly: query.Get("expiredOnly") == "true",
		Limit:       100,
	}

	if v := query.Get("minSize"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "minSize must be an integer")
			return
		}
		filter.MinSize = n
	}
	if v := query.Get("maxSize"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "maxSize must be an integer")
			return
		}
		filter.MaxSize = n
	}
	if v := query.Get("uploadedAfter"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "uploadedAfter must be RFC3339")
			return
		}
		filter.UploadedAfter = t
	}
	if v := query.Get("uploadedBefore"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "uploadedBefore must be RFC3339")
			return
		}
		filter.UploadedBefore = t
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		filter.Limit = max(1, min(1000, n))
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "offset must be an integer")
			return
		}
		filter.Offset = max(0, n)
	}

	result, err := h.engine.SearchFiles(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetStats(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, stats)
}
