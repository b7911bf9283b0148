package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"whisp.share/config"
	"whisp.share/internal/lifecycle"
	"whisp.share/internal/models"
	"whisp.share/web"
)

type Handler struct {
	manager *lifecycle.Manager
	config  *config.Config
	logger  *zap.Logger
}

func NewHandler(m *lifecycle.Manager, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		manager: m,
		config:  cfg,
		logger:  logger,
	}
}

type CreateResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	IsFile    bool      `json:"is_file"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RevealResponse struct {
	ContentType      models.ContentType `json:"content_type"`
	EncryptedPayload []byte             `json:"encrypted_payload"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// One message for missing, expired, consumed and password-rejected secrets.
// The response must not reveal which it was.
const deniedMessage = "secret not found, expired, or access denied"

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateWhisp accepts a multipart form (fields: encrypted_payload,
// ttl_minutes, password, optional file) or a plain form for text-only
// secrets. File uploads are streamed straight into the encrypting blob
// writer; the body is never buffered whole.
func (h *Handler) CreateWhisp(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		h.createFromMultipart(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.createText(w, r, r.PostForm.Get("encrypted_payload"), r.PostForm.Get("ttl_minutes"), r.PostForm.Get("password"))
}

func (h *Handler) createFromMultipart(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		h.error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	// Small fields arrive before the file part in the forms we serve; any
	// field sent after the file falls back to its default.
	fields := make(map[string]string)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.handleError(w, err)
			return
		}

		if part.FormName() == "file" {
			h.createFile(w, r, part, fields)
			return
		}

		value, err := io.ReadAll(io.LimitReader(part, h.config.Storage.MaxPayloadSize+1))
		part.Close()
		if err != nil {
			h.handleError(w, err)
			return
		}
		fields[part.FormName()] = string(value)
	}

	h.createText(w, r, fields["encrypted_payload"], fields["ttl_minutes"], fields["password"])
}

func (h *Handler) createText(w http.ResponseWriter, r *http.Request, payload, ttlMinutes, password string) {
	if payload == "" {
		h.error(w, http.StatusBadRequest, "encrypted_payload is required")
		return
	}

	created, err := h.manager.Create(r.Context(), lifecycle.CreateRequest{
		ContentType: models.ContentText,
		Payload:     []byte(payload),
		TTL:         h.ttl(ttlMinutes),
		Password:    password,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.created(w, created, false)
}

func (h *Handler) createFile(w http.ResponseWriter, r *http.Request, part *multipart.Part, fields map[string]string) {
	defer part.Close()

	// The client may put a display name in encrypted_payload; otherwise the
	// upload's own filename is used. Either way only a bare base name is kept.
	name := fields["encrypted_payload"]
	if name == "" {
		name = part.FileName()
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "unnamed"
	}

	created, err := h.manager.Create(r.Context(), lifecycle.CreateRequest{
		ContentType: models.ContentFile,
		FileName:    name,
		Body:        part,
		TTL:         h.ttl(fields["ttl_minutes"]),
		Password:    fields["password"],
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.created(w, created, true)
}

func (h *Handler) created(w http.ResponseWriter, created *lifecycle.Created, isFile bool) {
	h.json(w, http.StatusCreated, CreateResponse{
		ID:        created.ID,
		URL:       h.config.Server.BaseURL + "/s/" + created.ID,
		IsFile:    isFile,
		ExpiresAt: created.ExpiresAt,
	})
}

func (h *Handler) ttl(minutes string) time.Duration {
	if minutes == "" {
		return h.config.Secrets.DefaultTTL
	}
	n, err := strconv.Atoi(minutes)
	if err != nil {
		return -1 // out of bounds, rejected by the manager
	}
	return time.Duration(n) * time.Minute
}

// RevealWhisp burns the secret and returns it: JSON for text, an attachment
// stream for files.
func (h *Handler) RevealWhisp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	password := r.URL.Query().Get("password")

	res, err := h.manager.Consume(r.Context(), id, password)
	if err != nil {
		h.handleError(w, err)
		return
	}

	if res.ContentType == models.ContentText {
		h.json(w, http.StatusOK, RevealResponse{
			ContentType:      res.ContentType,
			EncryptedPayload: res.Payload,
		})
		return
	}

	h.streamFile(w, res)
}

func (h *Handler) streamFile(w http.ResponseWriter, res *lifecycle.Consumed) {
	defer res.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.FileName))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, res.Body); err != nil {
		// Too late for an error response; the blob is already unlinked, so a
		// broken download cannot be retried.
		h.logger.Warn("file stream aborted", zap.Error(err))
	}
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "index.html")
}

func (h *Handler) RevealPage(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "reveal.html")
}

func (h *Handler) serveFile(w http.ResponseWriter, filename string) {
	content, err := web.GetFile(filename)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, lifecycle.ErrAccessDenied):
		h.error(w, http.StatusNotFound, deniedMessage)
	case errors.Is(err, lifecycle.ErrInvalidTTL):
		h.error(w, http.StatusBadRequest, "ttl out of bounds")
	case errors.Is(err, lifecycle.ErrPayloadTooLarge), errors.As(err, &maxBytesErr):
		h.error(w, http.StatusRequestEntityTooLarge, "payload too large")
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}
