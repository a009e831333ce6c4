package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/rpattn/sitepolygons/internal/auth"
	"github.com/rpattn/sitepolygons/internal/ingestion"
)

// HeaderJobID lets clients choose the id progress is published under. It must
// be a UUID.
const HeaderJobID = "X-Job-Id"

// Handler serves the site polygon endpoints.
type Handler struct {
	service        *ingestion.Service
	logger         *slog.Logger
	maxUploadBytes int64
}

// Upload accepts a GeoJSON FeatureCollection either as the raw request body or
// as one or more multipart "file" parts.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	payloads, err := h.readPayloads(r)
	if err != nil {
		badRequest(w, "file", err.Error())
		return
	}

	collections := make([]*geojson.FeatureCollection, 0, len(payloads))
	for i, payload := range payloads {
		fc, err := geojson.UnmarshalFeatureCollection(payload)
		if err != nil {
			badRequest(w, "file", fmt.Sprintf("payload %d is not a GeoJSON FeatureCollection: %v", i, err))
			return
		}
		collections = append(collections, fc)
	}

	raw := payloads[0]
	if len(payloads) > 1 {
		if raw, err = json.Marshal(collections); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	result, err := h.service.Upload(r.Context(), ingestion.UploadRequest{
		Collections: collections,
		Actor:       auth.ActorFromContext(r.Context()),
		Source:      optionalQuery(r, "source"),
		JobID:       strings.TrimSpace(r.Header.Get(HeaderJobID)),
		Raw:         raw,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) readPayloads(r *http.Request) ([][]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		if len(data) == 0 {
			return nil, errors.New("request body is empty")
		}
		return [][]byte{data}, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("invalid form data: %w", err)
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, errors.New("at least one file is required")
	}
	payloads := make([][]byte, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", header.Filename, err)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Filename, err)
		}
		payloads = append(payloads, data)
	}
	return payloads, nil
}

type versionBody struct {
	Geometry   *geojson.FeatureCollection `json:"geometry"`
	Attributes map[string]any             `json:"attributes"`
	Reason     *string                    `json:"reason"`
	Source     *string                    `json:"source"`
}

func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	base, ok := uuidParam(w, r, "uuid")
	if !ok {
		return
	}
	var body versionBody
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "body", err.Error())
		return
	}

	result, err := h.service.CreateVersion(r.Context(), ingestion.VersionRequest{
		BaseUUID:   base,
		Geometry:   body.Geometry,
		Attributes: body.Attributes,
		Reason:     body.Reason,
		Actor:      auth.ActorFromContext(r.Context()),
		Source:     body.Source,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "uuid")
	if !ok {
		return
	}
	result, err := h.service.ActivateVersion(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statusBody struct {
	UUIDs   []uuid.UUID `json:"uuids"`
	Status  string      `json:"status"`
	Comment *string     `json:"comment"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "body", err.Error())
		return
	}
	updated, err := h.service.UpdateStatus(r.Context(), body.UUIDs, strings.TrimSpace(body.Status), auth.ActorFromContext(r.Context()), body.Comment)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) Duplicates(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "uuid")
	if !ok {
		return
	}
	finding, err := h.service.ValidatePolygon(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, finding)
}

func (h *Handler) Lineage(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "primaryUuid")
	if !ok {
		return
	}
	versions, err := h.service.Lineage(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "primaryUuid")
	if !ok {
		return
	}
	updates, err := h.service.History(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

// Diff renders a unified diff between two versions as plain text.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	base, ok := uuidParam(w, r, "uuid")
	if !ok {
		return
	}
	target, ok := uuidParam(w, r, "targetUuid")
	if !ok {
		return
	}
	diff, err := h.service.Diff(r.Context(), base, target)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, diff)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, name, fmt.Sprintf("invalid uuid %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func optionalQuery(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil
	}
	return &v
}
