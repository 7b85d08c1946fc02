// Package handlers implements the HTTP handlers for the provisioning
// service's API: credential issuance, bulk import/export, template
// generation, enrollment group removal and model thumbnail access.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetcore/device-provisioning-backend/api"
	"github.com/fleetcore/device-provisioning-backend/enrollment"
	"github.com/fleetcore/device-provisioning-backend/imagecache"
	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/onboarding"
)

// MaxImportBody bounds the accepted import upload size.
const MaxImportBody = 64 << 20

// Handler processes HTTP requests for the device provisioning API.
type Handler struct {
	issuer   *enrollment.CredentialIssuer
	pipeline *onboarding.Pipeline
	images   *imagecache.Cache
	log      *slog.Logger
}

// NewHandler creates a handler over the service's core collaborators.
//
// Parameters:
//   - issuer: single-device credential issuance
//   - pipeline: bulk import/export pipeline
//   - images: model thumbnail cache, may be nil to disable image routes
//   - log: structured logger
func NewHandler(issuer *enrollment.CredentialIssuer, pipeline *onboarding.Pipeline, images *imagecache.Cache, log *slog.Logger) *Handler {
	return &Handler{
		issuer:   issuer,
		pipeline: pipeline,
		images:   images,
		log:      log,
	}
}

// RegisterRoutes configures the router with the API endpoints:
//   - POST   /api/devices/{device_id}/credentials
//   - POST   /api/devices/import
//   - GET    /api/devices/export
//   - GET    /api/devices/template
//   - DELETE /api/models/{model_id}/enrollment-group
//   - GET    /api/models/{model_id}/image
//   - PUT    /api/models/{model_id}/image
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/devices/{device_id}/credentials", h.HandleCredentials)
	r.Post("/api/devices/import", h.HandleImport)
	r.Get("/api/devices/export", h.HandleExport)
	r.Get("/api/devices/template", h.HandleTemplate)
	r.Delete("/api/models/{model_id}/enrollment-group", h.HandleDeleteGroup)
	if h.images != nil {
		r.Get("/api/models/{model_id}/image", h.HandleGetImage)
		r.Put("/api/models/{model_id}/image", h.HandlePutImage)
	}
}

// HandleCredentials issues derived connection credentials for one device.
//
// URL format: POST /api/devices/{device_id}/credentials?model_id={model_id}
//
// Status codes:
//   - 200 OK: credentials issued
//   - 400 Bad Request: malformed device or model identifier
//   - 404 Not Found: unknown model
//   - 503 Service Unavailable: attestation or provisioning backend down
//   - 500 Internal Server Error: derivation failure
func (h *Handler) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	deviceID := interfaces.DeviceID(chi.URLParam(r, "device_id"))
	modelID := interfaces.ModelID(r.URL.Query().Get("model_id"))
	if err := modelID.Validate(); err != nil {
		http.Error(w, "Invalid or missing model_id", http.StatusBadRequest)
		return
	}

	credentials, err := h.issuer.Issue(r.Context(), deviceID, modelID)
	if err != nil {
		h.log.Error("Credential issuance failed", "err", err,
			"device_id", deviceID.String(), "model_id", modelID.String())
		http.Error(w, err.Error(), credentialsStatus(err))
		return
	}

	writeJSON(w, h.log, api.CredentialsResponse{
		DeviceID:   credentials.DeviceID,
		GroupID:    credentials.GroupID,
		DerivedKey: credentials.DerivedKey,
		IssuedAt:   credentials.IssuedAt,
	})
}

func credentialsStatus(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrModelNotFound), errors.Is(err, interfaces.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrAttestationUnavailable), errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleImport runs the bulk onboarding pipeline over an uploaded CSV
// stream and returns the row-aligned report. Row failures are reported in
// the body with status 200; only an unreadable stream is an error status.
//
// URL format: POST /api/devices/import (body: text/csv)
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxImportBody)
	defer body.Close()

	lines, err := h.pipeline.ImportDeviceList(r.Context(), body)
	if err != nil {
		h.log.Error("Import failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, h.log, api.NewImportReport(lines))
}

// HandleExport streams all devices as CSV.
//
// URL format: GET /api/devices/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="devices.csv"`)
	if err := h.pipeline.ExportDeviceList(r.Context(), w); err != nil {
		// Headers are already sent; log and drop the connection.
		h.log.Error("Export failed", "err", err)
	}
}

// HandleTemplate streams the import template (header row only).
//
// URL format: GET /api/devices/template
func (h *Handler) HandleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="device-import-template.csv"`)
	if err := h.pipeline.ExportTemplateFile(r.Context(), w); err != nil {
		h.log.Error("Template generation failed", "err", err)
	}
}

// HandleDeleteGroup removes a model's enrollment group. Idempotent.
//
// URL format: DELETE /api/models/{model_id}/enrollment-group
//
// Status codes:
//   - 204 No Content: group removed or was already absent
//   - 400 Bad Request: malformed model identifier
//   - 503 Service Unavailable: provisioning backend down
func (h *Handler) HandleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	modelID := interfaces.ModelID(chi.URLParam(r, "model_id"))

	err := h.pipeline.DeleteEnrollmentGroupByModel(r.Context(), modelID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, interfaces.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		h.log.Error("Group deletion failed", "err", err, "model_id", modelID.String())
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error("Group deletion failed", "err", err, "model_id", modelID.String())
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleGetImage serves a model's thumbnail with a strong ETag and honors
// If-None-Match revalidation.
//
// URL format: GET /api/models/{model_id}/image
func (h *Handler) HandleGetImage(w http.ResponseWriter, r *http.Request) {
	modelID := interfaces.ModelID(chi.URLParam(r, "model_id"))
	if err := modelID.Validate(); err != nil {
		http.Error(w, "Invalid model_id", http.StatusBadRequest)
		return
	}

	if etag := h.images.ETag(modelID); etag != "" && r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	image, err := h.images.Get(r.Context(), modelID)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		http.Error(w, "No image for model", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Image fetch failed", "err", err, "model_id", modelID.String())
		http.Error(w, "Failed to fetch image", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("If-None-Match") == image.ETag {
		w.Header().Set("ETag", image.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", image.ETag)
	w.Header().Set("Content-Type", http.DetectContentType(image.Data))
	w.Header().Set("Cache-Control", "private, must-revalidate")
	_, _ = w.Write(image.Data)
}

// HandlePutImage stores a model's thumbnail and returns its new ETag.
//
// URL format: PUT /api/models/{model_id}/image (body: image bytes)
func (h *Handler) HandlePutImage(w http.ResponseWriter, r *http.Request) {
	modelID := interfaces.ModelID(chi.URLParam(r, "model_id"))

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, imagecache.MaxImageSize))
	if err != nil {
		http.Error(w, "Failed to read image body", http.StatusBadRequest)
		return
	}

	etag, err := h.images.Put(r.Context(), modelID, data)
	if errors.Is(err, interfaces.ErrValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error("Image store failed", "err", err, "model_id", modelID.String())
		http.Error(w, "Failed to store image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
