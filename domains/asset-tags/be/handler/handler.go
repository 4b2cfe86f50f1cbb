package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-itam/atlas/domains/asset-tags/be/service"
	"github.com/atlas-itam/atlas/platform/go/idempotency"
	platformlogging "github.com/atlas-itam/atlas/platform/go/logging"
	"github.com/atlas-itam/atlas/platform/go/requesttrace"
)

const (
	problemTypeValidation    = "https://atlas.dev/problems/validation-error"
	problemTypeNotFound      = "https://atlas.dev/problems/not-found"
	problemTypeConflict      = "https://atlas.dev/problems/conflict"
	problemTypeNotConfigured = "https://atlas.dev/problems/configuration-missing"
	problemTypeExhausted     = "https://atlas.dev/problems/counter-exhausted"
	problemTypeUnavailable   = "https://atlas.dev/problems/temporarily-unavailable"
	problemTypeInternal      = "https://atlas.dev/problems/internal-error"
	assetTagsBasePath        = "/api/v1/settings/asset-tags"

	problemContentType = "application/problem+json"
	maxBodyBytes       = 1 << 16
	defaultIdemTTL     = 24 * time.Hour
	replayedHeader     = "Idempotent-Replayed"
)

type operation string

const (
	getOperation     operation = "getAssetTagSettings"
	createOperation  operation = "createAssetTagSettings"
	updateOperation  operation = "updateAssetTagSettings"
	nextOperation    operation = "generateNextAssetTag"
	previewOperation operation = "previewNextAssetTag"
	reserveOperation operation = "reserveAssetTags"
)

// ProblemDetails is the RFC 7807 body returned for every error.
type ProblemDetails struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

type assetTagSettingsResponse struct {
	ID            uuid.UUID `json:"id"`
	Prefix        string    `json:"prefix"`
	DigitCount    int       `json:"digitCount"`
	CurrentNumber int64     `json:"currentNumber"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type createAssetTagSettingsRequest struct {
	Prefix        *string `json:"prefix"`
	DigitCount    *int    `json:"digitCount"`
	CurrentNumber *int64  `json:"currentNumber"`
}

type updateAssetTagSettingsRequest struct {
	Prefix        *string `json:"prefix"`
	DigitCount    *int    `json:"digitCount"`
	CurrentNumber *int64  `json:"currentNumber"`
}

type reserveAssetTagsRequest struct {
	Count *int `json:"count"`
}

type assetTagResponse struct {
	AssetTag string `json:"assetTag"`
}

type assetTagBlockResponse struct {
	AssetTags []string `json:"assetTags"`
}

// Handler exposes the asset tag service over HTTP.
type Handler struct {
	svc            service.Service
	logger         *zap.Logger
	idempotency    idempotency.Store
	idempotencyTTL time.Duration
}

// Option customises the Handler.
type Option func(*Handler)

// WithIdempotency enables Idempotency-Key handling on tag generation.
func WithIdempotency(store idempotency.Store, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = store
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger, opts ...Option) *Handler {
	if svc == nil {
		panic("asset tags service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	h := &Handler{svc: svc, logger: logger, idempotencyTTL: defaultIdemTTL}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the asset tag routes on r. Mutating routes are wrapped with admin when it is non-nil.
func (h *Handler) Register(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Route("/settings/asset-tags", func(r chi.Router) {
		r.Get("/", h.GetAssetTagSettings)
		r.Get("/next", h.GenerateNextAssetTag)
		r.Get("/preview", h.PreviewNextAssetTag)

		r.Group(func(r chi.Router) {
			if admin != nil {
				r.Use(admin)
			}
			r.Post("/", h.CreateAssetTagSettings)
			r.Post("/reserve", h.ReserveAssetTags)
			r.Put("/{id}", h.UpdateAssetTagSettings)
		})
	})
}

func (h *Handler) audit(ctx context.Context) requesttrace.AuditInfo {
	return requesttrace.FromContextOrAnonymous(ctx)
}

func (h *Handler) GetAssetTagSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.svc.Get(ctx, h.audit(ctx))
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(settings))
}

func (h *Handler) CreateAssetTagSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body createAssetTagSettingsRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeProblem(w, r, err, createOperation, http.StatusBadRequest, "Invalid request body", err.Error(), problemTypeValidation, nil)
		return
	}

	missing := service.FieldErrors{}
	if body.Prefix == nil {
		missing["prefix"] = []string{"prefix is required"}
	}
	if body.DigitCount == nil {
		missing["digitCount"] = []string{"digitCount is required"}
	}
	if body.CurrentNumber == nil {
		missing["currentNumber"] = []string{"currentNumber is required"}
	}
	if len(missing) > 0 {
		h.writeError(w, r, &service.ValidationError{Fields: missing}, createOperation)
		return
	}

	settings, err := h.svc.Create(ctx, h.audit(ctx), service.CreateInput{
		Prefix:        *body.Prefix,
		DigitCount:    *body.DigitCount,
		CurrentNumber: *body.CurrentNumber,
	})
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", assetTagsBasePath, settings.ID))
	writeJSON(w, http.StatusCreated, toResponse(settings))
}

func (h *Handler) UpdateAssetTagSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, &service.ValidationError{Fields: service.FieldErrors{"id": []string{"id must be a valid UUID"}}}, updateOperation)
		return
	}

	var body updateAssetTagSettingsRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeProblem(w, r, err, updateOperation, http.StatusBadRequest, "Invalid request body", err.Error(), problemTypeValidation, nil)
		return
	}

	settings, err := h.svc.Update(ctx, h.audit(ctx), id, service.UpdateInput{
		Prefix:        body.Prefix,
		DigitCount:    body.DigitCount,
		CurrentNumber: body.CurrentNumber,
	})
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(settings))
}

// GenerateNextAssetTag issues one tag. With an Idempotency-Key header, retries of the same
// request receive the tag issued the first time.
func (h *Handler) GenerateNextAssetTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit := h.audit(ctx)

	var storeKey string
	if raw := r.Header.Get(idempotency.HeaderName); raw != "" && h.idempotency != nil {
		key, err := idempotency.NormalizeKey(raw)
		if err != nil {
			h.writeError(w, r, &service.ValidationError{Fields: service.FieldErrors{
				idempotency.HeaderName: []string{fmt.Sprintf("must be 1 to %d characters", idempotency.MaxKeyLength)},
			}}, nextOperation)
			return
		}
		storeKey = idempotency.ScopedKey("next:"+audit.Actor(), key)

		stored, found, err := h.idempotency.Get(ctx, storeKey)
		if err != nil {
			h.writeProblem(w, r, err, nextOperation, http.StatusServiceUnavailable, "Service unavailable", "idempotency store unavailable", problemTypeUnavailable, nil)
			return
		}
		if found {
			w.Header().Set(replayedHeader, "true")
			writeJSON(w, http.StatusOK, assetTagResponse{AssetTag: string(stored)})
			return
		}
	}

	tag, err := h.svc.Next(ctx, audit)
	if err != nil {
		h.writeError(w, r, err, nextOperation)
		return
	}

	logger := h.loggerFrom(ctx)
	if storeKey != "" {
		tag = h.rememberTag(ctx, logger, storeKey, tag)
	}

	logger.Info("asset tag issued", zap.String("asset_tag", tag), zap.String("actor", audit.Actor()))
	writeJSON(w, http.StatusOK, assetTagResponse{AssetTag: tag})
}

// rememberTag stores tag under key. When a concurrent request with the same key stored a tag
// first, that tag wins and the one just issued is left unused.
func (h *Handler) rememberTag(ctx context.Context, logger *zap.Logger, key, tag string) string {
	stored, err := h.idempotency.SetNX(ctx, key, []byte(tag), h.idempotencyTTL)
	if err != nil {
		logger.Error("remember idempotent asset tag", zap.String("asset_tag", tag), zap.Error(err))
		return tag
	}
	if stored {
		return tag
	}

	existing, found, err := h.idempotency.Get(ctx, key)
	if err != nil || !found {
		return tag
	}
	logger.Warn("concurrent request with same idempotency key; issued tag left unused", zap.String("asset_tag", tag))
	return string(existing)
}

func (h *Handler) PreviewNextAssetTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tag, err := h.svc.Preview(ctx, h.audit(ctx))
	if err != nil {
		h.writeError(w, r, err, previewOperation)
		return
	}

	writeJSON(w, http.StatusOK, assetTagResponse{AssetTag: tag})
}

func (h *Handler) ReserveAssetTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit := h.audit(ctx)

	var body reserveAssetTagsRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeProblem(w, r, err, reserveOperation, http.StatusBadRequest, "Invalid request body", err.Error(), problemTypeValidation, nil)
		return
	}
	if body.Count == nil {
		h.writeError(w, r, &service.ValidationError{Fields: service.FieldErrors{"count": []string{"count is required"}}}, reserveOperation)
		return
	}

	tags, err := h.svc.Reserve(ctx, audit, *body.Count)
	if err != nil {
		h.writeError(w, r, err, reserveOperation)
		return
	}

	h.loggerFrom(ctx).Info("asset tags reserved",
		zap.Int("count", len(tags)),
		zap.String("first", tags[0]),
		zap.String("last", tags[len(tags)-1]),
		zap.String("actor", audit.Actor()),
	)
	writeJSON(w, http.StatusOK, assetTagBlockResponse{AssetTags: tags})
}

func toResponse(settings service.Settings) assetTagSettingsResponse {
	return assetTagSettingsResponse{
		ID:            settings.ID,
		Prefix:        settings.Prefix,
		DigitCount:    settings.DigitCount,
		CurrentNumber: settings.CurrentNumber,
		IsActive:      settings.IsActive,
		CreatedAt:     settings.CreatedAt,
		UpdatedAt:     settings.UpdatedAt,
	}
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	status, title, detail, problemType, fieldErrors := h.classifyError(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(1))
	}
	h.writeProblem(w, r, err, op, status, title, detail, problemType, fieldErrors)
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, err error, op operation, status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
		zap.Error(err),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("asset tags operation failed", fields...)
	case status == http.StatusNotFound:
		logger.Info("asset tags resource not found", fields...)
	default:
		logger.Warn("asset tags request rejected", fields...)
	}

	problem := ProblemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if len(fieldErrors) > 0 {
		problem.Errors = make(map[string][]string, len(fieldErrors))
		for field, messages := range fieldErrors {
			problem.Errors[field] = append([]string(nil), messages...)
		}
	}

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest,
			"Validation failed",
			"one or more fields are invalid",
			problemTypeValidation,
			validationErr.Fields
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"asset tag settings not found",
			problemTypeNotFound,
			nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusBadRequest,
			"Settings already exist",
			"asset tag settings have already been created; update them instead",
			problemTypeConflict,
			nil
	case errors.Is(err, service.ErrCounterExhausted):
		return http.StatusConflict,
			"Asset tag counter exhausted",
			"the next number does not fit the counter; lower currentNumber or change the prefix",
			problemTypeExhausted,
			nil
	case errors.Is(err, service.ErrConfigurationMissing):
		return http.StatusPreconditionFailed,
			"Asset tags not configured",
			"create the asset tag settings before generating tags",
			problemTypeNotConfigured,
			nil
	case errors.Is(err, service.ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable,
			"Service unavailable",
			"the asset tag counter is busy; retry the request",
			problemTypeUnavailable,
			nil
	default:
		return http.StatusInternalServerError,
			"Internal server error",
			"an unexpected error occurred",
			problemTypeInternal,
			nil
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
