package fnb

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/innledger/innledger/internal/authz"
	"github.com/innledger/innledger/internal/platform/httpx"
	"github.com/innledger/innledger/internal/shared"
)

// Handler exposes F&B cost tracking over JSON. Routes are mounted under
// /properties/{propertyID}/fnb so every guard is property scoped.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers F&B routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router, authorize authz.Middleware) {
	r.With(authorize.RequireForProperty(authz.PermFnbView)).Get("/entries", h.listEntries)
	r.With(authorize.RequireForProperty(authz.PermFnbEntry)).Post("/entries", h.recordEntry)
	r.With(authorize.RequireForProperty(authz.PermFnbEdit)).Put("/entries/{entryID}", h.editEntry)
	r.With(authorize.RequireForProperty(authz.PermFnbApprove)).Post("/entries/{entryID}/approve", h.approveEntry)
	r.With(authorize.RequireForProperty(authz.PermSummaryView)).Get("/summary", h.summary)
	r.With(authorize.RequireForProperty(authz.PermSummaryRecalculate)).Post("/summary/recalculate", h.recalculate)
}

type entryRequest struct {
	Day         string `json:"day" validate:"required"`
	Category    string `json:"category" validate:"required,min=2"`
	Description string `json:"description"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
}

func (h *Handler) recordEntry(w http.ResponseWriter, r *http.Request) {
	propertyID, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	created, err := h.service.RecordEntry(r.Context(), r.Header.Get("Idempotency-Key"), CostEntry{
		PropertyID:  propertyID,
		Day:         req.Day,
		Category:    req.Category,
		Description: req.Description,
		AmountMinor: req.AmountMinor,
		EnteredBy:   h.actorID(r),
	})
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusCreated, created)
	case errors.Is(err, ErrInvalidDay):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Day", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this entry was already recorded")
	default:
		h.logger.Error("record entry", slog.Int64("property_id", propertyID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	propertyID, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	day := r.URL.Query().Get("day")
	entries, err := h.service.ListEntries(r.Context(), propertyID, day)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
	case errors.Is(err, ErrInvalidDay):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Day", err.Error())
	default:
		h.logger.Error("list entries", slog.Int64("property_id", propertyID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type editRequest struct {
	Category    string `json:"category" validate:"required,min=2"`
	Description string `json:"description"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
}

func (h *Handler) editEntry(w http.ResponseWriter, r *http.Request) {
	propertyID, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Entry", "entry id must be numeric")
		return
	}
	var req editRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err = h.service.EditEntry(r.Context(), CostEntry{
		ID:          entryID,
		PropertyID:  propertyID,
		Category:    req.Category,
		Description: req.Description,
		AmountMinor: req.AmountMinor,
	})
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no pending entry with that id")
	default:
		h.logger.Error("edit entry", slog.Int64("entry_id", entryID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) approveEntry(w http.ResponseWriter, r *http.Request) {
	propertyID, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Entry", "entry id must be numeric")
		return
	}
	err = h.service.ApproveEntry(r.Context(), propertyID, entryID, h.actorID(r))
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "approved"})
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no pending entry with that id")
	default:
		h.logger.Error("approve entry", slog.Int64("entry_id", entryID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	propertyID, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	day := r.URL.Query().Get("day")
	summary, err := h.service.GetSummary(r.Context(), propertyID, day)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, summary)
	case errors.Is(err, ErrInvalidDay):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Day", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no summary for that day yet")
	default:
		h.logger.Error("get summary", slog.Int64("property_id", propertyID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type recalcRequest struct {
	Day string `json:"day" validate:"required"`
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	propertyID, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	var req recalcRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err = h.service.RequestRecalculation(r.Context(), propertyID, req.Day)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, ErrInvalidDay):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Day", err.Error())
	default:
		h.logger.Error("request recalculation", slog.Int64("property_id", propertyID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func propertyID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "propertyID"), 10, 64)
}

func (h *Handler) actorID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, _ := strconv.ParseInt(sess.User(), 10, 64)
	return id
}
