package properties

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/innledger/innledger/internal/authz"
	"github.com/innledger/innledger/internal/platform/httpx"
	"github.com/innledger/innledger/internal/shared"
)

// Handler exposes property management over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers property routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router, authorize authz.Middleware) {
	r.Get("/", h.list)
	r.Get("/{propertyID}", h.get)
	r.With(authorize.RequireAny(authz.PermPropertySettings)).Post("/", h.create)
	r.With(authorize.RequireAny(authz.PermPropertyDelete)).Delete("/{propertyID}", h.remove)
	r.With(authorize.RequireAny(authz.PermAccessManage)).Post("/{propertyID}/access", h.grantAccess)
	r.With(authorize.RequireAny(authz.PermAccessManage)).Delete("/{propertyID}/access/{userID}", h.revokeAccess)
	r.With(authorize.RequireAny(authz.PermPropertyTransfer)).Post("/{propertyID}/transfer", h.transfer)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	props, err := h.service.ListProperties(r.Context())
	if err != nil {
		h.logger.Error("list properties", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"properties": props})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	prop, err := h.service.GetProperty(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "property does not exist")
			return
		}
		h.logger.Error("get property", slog.Int64("property_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, prop)
}

type createRequest struct {
	Name      string `json:"name" validate:"required,min=2"`
	ParentID  *int64 `json:"parent_id"`
	OwnerID   *int64 `json:"owner_id"`
	ManagerID *int64 `json:"manager_id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	created, err := h.service.CreateProperty(r.Context(), h.actorID(r), Property{
		Name:      req.Name,
		ParentID:  req.ParentID,
		OwnerID:   req.OwnerID,
		ManagerID: req.ManagerID,
	})
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusCreated, created)
	case errors.Is(err, ErrDuplicateName):
		httpx.Problem(w, http.StatusConflict, "Duplicate Property", "a property with that name already exists")
	default:
		h.logger.Error("create property", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	err = h.service.DeleteProperty(r.Context(), h.actorID(r), id)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "property does not exist")
	default:
		h.logger.Error("delete property", slog.Int64("property_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type grantRequest struct {
	UserID    int64      `json:"user_id" validate:"required"`
	Level     string     `json:"level" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) grantAccess(w http.ResponseWriter, r *http.Request) {
	id, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err = h.service.GrantAccess(r.Context(), h.actorID(r), Access{
		UserID:     req.UserID,
		PropertyID: id,
		Level:      authz.AccessLevel(req.Level),
		ExpiresAt:  req.ExpiresAt,
	})
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "granted"})
	case errors.Is(err, ErrUnknownLevel):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Level", err.Error())
	default:
		h.logger.Error("grant access", slog.Int64("property_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) revokeAccess(w http.ResponseWriter, r *http.Request) {
	id, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be numeric")
		return
	}
	err = h.service.RevokeAccess(r.Context(), h.actorID(r), userID, id)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no access record for that user")
	default:
		h.logger.Error("revoke access", slog.Int64("property_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type transferRequest struct {
	NewOwnerID int64 `json:"new_owner_id" validate:"required"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	id, err := propertyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err = h.service.TransferOwnership(r.Context(), h.actorID(r), id, req.NewOwnerID)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "transferred"})
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "property does not exist")
	default:
		h.logger.Error("transfer ownership", slog.Int64("property_id", id), slog.Any("error", err))
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
