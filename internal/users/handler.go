package users

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

// Handler exposes user management over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers user routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router, authorize authz.Middleware) {
	r.With(authorize.RequireAny(authz.PermUsersView)).Get("/", h.list)
	r.With(authorize.RequireAny(authz.PermUsersView)).Get("/{userID}", h.get)
	r.With(authorize.RequireAny(authz.PermUsersEdit)).Put("/{userID}/role", h.changeRole)
	r.With(authorize.RequireAny(authz.PermUsersEdit)).Put("/{userID}/active", h.setActive)
}

type listResponse struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	users, pagination, err := h.service.ListUsers(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Users: users, Pagination: pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be numeric")
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "user does not exist")
			return
		}
		h.logger.Error("get user", slog.Int64("user_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be numeric")
		return
	}
	var req changeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err = h.service.ChangeRole(r.Context(), h.actorID(r), id, authz.Role(req.Role))
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case errors.Is(err, ErrUnknownRole):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Role", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user does not exist")
	default:
		h.logger.Error("change role", slog.Int64("user_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be numeric")
		return
	}
	var req setActiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err = h.service.SetActive(r.Context(), h.actorID(r), id, *req.Active)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user does not exist")
	default:
		h.logger.Error("set active", slog.Int64("user_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) actorID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, _ := strconv.ParseInt(sess.User(), 10, 64)
	return id
}
