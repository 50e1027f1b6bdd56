package authz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/innledger/innledger/internal/platform/httpx"
)

// PolicyAdmin is the slice of the repository the handler needs for
// policy management.
type PolicyAdmin interface {
	ListPolicies(ctx context.Context) ([]CompliancePolicy, error)
	CreatePolicy(ctx context.Context, p CompliancePolicy) (CompliancePolicy, error)
}

// Handler exposes the engine over JSON endpoints: permission
// inspection with provenance, action checks, compliance dashboard and
// policy management.
type Handler struct {
	logger       *slog.Logger
	engine       *Engine
	policyEngine *PolicyEngine
	policies     PolicyAdmin
	validator    *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, policyEngine *PolicyEngine, policies PolicyAdmin) *Handler {
	return &Handler{
		logger:       logger,
		engine:       engine,
		policyEngine: policyEngine,
		policies:     policies,
		validator:    validator.New(),
	}
}

// MountRoutes registers authorization routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users/{userID}/permissions", h.getPermissions)
	r.Post("/check", h.checkAction)
	r.Get("/compliance/dashboard", h.getDashboard)
	r.Post("/compliance/scan", h.runScan)
	r.Get("/policies", h.listPolicies)
	r.Post("/policies", h.createPolicy)
}

func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be numeric")
		return
	}
	var propertyID *int64
	if raw := r.URL.Query().Get("property"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Property", "property id must be numeric")
			return
		}
		propertyID = &id
	}
	opts := ComputeOptions{SkipCache: r.URL.Query().Get("fresh") == "1"}

	computed, err := h.engine.Compute(r.Context(), userID, propertyID, opts)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserInactive) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("compute permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, computed)
}

type checkRequest struct {
	UserID   int64          `json:"user_id" validate:"required"`
	Action   string         `json:"action" validate:"required"`
	Resource string         `json:"resource" validate:"required"`
	Context  map[string]any `json:"context"`
}

func (h *Handler) checkAction(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision := h.policyEngine.EvaluateAction(r.Context(), req.UserID, req.Action, req.Resource, req.Context)
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.policyEngine.ComplianceDashboard(r.Context())
	if err != nil {
		h.logger.Error("compliance dashboard", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}

func (h *Handler) runScan(w http.ResponseWriter, r *http.Request) {
	report, err := h.policyEngine.PerformComplianceScan(r.Context())
	if err != nil {
		h.logger.Error("compliance scan", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.ListPolicies(r.Context())
	if err != nil {
		h.logger.Error("list policies", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, policies)
}

type createPolicyRequest struct {
	Name        string       `json:"name" validate:"required"`
	Type        string       `json:"type" validate:"required"`
	Status      PolicyStatus `json:"status" validate:"required,oneof=active draft disabled"`
	Rules       []PolicyRule `json:"rules" validate:"required,min=1"`
	Enforcement Enforcement  `json:"enforcement" validate:"required,oneof=advisory blocking corrective"`
	Priority    Priority     `json:"priority" validate:"required,oneof=low medium high critical"`
	OnError     ErrorMode    `json:"on_error" validate:"omitempty,oneof=open closed"`
}

func (h *Handler) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	policy, err := h.policies.CreatePolicy(r.Context(), CompliancePolicy{
		Name:        req.Name,
		Type:        req.Type,
		Status:      req.Status,
		Rules:       req.Rules,
		Enforcement: req.Enforcement,
		Priority:    req.Priority,
		OnError:     req.OnError,
	})
	if err != nil {
		h.logger.Error("create policy", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, policy)
}
