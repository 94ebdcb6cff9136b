package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fraudgate/internal/audit"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/notify"
	"github.com/opensource-finance/fraudgate/internal/rules"
	"github.com/opensource-finance/fraudgate/internal/screening"
)

// Rule defaults applied when a submission omits them.
const (
	DefaultRulePriority = 100
	maxBodyBytes        = 1 << 20
)

// Handler holds dependencies for API handlers.
type Handler struct {
	rules     *rules.Store
	audit     *audit.Recorder
	hub       *notify.Hub
	screening *screening.Service

	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	return &Handler{
		rules:     deps.Rules,
		audit:     deps.Audit,
		hub:       deps.Hub,
		screening: deps.Screening,
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		version:   version,
	}
}

// RuleRequest is the body of POST /api/rules and PUT /api/rules/{id}.
// Priority and Enabled default to 100 and true when omitted. ActionConfig
// may be a JSON object or a JSON string holding one.
type RuleRequest struct {
	ID           *int64              `json:"id,omitempty"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Enabled      *bool               `json:"enabled"`
	Priority     *int                `json:"priority"`
	FieldPath    string              `json:"fieldPath"`
	Operator     domain.RuleOperator `json:"operator"`
	Value        string              `json:"value"`
	ActionType   domain.RuleAction   `json:"actionType"`
	ActionConfig json.RawMessage     `json:"actionConfig"`
}

// ToRule applies defaults and converts the request to a rule.
func (req *RuleRequest) ToRule() (*domain.FraudRule, error) {
	cfg, err := actionConfigText(req.ActionConfig)
	if err != nil {
		verr := domain.NewValidationError()
		verr.Add("actionConfig", err.Error())
		return nil, verr
	}

	rule := &domain.FraudRule{
		Name:         req.Name,
		Description:  req.Description,
		Enabled:      true,
		Priority:     DefaultRulePriority,
		FieldPath:    req.FieldPath,
		Operator:     req.Operator,
		Value:        req.Value,
		ActionType:   req.ActionType,
		ActionConfig: cfg,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	return rule, nil
}

func actionConfigText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("must be a JSON object or string")
		}
		return s, nil
	}
	if raw[0] != '{' {
		return "", fmt.Errorf("must be a JSON object or string")
	}
	return string(raw), nil
}

// ListRules handles GET /api/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.rules.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.FraudRule{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetRule handles GET /api/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /api/rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rule, err := req.ToRule()
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := h.rules.Create(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule created", "rule_id", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRule handles PUT /api/rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID != nil && *req.ID != id {
		verr := domain.NewValidationError()
		verr.Add("id", "does not match the path")
		writeError(w, verr)
		return
	}
	rule, err := req.ToRule()
	if err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.rules.Update(r.Context(), id, rule)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule updated", "rule_id", id)
	writeJSON(w, http.StatusOK, updated)
}

// ToggleRule handles PATCH /api/rules/{id}/toggle.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rule, err := h.rules.Toggle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule toggled", "rule_id", id, "enabled", rule.Enabled)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.rules.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule deleted", "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListOperators handles GET /api/rules/operators.
func (h *Handler) ListOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.OperatorOptions())
}

// ListActions handles GET /api/rules/actions.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.ActionOptions())
}

// ReloadRules rebuilds the enabled-rule snapshot from the database.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	snap := h.rules.Snapshot()
	slog.Info("rules reloaded from database", "version", snap.Version, "enabled_rules", snap.Len())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "rules reloaded successfully",
		"version":      snap.Version,
		"enabledRules": snap.Len(),
	})
}

// ListAudit handles GET /api/audit?page=&size=.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := queryInt(r, "size", audit.DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.audit.List(r.Context(), page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AuditStats handles GET /api/audit/stats?window=.
func (h *Handler) AuditStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: window %q is not a duration", domain.ErrInvalidInput, raw))
			return
		}
		window = d
	}

	stats, err := h.audit.Stats(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PublishNotification handles POST /api/notifications.
func (h *Handler) PublishNotification(w http.ResponseWriter, r *http.Request) {
	var req domain.NotificationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n, err := h.hub.Publish(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// RecentNotifications handles GET /api/notifications.
func (h *Handler) RecentNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Recent())
}

// ScreenApplication handles POST /api/applications. The whole body is the
// application record.
func (h *Handler) ScreenApplication(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	app, err := domain.ParseApplication(body)
	if err != nil {
		writeError(w, err)
		return
	}

	result := h.screening.Screen(r.Context(), app)
	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	status := "healthy"

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	resp := map[string]interface{}{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	}
	if h.rules != nil {
		resp["enabledRules"] = h.rules.Snapshot().Len()
	}
	if h.hub != nil {
		resp["subscribers"] = h.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidInput, name)
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
