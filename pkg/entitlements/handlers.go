package entitlements

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/scoutline/entitlements/pkg/features"
	"github.com/scoutline/entitlements/pkg/httputil"
	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

// Handlers provides the HTTP surface of the entitlement engine
type Handlers struct {
	resolver *Resolver
	subs     *subscriptions.Service
	registry *features.Registry
	logger   *observability.Logger
}

// NewHandlers creates the entitlement HTTP handlers
func NewHandlers(resolver *Resolver, subs *subscriptions.Service, registry *features.Registry,
	logger *observability.Logger) *Handlers {
	return &Handlers{
		resolver: resolver,
		subs:     subs,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers all entitlement routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Enforcement surface.
	router.HandleFunc("/tenants/{tenantId}/entitlements/{requirement}", h.resolve).Methods("GET")
	router.HandleFunc("/tenants/{tenantId}/usage/{metric}", h.recordUsage).Methods("POST")
	router.HandleFunc("/tenants/{tenantId}/usage", h.usageSummary).Methods("GET")

	// Subscription lifecycle.
	router.HandleFunc("/tenants/{tenantId}/subscription", h.getSubscription).Methods("GET")
	router.HandleFunc("/tenants/{tenantId}/subscription/tier", h.changeTier).Methods("PUT")
	router.HandleFunc("/tenants/{tenantId}/subscription/renew", h.renew).Methods("POST")
	router.HandleFunc("/tenants/{tenantId}/subscription/cancel", h.cancel).Methods("POST")
	router.HandleFunc("/tenants/{tenantId}/subscription/reactivate", h.reactivate).Methods("POST")

	// Flag catalog administration.
	router.HandleFunc("/features", h.listFlags).Methods("GET")
	router.HandleFunc("/features/{feature}", h.getFlag).Methods("GET")
	router.HandleFunc("/features/{feature}/enabled", h.setEnabled).Methods("PUT")
	router.HandleFunc("/features/{feature}/rollout", h.updateRollout).Methods("PUT")
	router.HandleFunc("/features/{feature}/dependencies", h.addDependency).Methods("POST")
	router.HandleFunc("/features/{feature}/overrides/{tenantId}", h.setOverride).Methods("PUT")
	router.HandleFunc("/features/{feature}/overrides/{tenantId}", h.removeOverride).Methods("DELETE")
}

// resolve handles GET /tenants/{tenantId}/entitlements/{requirement}.
// Denials are part of the decision body, not HTTP errors; the endpoint answers
// the question rather than enforcing it.
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID := vars["tenantId"]
	req := ParseRequirement(vars["requirement"])

	decision, err := h.resolver.Resolve(r.Context(), tenantID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

// recordUsage handles POST /tenants/{tenantId}/usage/{metric}
func (h *Handlers) recordUsage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	metric, err := usage.ParseMetric(vars["metric"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	check, err := h.resolver.RecordUsage(r.Context(), vars["tenantId"], metric)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, check)
}

// usageSummary handles GET /tenants/{tenantId}/usage
func (h *Handlers) usageSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.resolver.GetUsageSummary(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

// getSubscription handles GET /tenants/{tenantId}/subscription
func (h *Handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.resolver.GetSubscription(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// changeTier handles PUT /tenants/{tenantId}/subscription/tier
func (h *Handlers) changeTier(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tier   tiers.Tier `json:"tier"`
		Actor  string     `json:"actor"`
		Reason string     `json:"reason"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if !tiers.IsValid(body.Tier) {
		httputil.WriteValidationError(w, "unknown tier")
		return
	}

	sub, err := h.resolver.ChangeTier(r.Context(), mux.Vars(r)["tenantId"], body.Tier, body.Actor, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// renew handles POST /tenants/{tenantId}/subscription/renew
func (h *Handlers) renew(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Renew(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// cancel handles POST /tenants/{tenantId}/subscription/cancel
func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	sub, err := h.subs.Cancel(r.Context(), mux.Vars(r)["tenantId"], body.Reason, body.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// reactivate handles POST /tenants/{tenantId}/subscription/reactivate
func (h *Handlers) reactivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	sub, err := h.subs.Reactivate(r.Context(), mux.Vars(r)["tenantId"], body.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// listFlags handles GET /features
func (h *Handlers) listFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.registry.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"features": flags,
		"count":    len(flags),
	})
}

// getFlag handles GET /features/{feature}
func (h *Handlers) getFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := h.registry.Get(r.Context(), mux.Vars(r)["feature"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, flag)
}

// setEnabled handles PUT /features/{feature}/enabled
func (h *Handlers) setEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool   `json:"enabled"`
		Actor   string `json:"actor"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	if err := h.registry.SetEnabled(r.Context(), mux.Vars(r)["feature"], body.Enabled, body.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// updateRollout handles PUT /features/{feature}/rollout
func (h *Handlers) updateRollout(w http.ResponseWriter, r *http.Request) {
	var body features.Rollout
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	if err := h.registry.UpdateRollout(r.Context(), mux.Vars(r)["feature"], body); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// addDependency handles POST /features/{feature}/dependencies
func (h *Handlers) addDependency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feature  string `json:"feature"`
		Required bool   `json:"required"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if !httputil.RequireNonEmpty(w, body.Feature, "feature") {
		return
	}

	if err := h.registry.AddDependency(r.Context(), mux.Vars(r)["feature"], body.Feature, body.Required); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// setOverride handles PUT /features/{feature}/overrides/{tenantId}
func (h *Handlers) setOverride(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled   bool       `json:"enabled"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
		Actor     string     `json:"actor"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	vars := mux.Vars(r)
	if err := h.resolver.SetOverride(r.Context(), vars["feature"], vars["tenantId"],
		body.Enabled, body.ExpiresAt, body.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// removeOverride handles DELETE /features/{feature}/overrides/{tenantId}
func (h *Handlers) removeOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.resolver.RemoveOverride(r.Context(), vars["feature"], vars["tenantId"]); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// writeError maps domain errors onto HTTP statuses
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, features.ErrFlagNotFound),
		errors.Is(err, subscriptions.ErrNotFound),
		IsUnknownRequirement(err):
		httputil.WriteNotFoundError(w, err.Error())
	case usage.IsLimitExceeded(err):
		httputil.WriteTooManyRequests(w, err.Error())
	case IsEntitlementDenied(err), IsDependencyUnmet(err):
		httputil.WritePaymentRequired(w, err.Error())
	case subscriptions.IsInvalidTransition(err), features.IsVersionConflict(err):
		httputil.WriteConflict(w, err.Error())
	case isCycleError(err):
		httputil.WriteBadRequest(w, err.Error())
	default:
		h.logger.WithError(err).Error("entitlement request failed")
		httputil.WriteInternalError(w, err)
	}
}

func isCycleError(err error) bool {
	var e *features.CycleError
	return errors.As(err, &e)
}
