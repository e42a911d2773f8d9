package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/bullscan/internal/auth"
	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/vip"
	"github.com/wonny/bullscan/pkg/logger"
)

// VIPHandler serves upgrade applications and the admin review desk
type VIPHandler struct {
	vip    *vip.Service
	auth   *auth.Service
	logger *logger.Logger
}

// NewVIPHandler creates a new vip handler
func NewVIPHandler(vipSvc *vip.Service, authSvc *auth.Service, log *logger.Logger) *VIPHandler {
	return &VIPHandler{vip: vipSvc, auth: authSvc, logger: log}
}

// Apply submits an upgrade application for the caller
// POST /api/vip/apply
func (h *VIPHandler) Apply(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	var a vip.Application
	if err := decodeJSON(w, r, &a); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.vip.Apply(r.Context(), username, a)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "application": created})
}

// List returns applications, pending only unless ?all=true
// GET /api/admin/vip
func (h *VIPHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		apps []vip.Application
		err  error
	)
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		apps, err = h.vip.All(r.Context())
	} else {
		apps, err = h.vip.Pending(r.Context())
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"count": len(apps), "applications": apps})
}

// Approve grants the premium tier
// POST /api/admin/vip/{id}/approve
func (h *VIPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.vip.Approve)
}

// Reject closes an application without upgrading
// POST /api/admin/vip/{id}/reject
func (h *VIPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.vip.Reject)
}

type reviewFunc func(ctx context.Context, id int64, reviewer string) (*vip.Application, error)

func (h *VIPHandler) review(w http.ResponseWriter, r *http.Request, fn reviewFunc) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	reviewer, _ := caller(r)
	app, err := fn(r.Context(), id, reviewer)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"application": app})
}

// CreateInvite issues a registration invite code
// POST /api/admin/invite
func (h *VIPHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxUses int `json:"max_uses"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	by, _ := caller(r)
	inv, err := h.auth.CreateInvite(r.Context(), by, req.MaxUses)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create invite")
		respondError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "invite": inv})
}

// Invites lists issued invite codes
// GET /api/admin/invite
func (h *VIPHandler) Invites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.auth.Invites(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list invites")
		respondError(w, http.StatusInternalServerError, "failed to list invites")
		return
	}
	respondOK(w, map[string]interface{}{"count": len(invites), "invites": invites})
}

// SetTier changes a user's tier directly
// POST /api/admin/users/{username}/tier
func (h *VIPHandler) SetTier(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	var req struct {
		Tier string `json:"tier"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.auth.SetTier(r.Context(), username, contracts.Tier(req.Tier)); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, auth.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Failed to set tier")
			respondError(w, http.StatusInternalServerError, "failed to set tier")
		}
		return
	}
	respondOK(w, map[string]interface{}{"username": username, "tier": req.Tier})
}

func (h *VIPHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vip.ErrInvalidApplication):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vip.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, vip.ErrAlreadyReviewed), errors.Is(err, vip.ErrPendingExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.WithError(err).Error("VIP request failed")
		respondError(w, http.StatusInternalServerError, "vip service unavailable")
	}
}
