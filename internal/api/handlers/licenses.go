// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/keygate/keygate/internal/models"
	"github.com/keygate/keygate/internal/services/activation"
	"github.com/keygate/keygate/internal/services/licensing"
)

// LicensesHandler is the session-authenticated operator surface over the
// license registry and the activation ledger.
type LicensesHandler struct {
	licensing   *licensing.Service
	activations *activation.Service
}

func NewLicensesHandler(licensingService *licensing.Service, activationService *activation.Service) *LicensesHandler {
	return &LicensesHandler{
		licensing:   licensingService,
		activations: activationService,
	}
}

func (h *LicensesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/licenses", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{licenseID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/suspend", h.Suspend)
			r.Post("/revoke", h.Revoke)
			r.Post("/reactivate", h.Reactivate)
			r.Post("/reveal", h.Reveal)
			r.Get("/activations", h.ListActivations)
			r.Delete("/activations/{deviceID}", h.DeactivateDevice)
		})
	})
}

type CreateLicenseRequest struct {
	PackageID   string     `json:"package_id" validate:"required,max=128"`
	OwnerUserID string     `json:"owner_user_id" validate:"required,max=128"`
	LicenseType string     `json:"license_type,omitempty" validate:"omitempty,max=64"`
	MaxDevices  int        `json:"max_devices" validate:"gte=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type CreateLicenseResponse struct {
	License *models.License `json:"license"`
	// LicenseKey is returned exactly once, at creation.
	LicenseKey string `json:"license_key"`
}

func (h *LicensesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateLicenseRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if !ValidateStruct(w, &req) {
		return
	}

	license, key, err := h.licensing.Create(r.Context(), licensing.CreateParams{
		PackageID:   req.PackageID,
		OwnerUserID: req.OwnerUserID,
		LicenseType: req.LicenseType,
		MaxDevices:  req.MaxDevices,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create license")
		RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	RespondJSON(w, http.StatusCreated, CreateLicenseResponse{License: license, LicenseKey: key})
}

func (h *LicensesHandler) List(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.licensing.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list licenses")
		RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	RespondJSON(w, http.StatusOK, licenses)
}

func (h *LicensesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseStringParam(w, r, "licenseID", "license ID")
	if !ok {
		return
	}

	license, err := h.licensing.Get(r.Context(), id)
	if err != nil {
		h.respondLicenseError(w, err, "Failed to get license")
		return
	}

	RespondJSON(w, http.StatusOK, license)
}

func (h *LicensesHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.licensing.Suspend)
}

func (h *LicensesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.licensing.Revoke)
}

func (h *LicensesHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.licensing.Reactivate)
}

func (h *LicensesHandler) setStatus(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id, ok := ParseStringParam(w, r, "licenseID", "license ID")
	if !ok {
		return
	}

	if err := fn(r.Context(), id); err != nil {
		h.respondLicenseError(w, err, "Failed to change license status")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type RevealKeyResponse struct {
	LicenseKey string `json:"license_key"`
	// Clients are expected to hide the key again after a short timeout;
	// that is display hygiene, not a server guarantee.
	DisplaySeconds int `json:"display_seconds"`
}

func (h *LicensesHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseStringParam(w, r, "licenseID", "license ID")
	if !ok {
		return
	}

	key, err := h.licensing.RevealKey(r.Context(), id)
	if err != nil {
		h.respondLicenseError(w, err, "Failed to reveal license key")
		return
	}

	RespondJSON(w, http.StatusOK, RevealKeyResponse{LicenseKey: key, DisplaySeconds: 30})
}

func (h *LicensesHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseStringParam(w, r, "licenseID", "license ID")
	if !ok {
		return
	}

	activations, err := h.licensing.ListActivations(r.Context(), id)
	if err != nil {
		h.respondLicenseError(w, err, "Failed to list activations")
		return
	}

	RespondJSON(w, http.StatusOK, activations)
}

// DeactivateDevice releases a slot by the device hash shown in the
// activation listing; operators never see raw device IDs.
func (h *LicensesHandler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseStringParam(w, r, "licenseID", "license ID")
	if !ok {
		return
	}
	deviceHash, ok := ParseStringParam(w, r, "deviceID", "device hash")
	if !ok {
		return
	}

	if err := h.activations.DeactivateByHash(r.Context(), id, deviceHash); err != nil {
		log.Error().Err(err).Str("licenseId", id).Msg("Failed to deactivate device")
		RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

func (h *LicensesHandler) respondLicenseError(w http.ResponseWriter, err error, logMsg string) {
	if errors.Is(err, models.ErrLicenseNotFound) {
		RespondError(w, http.StatusNotFound, "License not found")
		return
	}

	log.Error().Err(err).Msg(logMsg)
	RespondError(w, http.StatusInternalServerError, "internal error")
}
