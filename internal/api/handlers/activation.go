// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/domain"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/services/activation"
	"github.com/keygate/keygate/internal/token"
)

// ActivationHandler exposes the activation protocol over HTTP.
type ActivationHandler struct {
	service        *activation.Service
	keyLimiter     *ratelimit.Limiter
	sessionManager *scs.SessionManager
}

func NewActivationHandler(service *activation.Service, keyLimiter *ratelimit.Limiter, sessionManager *scs.SessionManager) *ActivationHandler {
	return &ActivationHandler{
		service:        service,
		keyLimiter:     keyLimiter,
		sessionManager: sessionManager,
	}
}

type ActivateRequest struct {
	LicenseKey    string `json:"license_key" validate:"required,min=8,max=128"`
	DeviceID      string `json:"device_id" validate:"required,min=8,max=256"`
	DeviceName    string `json:"device_name,omitempty" validate:"omitempty,max=128"`
	DeviceType    string `json:"device_type,omitempty" validate:"omitempty,max=64"`
	OSName        string `json:"os_name,omitempty" validate:"omitempty,max=64"`
	OSVersion     string `json:"os_version,omitempty" validate:"omitempty,max=64"`
	AppVersion    string `json:"app_version,omitempty" validate:"omitempty,max=64"`
	HardwareModel string `json:"hardware_model,omitempty" validate:"omitempty,max=128"`
}

type ActivateResponse struct {
	ActivationToken string    `json:"activation_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	DeviceID        string    `json:"device_id"`
	LicenseID       string    `json:"license_id"`
	PackageID       string    `json:"package_id"`
}

type DeviceLimitResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	MaxDevices    int    `json:"max_devices"`
	ActiveDevices int    `json:"active_devices"`
}

// Activate binds the calling device to a license. The route is already
// behind the per-IP admission guard; a second fixed window keyed by the
// license key itself slows down distributed guessing against one key.
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if !ValidateStruct(w, &req) {
		return
	}

	// Keyed by the hash so a shared limiter store never sees raw keys.
	res, err := h.keyLimiter.Allow(r.Context(), "key:"+auth.HashKey(req.LicenseKey))
	if err != nil {
		log.Error().Err(err).Msg("Admission guard store failed")
		RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !res.Allowed {
		metrics.RateLimited("activate_key")
		RespondThrottled(w, res)
		return
	}

	result, err := h.service.Activate(r.Context(), req.LicenseKey, req.DeviceID,
		activation.DeviceMetadata{
			DeviceName:    req.DeviceName,
			DeviceType:    req.DeviceType,
			OSName:        req.OSName,
			OSVersion:     req.OSVersion,
			AppVersion:    req.AppVersion,
			HardwareModel: req.HardwareModel,
		},
		ClientIP(r),
	)
	if err != nil {
		h.respondActivateError(w, req.LicenseKey, err)
		return
	}

	RespondJSON(w, http.StatusOK, ActivateResponse{
		ActivationToken: result.Token,
		ExpiresAt:       result.ExpiresAt,
		DeviceID:        req.DeviceID,
		LicenseID:       result.LicenseID,
		PackageID:       result.PackageID,
	})
}

func (h *ActivationHandler) respondActivateError(w http.ResponseWriter, licenseKey string, err error) {
	var inactiveErr *activation.LicenseInactiveError
	var limitErr *activation.DeviceLimitError

	switch {
	case errors.Is(err, activation.ErrInvalidLicenseKey):
		RespondCodedError(w, http.StatusNotFound, "Invalid license key", "INVALID_LICENSE_KEY")
	case errors.As(err, &inactiveErr):
		RespondCodedError(w, http.StatusForbidden, "License is "+inactiveErr.Status, "LICENSE_INACTIVE")
	case errors.Is(err, activation.ErrLicenseExpired):
		RespondCodedError(w, http.StatusForbidden, "License has expired", "LICENSE_EXPIRED")
	case errors.As(err, &limitErr):
		RespondJSON(w, http.StatusForbidden, DeviceLimitResponse{
			Error:         "Device limit reached",
			Code:          "DEVICE_LIMIT",
			MaxDevices:    limitErr.MaxDevices,
			ActiveDevices: limitErr.ActiveDevices,
		})
	default:
		log.Error().Err(err).Str("licenseKey", domain.MaskKey(licenseKey)).Msg("Activation failed")
		RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

type ValidateRequest struct {
	ActivationToken string `json:"activation_token" validate:"required"`
	DeviceID        string `json:"device_id" validate:"required,min=8,max=256"`
}

type ValidateResponse struct {
	Valid       bool       `json:"valid"`
	Code        string     `json:"code,omitempty"`
	LicenseID   string     `json:"license_id,omitempty"`
	PackageID   string     `json:"package_id,omitempty"`
	DeviceID    string     `json:"device_id,omitempty"`
	OwnerUserID string     `json:"owner_user_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Validate checks an activation token. Token problems come back as a
// 200 with valid=false and a code; they are outcomes, not errors.
func (h *ActivationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if !ValidateStruct(w, &req) {
		return
	}

	claims, err := h.service.Validate(r.Context(), req.ActivationToken, req.DeviceID, ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			RespondJSON(w, http.StatusOK, ValidateResponse{Valid: false, Code: "TOKEN_EXPIRED"})
		case errors.Is(err, token.ErrTokenInvalid):
			RespondJSON(w, http.StatusOK, ValidateResponse{Valid: false, Code: "TOKEN_INVALID"})
		default:
			log.Error().Err(err).Msg("Validation failed")
			RespondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	RespondJSON(w, http.StatusOK, ValidateResponse{
		Valid:       true,
		LicenseID:   claims.LicenseID,
		PackageID:   claims.PackageID,
		DeviceID:    req.DeviceID,
		OwnerUserID: claims.OwnerUserID,
		ExpiresAt:   &claims.ExpiresAt,
	})
}

type DeactivateRequest struct {
	ActivationToken string `json:"activation_token,omitempty"`
	LicenseID       string `json:"license_id,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
}

// Deactivate releases a device slot. A device authorizes itself with its
// still-valid token; an operator session may instead name the license and
// device directly.
func (h *ActivationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req DeactivateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if req.ActivationToken != "" {
		if err := h.service.DeactivateByToken(r.Context(), req.ActivationToken); err != nil {
			switch {
			case errors.Is(err, token.ErrTokenExpired), errors.Is(err, token.ErrTokenInvalid):
				RespondError(w, http.StatusUnauthorized, "Invalid activation token")
			default:
				log.Error().Err(err).Msg("Deactivation failed")
				RespondError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		RespondJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
		return
	}

	if req.LicenseID == "" || req.DeviceID == "" {
		RespondError(w, http.StatusBadRequest, "activation_token or license_id and device_id are required")
		return
	}

	if !h.sessionManager.GetBool(r.Context(), "authenticated") {
		RespondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.service.Deactivate(r.Context(), req.LicenseID, req.DeviceID); err != nil {
		log.Error().Err(err).Str("licenseId", req.LicenseID).Msg("Deactivation failed")
		RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

// RespondThrottled writes the admission guard rejection with its retry
// hint and the standard rate limit headers.
func RespondThrottled(w http.ResponseWriter, res ratelimit.Result) {
	retryAfter := int(res.RetryAfter.Seconds() + 0.5)
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

	RespondJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               "Too many requests",
		"code":                "RATE_LIMITED",
		"retry_after_seconds": retryAfter,
	})
}
