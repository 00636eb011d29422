package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/services"
)

// ProfileHandlers serves the back office customer directory.
type ProfileHandlers struct {
	access   Access
	profiles services.ProfileService
}

func NewProfileHandlers(access Access, profiles services.ProfileService) *ProfileHandlers {
	return &ProfileHandlers{access: access, profiles: profiles}
}

// Routes registers the admin-only /profiles endpoints.
func (h *ProfileHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(h.access.admin())
	r.Get("/", h.listProfiles)
	r.Get("/{profileID}", h.getProfile)
}

type profilePayload struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	OrderCount *int   `json:"orderCount,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

type profileDetailPayload struct {
	profilePayload
	Orders []orderPayload `json:"orders"`
}

func buildProfilePayload(profile services.Profile) profilePayload {
	return profilePayload{
		ID:        profile.ID,
		UserID:    profile.UserID,
		Email:     profile.Email,
		Role:      string(profile.Role),
		CreatedAt: formatTime(profile.CreatedAt),
	}
}

func (h *ProfileHandlers) listProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service unavailable", http.StatusServiceUnavailable))
		return
	}
	profiles, err := h.profiles.List(ctx, r.URL.Query().Get("role"))
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	items := make([]profilePayload, 0, len(profiles))
	for _, profile := range profiles {
		payload := buildProfilePayload(profile)
		count := profile.OrderCount
		payload.OrderCount = &count
		items = append(items, payload)
	}
	httpx.WriteData(w, http.StatusOK, items, nil)
}

func (h *ProfileHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service unavailable", http.StatusServiceUnavailable))
		return
	}
	detail, err := h.profiles.Get(ctx, urlParam(r, "profileID"))
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	payload := profileDetailPayload{
		profilePayload: buildProfilePayload(detail.Profile),
		Orders:         make([]orderPayload, 0, len(detail.Orders)),
	}
	for _, order := range detail.Orders {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	httpx.WriteData(w, http.StatusOK, payload, nil)
}

func writeProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrProfileInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProfileNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("profile_not_found", "profile not found", http.StatusNotFound))
	default:
		writeUnexpectedError(ctx, w, "profile_error", err)
	}
}
