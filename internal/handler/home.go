package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/security/session"
)

// HomeHandler serves the signed-in app page inside the control panel
type HomeHandler struct {
	lifecycle   Lifecycle
	apis        domain.PlatformAPIFactory
	sessions    *session.Manager
	apiEndpoint string
	clientID    string
	logger      *slog.Logger
}

// NewHomeHandler creates a home handler
func NewHomeHandler(
	lifecycle Lifecycle,
	apis domain.PlatformAPIFactory,
	sessions *session.Manager,
	apiEndpoint, clientID string,
	logger *slog.Logger,
) *HomeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HomeHandler{
		lifecycle:   lifecycle,
		apis:        apis,
		sessions:    sessions,
		apiEndpoint: apiEndpoint,
		clientID:    clientID,
		logger:      logger,
	}
}

type homeView struct {
	Email           string
	IsAdmin         bool
	APIEndpoint     string
	ClientID        string
	StoreAPIWorking bool
	Products        []domain.Product
}

// Home handles GET /
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, ok := h.sessions.Get(r)
	if !ok {
		renderError(w, h.logger, http.StatusUnauthorized, "home", "Unauthorized!", "")
		return
	}
	id, err := h.lifecycle.Resolve(ctx, sid.StoreID, sid.UserID)
	if err != nil {
		h.logger.Info("stale session", slog.String("error", err.Error()))
		h.sessions.Clear(w)
		renderError(w, h.logger, http.StatusUnauthorized, "home", "Unauthorized!", "")
		return
	}

	api := h.apis.ForStore(id.Store)
	products, err := api.Products(ctx)
	if err != nil {
		h.logger.Warn("failed to list products",
			slog.String("store_id", id.Store.ID),
			slog.String("error", err.Error()),
		)
	}

	render(w, h.logger, http.StatusOK, "home.html", homeView{
		Email:           id.User.Email,
		IsAdmin:         id.Store.IsAdmin(id.User.ID),
		APIEndpoint:     h.apiEndpoint,
		ClientID:        h.clientID,
		StoreAPIWorking: storeAPIWorking(ctx, api),
		Products:        products,
	})
}

// Logout handles GET /logout
func (h *HomeHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// storeAPIWorking reports whether the platform answers the time endpoint
func storeAPIWorking(ctx context.Context, api domain.PlatformAPI) bool {
	t, err := api.Time(ctx)
	if err != nil {
		return false
	}
	_, ok := t["time"]
	return ok
}
