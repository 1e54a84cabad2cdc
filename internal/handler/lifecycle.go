package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/security/audit"
	"github.com/aryan0dhankhar/storelink/internal/security/session"
	"github.com/aryan0dhankhar/storelink/internal/security/signedpayload"
	"github.com/aryan0dhankhar/storelink/internal/service"
)

// Lifecycle is the set of app lifecycle transitions the handlers drive
type Lifecycle interface {
	Install(ctx context.Context, auth domain.AuthResult) (*service.Identity, error)
	Load(ctx context.Context, storeHash, email string) (*service.Identity, error)
	Uninstall(ctx context.Context, storeHash, email string) error
	AddUser(ctx context.Context, storeHash, email, code, storeContext, scope string) (*service.Identity, error)
	RemoveUser(ctx context.Context, storeHash, email string) error
	Resolve(ctx context.Context, storeID, userID string) (*service.Identity, error)
}

// LifecycleHandler serves the platform callbacks: install, load, uninstall,
// remove-user and the events dispatcher
type LifecycleHandler struct {
	lifecycle Lifecycle
	exchanger domain.TokenExchanger
	sessions  *session.Manager
	secret    []byte
	audit     *audit.Logger
	logger    *slog.Logger
}

// NewLifecycleHandler creates a lifecycle handler. clientSecret verifies
// signed payloads.
func NewLifecycleHandler(
	lifecycle Lifecycle,
	exchanger domain.TokenExchanger,
	sessions *session.Manager,
	clientSecret string,
	logger *slog.Logger,
) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleHandler{
		lifecycle: lifecycle,
		exchanger: exchanger,
		sessions:  sessions,
		secret:    []byte(clientSecret),
		audit:     audit.NewLogger(logger),
		logger:    logger,
	}
}

// Install handles GET /auth/{provider}/callback
func (h *LifecycleHandler) Install(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	code, scope, storeContext := q.Get("code"), q.Get("scope"), q.Get("context")

	// echoed on failure; Redact masks the code and context
	extra := map[string]any{
		"provider": r.PathValue("provider"),
		"code":     code,
		"scope":    scope,
		"context":  storeContext,
	}

	grant, err := h.exchanger.Exchange(ctx, code, storeContext, scope)
	if err != nil {
		var authErr *domain.AuthorizationError
		if errors.As(err, &authErr) {
			extra["upstream_status"] = authErr.StatusCode
		}
		h.audit.LogFailure(ctx, service.EventInstall, err.Error())
		renderError(w, h.logger, http.StatusUnauthorized, service.EventInstall, "Authorization failed!", audit.RedactJSON(extra))
		return
	}

	if grant.Context == "" {
		grant.Context = storeContext
	}
	if grant.Scope == "" {
		grant.Scope = scope
	}
	id, err := h.lifecycle.Install(ctx, domain.AuthResult{
		Email:   grant.User.Email,
		Context: grant.Context,
		Scopes:  grant.Scope,
		Token:   grant.AccessToken,
	})
	if err != nil {
		extra["email"] = grant.User.Email
		h.fail(w, service.EventInstall, err, audit.RedactJSON(extra))
		return
	}
	h.signIn(w, r, service.EventInstall, id)
}

// Load handles GET /load
func (h *LifecycleHandler) Load(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.verify(w, r, service.EventLoad)
	if !ok {
		return
	}
	h.load(w, r, payload)
}

// Uninstall handles GET /uninstall
func (h *LifecycleHandler) Uninstall(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.verify(w, r, service.EventUninstall)
	if !ok {
		return
	}
	h.uninstall(w, r, payload)
}

// RemoveUser handles GET /remove-user
func (h *LifecycleHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.verify(w, r, service.EventRemoveUser)
	if !ok {
		return
	}
	h.removeUser(w, r, payload)
}

// Events handles GET /events, dispatching on the event named in the payload
// or, failing that, the event query parameter
func (h *LifecycleHandler) Events(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.verify(w, r, "events")
	if !ok {
		return
	}
	event := payload.Event
	if event == "" {
		event = r.URL.Query().Get("event")
	}

	switch event {
	case service.EventLoad:
		h.load(w, r, payload)
	case service.EventUninstall:
		h.uninstall(w, r, payload)
	case service.EventRemoveUser:
		h.removeUser(w, r, payload)
	case service.EventAddUser:
		id, err := h.lifecycle.AddUser(r.Context(), storeHashOf(payload), payload.User.Email,
			payload.OAuthCode, payload.Context, payload.Scope)
		if err != nil {
			h.fail(w, service.EventAddUser, err, "")
			return
		}
		h.signIn(w, r, service.EventAddUser, id)
	default:
		h.logger.Warn("unknown lifecycle event", slog.String("event", event))
		renderError(w, h.logger, http.StatusBadRequest, "events", "Unknown event!", "")
	}
}

func (h *LifecycleHandler) load(w http.ResponseWriter, r *http.Request, payload *signedpayload.Payload) {
	id, err := h.lifecycle.Load(r.Context(), storeHashOf(payload), payload.User.Email)
	if err != nil {
		h.fail(w, service.EventLoad, err, "")
		return
	}
	h.signIn(w, r, service.EventLoad, id)
}

func (h *LifecycleHandler) uninstall(w http.ResponseWriter, r *http.Request, payload *signedpayload.Payload) {
	if err := h.lifecycle.Uninstall(r.Context(), storeHashOf(payload), payload.User.Email); err != nil {
		h.fail(w, service.EventUninstall, err, "")
		return
	}
	h.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) removeUser(w http.ResponseWriter, r *http.Request, payload *signedpayload.Payload) {
	if err := h.lifecycle.RemoveUser(r.Context(), storeHashOf(payload), payload.User.Email); err != nil {
		h.fail(w, service.EventRemoveUser, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) verify(w http.ResponseWriter, r *http.Request, event string) (*signedpayload.Payload, bool) {
	payload, ok := signedpayload.Parse(r.URL.Query().Get("signed_payload"), h.secret)
	if !ok {
		h.logger.Warn("rejected signed payload", slog.String("event", event))
		h.audit.LogFailure(r.Context(), event, domain.ErrSignatureInvalid.Error())
		renderError(w, h.logger, http.StatusUnauthorized, event, "Invalid payload signature!", "")
		return nil, false
	}
	return payload, true
}

func (h *LifecycleHandler) signIn(w http.ResponseWriter, r *http.Request, event string, id *service.Identity) {
	if err := h.sessions.Set(w, session.Identity{StoreID: id.Store.ID, UserID: id.User.ID}); err != nil {
		h.fail(w, event, err, "")
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *LifecycleHandler) fail(w http.ResponseWriter, event string, err error, diagnostics string) {
	status, message := classify(err)
	h.logger.Warn("lifecycle request failed",
		slog.String("event", event),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	renderError(w, h.logger, status, event, message, diagnostics)
}

// classify maps a lifecycle error to a status and a message safe to show.
// Error text is never rendered since it may name store hashes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Store not found!"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "Unauthorized!"
	case errors.Is(err, domain.ErrAuthorizationFailed):
		return http.StatusUnauthorized, "Authorization failed!"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusBadRequest, "Invalid credentials!"
	default:
		return http.StatusInternalServerError, "Something went wrong!"
	}
}

func storeHashOf(p *signedpayload.Payload) string {
	if p.StoreHash != "" {
		return p.StoreHash
	}
	hash, _ := service.StoreHashFromContext(p.Context)
	return hash
}
