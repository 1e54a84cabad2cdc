package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/infrastructure/logger"
)

// CustomerTokenVerifier extracts the customer id from a storefront JWT
// presented to the given store
type CustomerTokenVerifier interface {
	VerifyCustomerTokenForStore(token, storeHash string) (string, error)
}

// StoreFinder looks up an installed store by hash
type StoreFinder interface {
	GetStoreByHash(ctx context.Context, storeHash string) (*domain.Store, error)
}

// PurchaseHistory returns what a customer bought from a store
type PurchaseHistory interface {
	RecentlyPurchased(ctx context.Context, store *domain.Store, customerID string) ([]domain.Product, error)
}

// StorefrontHandler serves HTML fragments embedded into storefront pages.
// Every failure yields an empty 200 so the storefront degrades silently.
type StorefrontHandler struct {
	tokens    CustomerTokenVerifier
	stores    StoreFinder
	purchases PurchaseHistory
	logger    *slog.Logger
}

// NewStorefrontHandler creates a storefront handler
func NewStorefrontHandler(tokens CustomerTokenVerifier, stores StoreFinder, purchases PurchaseHistory, logger *slog.Logger) *StorefrontHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorefrontHandler{tokens: tokens, stores: stores, purchases: purchases, logger: logger}
}

// RecentlyPurchased handles
// GET /storefront/{store_hash}/customers/{jwt}/recently_purchased.html
func (h *StorefrontHandler) RecentlyPurchased(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.With(
		slog.String("event", "storefront"),
		slog.String("request_id", logger.RequestID(ctx)),
	)

	storeHash := r.PathValue("store_hash")
	customerID, err := h.tokens.VerifyCustomerTokenForStore(r.PathValue("jwt"), storeHash)
	if err != nil {
		log.Info("rejected customer token", slog.String("error", err.Error()))
		Empty(w, r)
		return
	}

	store, err := h.stores.GetStoreByHash(ctx, storeHash)
	if err != nil {
		log.Info("storefront request for unknown store")
		Empty(w, r)
		return
	}

	products, err := h.purchases.RecentlyPurchased(ctx, store, customerID)
	if err != nil {
		log.Warn("failed to load purchase history",
			slog.String("store_id", store.ID),
			slog.String("error", err.Error()),
		)
		Empty(w, r)
		return
	}

	render(w, log, http.StatusOK, "recently_purchased.html", products)
}

// Empty answers with an empty HTML 200
func Empty(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}
