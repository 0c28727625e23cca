package billingapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/logger"
)

type balanceResponse struct {
	ProviderID   uuid.UUID `json:"provider_id"`
	Currency     string    `json:"currency"`
	BalanceCents int64     `json:"balance_cents"`
	Source       string    `json:"source"` // "gateway" or "ledger"
}

// handleProviderBalance reports a provider's earned commission. The gateway
// is asked first; gateways without connected-account balances fall back to
// the local commission ledger.
func (a *api) handleProviderBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "USD"
	}

	acct, err := a.Store.GetAccount(ctx, providerID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "provider not found")
			return
		}
		a.Log.ErrorContext(ctx, "balance lookup failed", logger.AccountID(providerID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if acct.Kind != ledger.KindProvider {
		respondError(w, http.StatusNotFound, "provider not found")
		return
	}

	if acct.ConnectedAccountID != "" {
		amount, err := a.Gateway.RetrieveBalance(ctx, acct.ConnectedAccountID)
		if err == nil {
			respondJSON(w, http.StatusOK, balanceResponse{
				ProviderID:   providerID,
				Currency:     amount.Currency,
				BalanceCents: amount.Cents,
				Source:       "gateway",
			})
			return
		}
		if !errors.Is(err, billing.ErrUnsupported) {
			a.Log.ErrorContext(ctx, "gateway balance lookup failed",
				logger.AccountID(providerID), logger.Error(err))
			respondError(w, http.StatusBadGateway, "gateway unavailable")
			return
		}
	}

	total, err := a.Store.SumProviderCommission(ctx, providerID, currency)
	if err != nil {
		a.Log.ErrorContext(ctx, "commission aggregation failed",
			logger.AccountID(providerID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, balanceResponse{
		ProviderID:   providerID,
		Currency:     currency,
		BalanceCents: total,
		Source:       "ledger",
	})
}
