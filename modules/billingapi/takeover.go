package billingapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/logger"
	"github.com/everkeep/everkeep/pkg/takeover"
)

type takeoverRequest struct {
	CandidatePayerID uuid.UUID `json:"candidate_payer_id"`
	TakeoverType     string    `json:"takeover_type"`
	PlanKey          string    `json:"plan_key"`
	SuccessURL       string    `json:"success_url"`
	Reason           string    `json:"reason"`
}

type takeoverResponse struct {
	TakeoverID  uuid.UUID `json:"takeover_id"`
	CheckoutURL string    `json:"checkout_url"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// handleTakeover starts a billing takeover for the target account and
// returns the hosted checkout the candidate payer must complete. The ledger
// does not change until the gateway confirms the payment.
func (a *api) handleTakeover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req takeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	init, err := a.Takeovers.Initiate(ctx, takeover.Request{
		AccountID:        accountID,
		CandidatePayerID: req.CandidatePayerID,
		Type:             ledger.TakeoverType(req.TakeoverType),
		PlanKey:          req.PlanKey,
		SuccessURL:       req.SuccessURL,
		Reason:           req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, takeover.ErrInvalidType),
			errors.Is(err, takeover.ErrSelfTakeover),
			errors.Is(err, billing.ErrPlanNotFound):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			respondError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, takeover.ErrAccountDeactivated):
			respondError(w, http.StatusConflict, err.Error())
		default:
			a.Log.ErrorContext(ctx, "takeover initiation failed",
				logger.AccountID(accountID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "takeover initiation failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, takeoverResponse{
		TakeoverID:  init.TakeoverID,
		CheckoutURL: init.Checkout.URL,
		SessionID:   init.Checkout.SessionID,
		ExpiresAt:   init.Checkout.ExpiresAt,
	})
}
