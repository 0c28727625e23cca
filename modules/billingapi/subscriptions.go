package billingapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/logger"
	"github.com/everkeep/everkeep/pkg/subscriptions"
)

type subscriptionResponse struct {
	SubscriptionID    uuid.UUID `json:"subscription_id"`
	Status            string    `json:"status"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}

// handleCancelSubscription schedules cancellation at period end; entitlement
// keeps running until the gateway reports the deletion.
func (a *api) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	a.handleSubscriptionCommand(w, r, a.Subscriptions.Cancel)
}

// handleResumeSubscription withdraws a pending cancellation.
func (a *api) handleResumeSubscription(w http.ResponseWriter, r *http.Request) {
	a.handleSubscriptionCommand(w, r, a.Subscriptions.Resume)
}

func (a *api) handleSubscriptionCommand(w http.ResponseWriter, r *http.Request,
	run func(context.Context, uuid.UUID) (*ledger.Subscription, error),
) {
	ctx := r.Context()

	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := run(ctx, subscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrSubscriptionNotFound):
			respondError(w, http.StatusNotFound, "subscription not found")
		case errors.Is(err, subscriptions.ErrCancelNotAllowed),
			errors.Is(err, subscriptions.ErrResumeNotAllowed):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ledger.ErrConflict):
			respondError(w, http.StatusConflict, "subscription changed concurrently, retry")
		case errors.Is(err, billing.ErrGatewayUnavailable):
			respondError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			a.Log.ErrorContext(ctx, "subscription command failed",
				logger.SubscriptionID(subscriptionID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "subscription command failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, subscriptionResponse{
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	})
}
