package billingapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/logger"
)

// maxWebhookBody bounds webhook payload size; gateway payloads are a few KB.
const maxWebhookBody = 1 << 20

// handleWebhook is the gateway's delivery endpoint. The status code is the
// contract with the gateway's retry loop: 2xx settles the delivery (applied
// events AND discards alike), 4xx rejects it permanently, 5xx asks for a
// redelivery.
func (a *api) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	ev, err := a.Gateway.ParseWebhook(ctx, body, r.Header.Get("Paddle-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSignatureVerification):
			a.Log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
			respondError(w, http.StatusUnauthorized, "signature verification failed")
		case errors.Is(err, billing.ErrMalformedPayload):
			a.Log.WarnContext(ctx, "malformed webhook payload", logger.Error(err))
			respondError(w, http.StatusBadRequest, "malformed payload")
		default:
			a.Log.ErrorContext(ctx, "webhook parse failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if err := a.Processor.Process(ctx, ev); err != nil {
		// Nothing was committed; a 5xx makes the gateway redeliver.
		a.Log.ErrorContext(ctx, "event processing failed",
			logger.GatewayEventID(ev.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
