package takeover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/logger"
)

// Metadata keys round-tripped through the gateway checkout. The webhook that
// confirms the checkout carries them back, which is how Complete knows what
// was agreed at initiation time without any intermediate state of its own.
const (
	metaAccountID      = "account_id"
	metaCandidatePayer = "candidate_payer_id"
	metaPreviousPayer  = "previous_payer_id" // empty when the account paid for itself
	metaTakeoverType   = "takeover_type"
	metaTakeoverReason = "takeover_reason"
)

// Request describes a billing-takeover attempt: a candidate payer offering
// to take over payment for (and optionally ownership of) an account.
type Request struct {
	AccountID        uuid.UUID
	CandidatePayerID uuid.UUID
	Type             ledger.TakeoverType
	PlanKey          string
	SuccessURL       string
	Reason           string
}

// Initiation is what the candidate payer gets back: a hosted checkout to
// bind their payment method. Nothing in the ledger changes until the
// gateway confirms payment.
type Initiation struct {
	TakeoverID uuid.UUID
	Checkout   *billing.Checkout
}

// Service runs the takeover workflow. Initiation is synchronous and
// side-effect free on the ledger; completion happens inside the webhook
// ingestion transaction when the checkout's payment confirmation arrives.
type Service struct {
	store   ledger.Store
	gateway billing.Gateway
	catalog *billing.Catalog
	log     *slog.Logger
}

// NewService creates a takeover service.
func NewService(store ledger.Store, gateway billing.Gateway, catalog *billing.Catalog, log *slog.Logger) *Service {
	if store == nil || gateway == nil || catalog == nil {
		panic("takeover: store, gateway and catalog are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, gateway: gateway, catalog: catalog, log: log}
}

// Initiate validates the request and creates a gateway checkout carrying the
// takeover terms in metadata. The current payer pointer is snapshotted into
// the metadata; completion later succeeds only if the pointer is still the
// same, so two overlapping initiations can both hand out checkouts but only
// the first confirmed payment wins.
func (s *Service) Initiate(ctx context.Context, req Request) (*Initiation, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.AccountID == req.CandidatePayerID {
		return nil, ErrSelfTakeover
	}

	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load target account: %w", err)
	}
	if acct.Status == ledger.AccountDeactivated {
		return nil, ErrAccountDeactivated
	}
	candidate, err := s.store.GetAccount(ctx, req.CandidatePayerID)
	if err != nil {
		return nil, fmt.Errorf("load candidate payer: %w", err)
	}

	priceID, err := s.catalog.RetentionPrice(req.PlanKey)
	if err != nil {
		return nil, err
	}

	takeoverID := uuid.New()
	previousPayer := ""
	if acct.BillingPayerID != nil {
		previousPayer = acct.BillingPayerID.String()
	}

	checkout, err := s.gateway.CreateCheckout(ctx, billing.CheckoutRequest{
		PriceID:    priceID,
		CustomerID: candidate.GatewayCustomerID,
		Email:      candidate.Email,
		SuccessURL: req.SuccessURL,
		Metadata: map[string]string{
			billing.MetadataTakeoverID: takeoverID.String(),
			metaAccountID:              acct.ID.String(),
			metaCandidatePayer:         candidate.ID.String(),
			metaPreviousPayer:          previousPayer,
			metaTakeoverType:           string(req.Type),
			metaTakeoverReason:         req.Reason,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create takeover checkout: %w", err)
	}

	s.log.InfoContext(ctx, "takeover initiated",
		slog.String("takeover_id", takeoverID.String()),
		logger.AccountID(acct.ID),
		slog.String("candidate_payer_id", candidate.ID.String()),
		slog.String("takeover_type", string(req.Type)),
	)
	return &Initiation{TakeoverID: takeoverID, Checkout: checkout}, nil
}

// Complete finalizes a takeover inside the webhook ingestion transaction,
// after the gateway confirmed the candidate's payment. The payer pointer is
// claimed with a conditional update against the pointer value snapshotted at
// initiation; losing that race is final, so the loser is settled (logged,
// acknowledged) rather than retried.
func (s *Service) Complete(ctx context.Context, tx ledger.Tx, ev *billing.Event) error {
	terms, err := parseTerms(ev)
	if err != nil {
		// Malformed metadata cannot become well-formed on redelivery.
		s.log.ErrorContext(ctx, "takeover confirmation with unusable metadata", logger.Error(err),
			logger.GatewayEventID(ev.ID))
		return nil
	}
	log := s.log.With(
		slog.String("takeover_id", terms.takeoverID.String()),
		logger.AccountID(terms.accountID),
		logger.GatewayEventID(ev.ID),
	)

	if err := tx.SetBillingPayer(ctx, terms.accountID, terms.previousPayer, terms.newPayer); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			// The pointer moved since initiation: another takeover won.
			// Retrying can never succeed, so settle the delivery; the
			// event row still commits for audit and dedup.
			log.WarnContext(ctx, "takeover lost payer race, payment confirmed for superseded terms",
				logger.Error(ErrAlreadyClaimed))
			return nil
		}
		return fmt.Errorf("claim billing payer: %w", err)
	}

	// A confirmed payer with a working payment method restores access and
	// wipes the failure streak that got the account here.
	if err := tx.ClearAccessSuspension(ctx, terms.accountID); err != nil {
		return err
	}
	if err := tx.ResetPaymentFailures(ctx, terms.accountID); err != nil {
		return err
	}
	if err := tx.SetAccountGraceDeadline(ctx, terms.accountID, nil); err != nil {
		return err
	}

	if terms.takeoverType == ledger.TakeoverFullPrimary {
		if err := tx.TransferOwnership(ctx, terms.accountID, terms.newPayer); err != nil {
			return err
		}
	}

	if err := tx.InsertTakeoverRecord(ctx, &ledger.TakeoverRecord{
		ID:              terms.takeoverID,
		AccountID:       terms.accountID,
		PreviousPayerID: terms.previousPayer,
		NewPayerID:      terms.newPayer,
		Type:            terms.takeoverType,
		Reason:          terms.reason,
		CompletedAt:     ev.OccurredAt,
	}); err != nil {
		return fmt.Errorf("record takeover: %w", err)
	}

	log.InfoContext(ctx, "takeover completed", slog.String("takeover_type", string(terms.takeoverType)))
	return nil
}

type terms struct {
	takeoverID    uuid.UUID
	accountID     uuid.UUID
	newPayer      uuid.UUID
	previousPayer *uuid.UUID
	takeoverType  ledger.TakeoverType
	reason        string
}

func parseTerms(ev *billing.Event) (*terms, error) {
	takeoverID, err := uuid.Parse(ev.Metadata[billing.MetadataTakeoverID])
	if err != nil {
		return nil, fmt.Errorf("%w: takeover id: %v", ErrBadMetadata, err)
	}
	accountID, err := uuid.Parse(ev.Metadata[metaAccountID])
	if err != nil {
		return nil, fmt.Errorf("%w: account id: %v", ErrBadMetadata, err)
	}
	newPayer, err := uuid.Parse(ev.Metadata[metaCandidatePayer])
	if err != nil {
		return nil, fmt.Errorf("%w: candidate payer id: %v", ErrBadMetadata, err)
	}

	var previous *uuid.UUID
	if raw := ev.Metadata[metaPreviousPayer]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: previous payer id: %v", ErrBadMetadata, err)
		}
		previous = &id
	}

	tt := ledger.TakeoverType(ev.Metadata[metaTakeoverType])
	if !tt.Valid() {
		return nil, fmt.Errorf("%w: takeover type %q", ErrBadMetadata, ev.Metadata[metaTakeoverType])
	}

	return &terms{
		takeoverID:    takeoverID,
		accountID:     accountID,
		newPayer:      newPayer,
		previousPayer: previous,
		takeoverType:  tt,
		reason:        ev.Metadata[metaTakeoverReason],
	}, nil
}
