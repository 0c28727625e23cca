package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/everkeep/everkeep/pkg/pg"
)

// PGStore implements Store on a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed ledger store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("ledger: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

// InTx runs fn inside one database transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&pgTx{tx: pgtx}); err != nil {
		_ = pgtx.Rollback(ctx)
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const accountColumns = `id, kind, email, gateway_customer_id, connected_account_id,
	commission_rate_bps, status, billing_payer_id, owner_id, original_owner_id,
	access_suspended, payment_failures, grace_deadline, overdue_since,
	deactivated_at, suspended_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Kind, &a.Email, &a.GatewayCustomerID, &a.ConnectedAccountID,
		&a.CommissionRateBps, &a.Status, &a.BillingPayerID, &a.OwnerID, &a.OriginalOwnerID,
		&a.AccessSuspended, &a.PaymentFailures, &a.GraceDeadline, &a.OverdueSince,
		&a.DeactivatedAt, &a.SuspendedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) CreateAccount(ctx context.Context, acct *Account) error {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	if acct.Status == "" {
		acct.Status = AccountActive
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, kind, email, gateway_customer_id, connected_account_id,
			commission_rate_bps, status, billing_payer_id, owner_id, original_owner_id,
			access_suspended, payment_failures, grace_deadline, overdue_since,
			deactivated_at, suspended_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		acct.ID, acct.Kind, acct.Email, acct.GatewayCustomerID, acct.ConnectedAccountID,
		acct.CommissionRateBps, acct.Status, acct.BillingPayerID, acct.OwnerID, acct.OriginalOwnerID,
		acct.AccessSuspended, acct.PaymentFailures, acct.GraceDeadline, acct.OverdueSince,
		acct.DeactivatedAt, acct.SuspendedAt, acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PGStore) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

const subscriptionColumns = `id, subscriber_id, provider_id, gallery_id, gateway_subscription_id,
	status, cancel_at_period_end, current_period_end, grace_deadline,
	commission_rate_bps, consecutive_failures, last_event_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.SubscriberID, &sub.ProviderID, &sub.GalleryID, &sub.GatewaySubscriptionID,
		&sub.Status, &sub.CancelAtPeriodEnd, &sub.CurrentPeriodEnd, &sub.GraceDeadline,
		&sub.CommissionRateBps, &sub.ConsecutiveFailures, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *PGStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, subscriber_id, provider_id, gallery_id, gateway_subscription_id,
			status, cancel_at_period_end, current_period_end, grace_deadline,
			commission_rate_bps, consecutive_failures, last_event_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		sub.ID, sub.SubscriberID, sub.ProviderID, sub.GalleryID, sub.GatewaySubscriptionID,
		sub.Status, sub.CancelAtPeriodEnd, sub.CurrentPeriodEnd, sub.GraceDeadline,
		sub.CommissionRateBps, sub.ConsecutiveFailures, sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		// Partial unique index on (subscriber_id, gallery_id) for
		// non-terminal statuses backs the entitlement invariant.
		if pg.IsDuplicateKeyError(err) {
			return ErrSubscriptionExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PGStore) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *PGStore) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id = $1`, gatewayID)
	return scanSubscription(row)
}

func (s *PGStore) ListDeactivatableAccounts(ctx context.Context, now time.Time, limit int) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE kind = $1 AND status = $2 AND grace_deadline IS NOT NULL AND grace_deadline < $3
		ORDER BY grace_deadline
		LIMIT $4`,
		KindSubscriber, AccountActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list deactivatable accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (s *PGStore) DeactivateAccount(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	// Conditional update: a payment that closed the grace window between
	// listing and updating makes this a no-op, and a second sweep run
	// never touches deactivated_at again.
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET status = $1, deactivated_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
			AND grace_deadline IS NOT NULL AND grace_deadline < $2
			AND deactivated_at IS NULL`,
		AccountDeactivated, now, id, AccountActive)
	if err != nil {
		return false, fmt.Errorf("deactivate account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ListOverdueProviders(ctx context.Context, cutoff time.Time, limit int) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE kind = $1 AND status = $2 AND overdue_since IS NOT NULL AND overdue_since <= $3
		ORDER BY overdue_since
		LIMIT $4`,
		KindProvider, AccountActive, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue providers: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (s *PGStore) SuspendProvider(ctx context.Context, id uuid.UUID, now time.Time, cutoff time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET status = $1, suspended_at = $2, access_suspended = TRUE, updated_at = $2
		WHERE id = $3 AND kind = $4 AND status = $5
			AND overdue_since IS NOT NULL AND overdue_since <= $6`,
		AccountSuspended, now, id, KindProvider, AccountActive, cutoff)
	if err != nil {
		return false, fmt.Errorf("suspend provider: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SumProviderCommission(ctx context.Context, providerID uuid.UUID, currency string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(provider_cents), 0) FROM commission_records
		WHERE provider_id = $1 AND currency = $2`,
		providerID, currency).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum provider commission: %w", err)
	}
	return total, nil
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// pgTx implements Tx on an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertPaymentEvent(ctx context.Context, ev *PaymentEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_events (id, gateway_event_id, subscription_id, event_type,
			gross_cents, fee_cents, currency, occurred_at, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ID, ev.GatewayEventID, ev.SubscriptionID, ev.Type,
		ev.GrossCents, ev.FeeCents, ev.Currency, ev.OccurredAt, ev.ReceivedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

func (t *pgTx) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error) {
	// Row lock held for the rest of the transaction; concurrent handlers
	// for the same subscription serialize here.
	row := t.tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE gateway_subscription_id = $1 FOR UPDATE`, gatewayID)
	return scanSubscription(row)
}

func (t *pgTx) UpdateSubscription(ctx context.Context, sub *Subscription, expectedLastEventAt time.Time) error {
	now := time.Now().UTC()
	tag, err := t.tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = $1, cancel_at_period_end = $2, current_period_end = $3,
			grace_deadline = $4, consecutive_failures = $5, last_event_at = $6, updated_at = $7
		WHERE id = $8 AND last_event_at = $9`,
		sub.Status, sub.CancelAtPeriodEnd, sub.CurrentPeriodEnd,
		sub.GraceDeadline, sub.ConsecutiveFailures, sub.LastEventAt, now,
		sub.ID, expectedLastEventAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	sub.UpdatedAt = now
	return nil
}

func (t *pgTx) InsertCommissionRecord(ctx context.Context, rec *CommissionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO commission_records (id, payment_event_id, subscription_id, provider_id,
			provider_cents, platform_cents, currency, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.PaymentEventID, rec.SubscriptionID, rec.ProviderID,
		rec.ProviderCents, rec.PlatformCents, rec.Currency, rec.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateCommission
		}
		return fmt.Errorf("insert commission record: %w", err)
	}
	return nil
}

func (t *pgTx) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

func (t *pgTx) ClearAccountSuspension(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET status = $1, suspended_at = NULL, access_suspended = FALSE, overdue_since = NULL, updated_at = $2
		WHERE id = $3 AND status = $4`,
		AccountActive, time.Now().UTC(), id, AccountSuspended)
	if err != nil {
		return fmt.Errorf("clear account suspension: %w", err)
	}
	return nil
}

func (t *pgTx) SetAccountGraceDeadline(ctx context.Context, id uuid.UUID, deadline *time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET grace_deadline = $1, updated_at = $2 WHERE id = $3`,
		deadline, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set account grace deadline: %w", err)
	}
	return nil
}

func (t *pgTx) MarkProviderOverdue(ctx context.Context, id uuid.UUID, since time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET overdue_since = $1, updated_at = $2
		WHERE id = $3 AND overdue_since IS NULL`,
		since, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark provider overdue: %w", err)
	}
	return nil
}

func (t *pgTx) ClearProviderOverdue(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET overdue_since = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear provider overdue: %w", err)
	}
	return nil
}

func (t *pgTx) ResetPaymentFailures(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET payment_failures = 0, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset payment failures: %w", err)
	}
	return nil
}

func (t *pgTx) IncrementPaymentFailures(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET payment_failures = payment_failures + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment payment failures: %w", err)
	}
	return nil
}

func (t *pgTx) SetBillingPayer(ctx context.Context, accountID uuid.UUID, expectedPrev *uuid.UUID, newPayer uuid.UUID) error {
	// The precondition "payer pointer still equals what the takeover saw
	// at initiation" is what guarantees exactly one completion wins.
	var tag pgconn.CommandTag
	var err error
	if expectedPrev == nil {
		tag, err = t.tx.Exec(ctx, `
			UPDATE accounts SET billing_payer_id = $1, updated_at = $2
			WHERE id = $3 AND billing_payer_id IS NULL`,
			newPayer, time.Now().UTC(), accountID)
	} else {
		tag, err = t.tx.Exec(ctx, `
			UPDATE accounts SET billing_payer_id = $1, updated_at = $2
			WHERE id = $3 AND billing_payer_id = $4`,
			newPayer, time.Now().UTC(), accountID, *expectedPrev)
	}
	if err != nil {
		return fmt.Errorf("set billing payer: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) TransferOwnership(ctx context.Context, accountID, newOwner uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET original_owner_id = COALESCE(original_owner_id, owner_id, id),
			owner_id = $1, updated_at = $2
		WHERE id = $3`,
		newOwner, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	return nil
}

func (t *pgTx) ClearAccessSuspension(ctx context.Context, accountID uuid.UUID) error {
	now := time.Now().UTC()
	if _, err := t.tx.Exec(ctx, `
		UPDATE accounts SET access_suspended = FALSE, updated_at = $1 WHERE id = $2`,
		now, accountID); err != nil {
		return fmt.Errorf("clear account access suspension: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTakeoverRecord(ctx context.Context, rec *TakeoverRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO takeover_records (id, account_id, previous_payer_id, new_payer_id,
			takeover_type, reason, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.AccountID, rec.PreviousPayerID, rec.NewPayerID,
		rec.Type, rec.Reason, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert takeover record: %w", err)
	}
	return nil
}
