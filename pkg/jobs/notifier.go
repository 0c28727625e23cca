package jobs

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
)

// Notifier delivers human-facing notices about sweep outcomes. Notification
// failures never fail the sweep; the state change is the source of truth and
// the notice is best effort.
type Notifier interface {
	// AccountDeactivated tells a subscriber their grace period expired.
	AccountDeactivated(ctx context.Context, email string) error
	// ProviderSuspended tells a provider their account was suspended for
	// unpaid platform fees.
	ProviderSuspended(ctx context.Context, email string) error
}

// PostmarkNotifier sends sweep notices through Postmark.
type PostmarkNotifier struct {
	client *postmark.Client
	from   string
}

// NewPostmarkNotifier creates a notifier on a Postmark server token.
func NewPostmarkNotifier(serverToken, accountToken, from string) *PostmarkNotifier {
	return &PostmarkNotifier{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
	}
}

func (n *PostmarkNotifier) AccountDeactivated(ctx context.Context, email string) error {
	return n.send(ctx, email,
		"Your account has been deactivated",
		"Your retention subscription lapsed and the grace period has ended, so your account has been deactivated. Contact support to discuss restoring access.")
}

func (n *PostmarkNotifier) ProviderSuspended(ctx context.Context, email string) error {
	return n.send(ctx, email,
		"Your provider account has been suspended",
		"Your platform subscription has been unpaid for over 90 days and your provider account is now suspended. Settle the outstanding balance to restore access; your earned commissions remain on record.")
}

func (n *PostmarkNotifier) send(ctx context.Context, to, subject, body string) error {
	_, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.from,
		To:       to,
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// NopNotifier drops all notices; used in tests and when no mail credentials
// are configured.
type NopNotifier struct{}

func (NopNotifier) AccountDeactivated(context.Context, string) error { return nil }
func (NopNotifier) ProviderSuspended(context.Context, string) error  { return nil }
