package auth

import (
	"context"
	"io"
)

// Recipient identifies who a notification is addressed to.
type Recipient struct {
	Email string
	Name  string
}

func recipientOf(u User) Recipient {
	return Recipient{Email: u.Email, Name: u.DisplayName()}
}

// Notifier delivers account notifications. SendPasswordReset carries the only copy of a
// generated password.
type Notifier interface {
	SendWelcome(ctx context.Context, to Recipient) error
	SendPasswordReset(ctx context.Context, to Recipient, password string) error
	SendAccountActivated(ctx context.Context, to Recipient) error
	SendAccountDeactivated(ctx context.Context, to Recipient) error
	SendGroupAssigned(ctx context.Context, to Recipient, group string) error
	SendProfileUpdated(ctx context.Context, to Recipient) error
}

// FileStorage stores uploaded files and returns a URL they can be fetched from.
type FileStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

type nopNotifier struct{}

func (nopNotifier) SendWelcome(context.Context, Recipient) error               { return nil }
func (nopNotifier) SendPasswordReset(context.Context, Recipient, string) error { return nil }
func (nopNotifier) SendAccountActivated(context.Context, Recipient) error      { return nil }
func (nopNotifier) SendAccountDeactivated(context.Context, Recipient) error    { return nil }
func (nopNotifier) SendGroupAssigned(context.Context, Recipient, string) error { return nil }
func (nopNotifier) SendProfileUpdated(context.Context, Recipient) error        { return nil }
