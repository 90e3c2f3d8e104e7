package auth

import (
	"context"
	"fmt"
)

// Messenger delivers a message out of band (SMS, email, push). The core
// hands it the raw action-token secret embedded in a link; delivery
// mechanics live with the caller.
type Messenger interface {
	Send(ctx context.Context, to, message string) error
}

// MessengerFunc adapts a function to the Messenger interface.
type MessengerFunc func(ctx context.Context, to, message string) error

// Send implements Messenger.
func (f MessengerFunc) Send(ctx context.Context, to, message string) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, message)
}

type noopMessenger struct{}

func (noopMessenger) Send(context.Context, string, string) error { return nil }

// logMessenger is the development fallback, it prints instead of
// delivering.
type logMessenger struct {
	logger Logger
}

func (m logMessenger) Send(_ context.Context, to, message string) error {
	logger := m.logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("delivering notification to %s: %s", to, message)
	return nil
}

func normalizeMessenger(m Messenger) Messenger {
	if m == nil {
		return noopMessenger{}
	}
	return m
}

// deliveryAddress picks the out-of-band destination for a user. The
// original service delivered OTPs by SMS, so phone wins over email.
func deliveryAddress(user *User) string {
	if user == nil {
		return ""
	}
	if user.Phone != "" {
		return user.Phone
	}
	return user.Email
}

func resetLinkMessage(baseURL, secret string) string {
	return fmt.Sprintf("Reset your password: %s/password-reset?token=%s", baseURL, secret)
}

func confirmLinkMessage(baseURL, secret string) string {
	return fmt.Sprintf("Confirm your registration: %s/register/verify?token=%s", baseURL, secret)
}
