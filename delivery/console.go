package delivery

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/internal/logging"
)

// ConsoleEmailService is a development service that logs emails instead of
// sending them.
type ConsoleEmailService struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailService) Send(ctx context.Context, input EmailInput) error {
	logger := logging.OrDefault(c.Logger).With("channel", "email", "to", input.Email, "type", input.Type)
	switch input.Type {
	case TypePasswordlessLogin:
		if input.PasswordlessLogin == nil {
			return oops.Code("DELIVERY_INVALID").Errorf("passwordless login email without payload")
		}
		logger.InfoContext(ctx, "Subject: Sign in to your account",
			"code", input.PasswordlessLogin.UserInputCode,
			"link", input.PasswordlessLogin.URLWithLinkCode,
			"lifetime_ms", input.PasswordlessLogin.CodeLifetime)
	case TypeEmailVerification:
		if input.EmailVerification == nil {
			return oops.Code("DELIVERY_INVALID").Errorf("verification email without payload")
		}
		logger.InfoContext(ctx, "Subject: Verify your email address",
			"link", input.EmailVerification.EmailVerifyLink)
	case TypePasswordReset:
		if input.PasswordReset == nil {
			return oops.Code("DELIVERY_INVALID").Errorf("password reset email without payload")
		}
		logger.InfoContext(ctx, "Subject: Reset your password",
			"link", input.PasswordReset.PasswordResetLink)
	default:
		return oops.Code("DELIVERY_INVALID").With("type", input.Type).Errorf("unknown email type %q", input.Type)
	}
	return nil
}

// ConsoleSMSService is a development service that logs text messages.
type ConsoleSMSService struct {
	Logger *slog.Logger
}

func (c *ConsoleSMSService) Send(ctx context.Context, input SMSInput) error {
	if input.Type != TypePasswordlessLogin || input.PasswordlessLogin == nil {
		return oops.Code("DELIVERY_INVALID").With("type", input.Type).Errorf("unsupported sms type %q", input.Type)
	}
	logging.OrDefault(c.Logger).InfoContext(ctx, "SMS: sign in",
		"channel", "sms",
		"to", input.PhoneNumber,
		"code", input.PasswordlessLogin.UserInputCode,
		"link", input.PasswordlessLogin.URLWithLinkCode)
	return nil
}
