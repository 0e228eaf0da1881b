package verification

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"go.uber.org/zap"
)

type MailService interface {
	SendTemplate(ctx context.Context, templateName string, to []string, subject string, data map[string]any) error
}

const (
	TemplateVerificationCode = "verification_code"
	TemplateWelcome          = "welcome"
)

type Notifier struct {
	mail   MailService
	config *config.Config
	logger *logging.Service
}

func NewNotifier(mail MailService, cfg *config.Config, logger *logging.Service) *Notifier {
	return &Notifier{mail: mail, config: cfg, logger: logger}
}

func (n *Notifier) SendVerificationCode(ctx context.Context, user *users.User, issued *IssuedToken) error {
	data := map[string]any{
		"Name":             user.Name,
		"Code":             issued.RawSecret,
		"ExpiresInMinutes": int(math.Ceil(n.config.Verification.TokenTTL.Minutes())),
		"AppName":          n.config.App.Name,
	}
	subject := fmt.Sprintf("Verification code - %s", n.config.App.Name)

	if err := n.mail.SendTemplate(ctx, TemplateVerificationCode, []string{user.Email}, subject, data); err != nil {
		if n.logger != nil {
			n.logger.Error("failed to send verification code",
				zap.Uint("user_id", user.ID),
				zap.String("token_id", issued.TokenID),
				zap.Error(err))
		}
		return fmt.Errorf("failed to send verification code: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("verification code sent", zap.Uint("user_id", user.ID), zap.String("token_id", issued.TokenID))
	}
	return nil
}

func (n *Notifier) SendWelcome(ctx context.Context, user *users.User) error {
	data := map[string]any{
		"Name":         user.Name,
		"AppName":      n.config.App.Name,
		"DashboardURL": strings.TrimSuffix(n.config.App.URL, "/") + "/dashboard",
	}
	subject := fmt.Sprintf("Welcome to %s!", n.config.App.Name)

	if err := n.mail.SendTemplate(ctx, TemplateWelcome, []string{user.Email}, subject, data); err != nil {
		if n.logger != nil {
			n.logger.Error("failed to send welcome email", zap.Uint("user_id", user.ID), zap.Error(err))
		}
		return fmt.Errorf("failed to send welcome email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("welcome email sent", zap.Uint("user_id", user.ID))
	}
	return nil
}
