package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmlTemplate "html/template"
	"os"
	"path/filepath"
	textTemplate "text/template"
	"time"

	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

//go:embed templates/*.html templates/*.txt
var defaultTemplates embed.FS

var ErrTemplateNotFound = errors.New("mail template not found")

type Client interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type Service struct {
	config        *config.MailConfig
	client        Client
	htmlTemplates *htmlTemplate.Template
	textTemplates *textTemplate.Template
	logger        *logging.Service
}

func NewService(cfg *config.MailConfig, logger *logging.Service) (*Service, error) {
	if logger != nil {
		logger.Info("initializing mail service",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("encryption", cfg.Encryption),
			zap.String("from_address", cfg.FromAddress))
	}

	client, err := newClient(cfg)
	if err != nil {
		if logger != nil {
			logger.Error("failed to create mail client",
				zap.Error(err),
				zap.String("host", cfg.Host),
				zap.Int("port", cfg.Port))
		}
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return NewServiceWithClient(cfg, logger, client)
}

func NewServiceWithClient(cfg *config.MailConfig, logger *logging.Service, client Client) (*Service, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("MAIL_FROM_ADDRESS is required")
	}

	service := &Service{
		config: cfg,
		client: client,
		logger: logger,
	}

	if err := service.loadTemplates(); err != nil {
		if logger != nil {
			logger.Error("failed to load mail templates", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to load mail templates: %w", err)
	}

	return service, nil
}

func newClient(cfg *config.MailConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}

	switch cfg.Encryption {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	return mail.NewClient(cfg.Host, opts...)
}

func (s *Service) loadTemplates() error {
	var err error
	s.htmlTemplates, err = htmlTemplate.ParseFS(defaultTemplates, "templates/*.html")
	if err != nil {
		return fmt.Errorf("failed to parse default HTML templates: %w", err)
	}
	s.textTemplates, err = textTemplate.ParseFS(defaultTemplates, "templates/*.txt")
	if err != nil {
		return fmt.Errorf("failed to parse default text templates: %w", err)
	}

	if s.config.TemplatesDir == "" {
		return nil
	}

	if s.logger != nil {
		s.logger.Info("loading mail template overrides", zap.String("templates_dir", s.config.TemplatesDir))
	}

	htmlFiles, err := filepath.Glob(filepath.Join(s.config.TemplatesDir, "*.html"))
	if err != nil {
		return fmt.Errorf("failed to list HTML templates: %w", err)
	}
	for _, file := range htmlFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", file, err)
		}
		if _, err := s.htmlTemplates.New(filepath.Base(file)).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse HTML template %s: %w", file, err)
		}
	}

	textFiles, err := filepath.Glob(filepath.Join(s.config.TemplatesDir, "*.txt"))
	if err != nil {
		return fmt.Errorf("failed to list text templates: %w", err)
	}
	for _, file := range textFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", file, err)
		}
		if _, err := s.textTemplates.New(filepath.Base(file)).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse text template %s: %w", file, err)
		}
	}

	if s.logger != nil {
		s.logger.Info("mail template overrides loaded",
			zap.Int("html_templates", len(htmlFiles)),
			zap.Int("text_templates", len(textFiles)))
	}
	return nil
}

func (s *Service) newMessage(to []string, subject string) (*mail.Msg, error) {
	message := mail.NewMsg()

	if s.config.FromName != "" {
		if err := message.FromFormat(s.config.FromName, s.config.FromAddress); err != nil {
			return nil, fmt.Errorf("failed to set FROM address: %w", err)
		}
	} else if err := message.From(s.config.FromAddress); err != nil {
		return nil, fmt.Errorf("failed to set FROM address: %w", err)
	}

	if err := message.To(to...); err != nil {
		return nil, fmt.Errorf("failed to set TO addresses: %w", err)
	}

	message.Subject(subject)
	return message, nil
}

// Send delivers a message with an HTML body and a plain text alternative.
// Either body may be empty.
func (s *Service) Send(ctx context.Context, to []string, subject, htmlBody, textBody string) error {
	if htmlBody == "" && textBody == "" {
		return errors.New("email body is empty")
	}

	message, err := s.newMessage(to, subject)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to build email", zap.Error(err), zap.Strings("recipients", to))
		}
		return err
	}

	switch {
	case htmlBody != "" && textBody != "":
		message.SetBodyString(mail.TypeTextPlain, textBody)
		message.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	case htmlBody != "":
		message.SetBodyString(mail.TypeTextHTML, htmlBody)
	default:
		message.SetBodyString(mail.TypeTextPlain, textBody)
	}

	startTime := time.Now()
	err = s.client.DialAndSendWithContext(ctx, message)
	duration := time.Since(startTime)

	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to send email",
				zap.Error(err),
				zap.Strings("recipients", to),
				zap.Duration("attempt_duration", duration))
		}
		return fmt.Errorf("failed to send email: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("email sent successfully",
			zap.Strings("recipients", to),
			zap.String("subject", subject),
			zap.Duration("send_duration", duration))
	}
	return nil
}

func (s *Service) SendTemplate(ctx context.Context, templateName string, to []string, subject string, data map[string]any) error {
	htmlBody, textBody, err := s.Render(templateName, data)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to render template", zap.Error(err), zap.String("template", templateName))
		}
		return fmt.Errorf("failed to render template: %w", err)
	}

	return s.Send(ctx, to, subject, htmlBody, textBody)
}

// Render executes the html and txt variants of templateName.
func (s *Service) Render(templateName string, data map[string]any) (string, string, error) {
	var htmlBody, textBody string

	if tmpl := s.htmlTemplates.Lookup(templateName + ".html"); tmpl != nil {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", "", fmt.Errorf("failed to execute HTML template: %w", err)
		}
		htmlBody = buf.String()
	}

	if tmpl := s.textTemplates.Lookup(templateName + ".txt"); tmpl != nil {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", "", fmt.Errorf("failed to execute text template: %w", err)
		}
		textBody = buf.String()
	}

	if htmlBody == "" && textBody == "" {
		return "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, templateName)
	}

	return htmlBody, textBody, nil
}
