package mail

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	logx "github.com/falaai/server/pkg/logger"
)

type sendClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

type SendGridSender struct {
	cfg    Config
	client sendClient
}

func NewSendGridSender(cfg Config) *SendGridSender {
	s := &SendGridSender{cfg: cfg}
	if cfg.Configured() {
		s.client = sendgrid.NewSendClient(cfg.SendgridAPIKey)
	}
	return s
}

func (s *SendGridSender) SendVerificationLink(ctx context.Context, to, link string) error {
	if !s.cfg.Configured() || s.client == nil {
		logx.Error().Msg("SENDGRID_API_KEY or EMAIL_USER not set, verification email not sent")
		return ErrNotConfigured
	}

	body, err := RenderVerification(to, link)
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	from := sgmail.NewEmail(s.cfg.SenderName, s.cfg.Sender)
	msg := sgmail.NewSingleEmail(from, s.cfg.Subject, sgmail.NewEmail("", to), "", body)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
