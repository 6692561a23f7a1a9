// Package mail delivers account verification emails.
package mail

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"html/template"
	"time"

	"github.com/falaai/server/internal/metrics"
	logx "github.com/falaai/server/pkg/logger"
)

var ErrNotConfigured = errors.New("mail: sendgrid api key or sender not configured")

type Config struct {
	SendgridAPIKey string        `envconfig:"SENDGRID_API_KEY"`
	Sender         string        `envconfig:"EMAIL_USER"`
	SenderName     string        `envconfig:"EMAIL_SENDER_NAME" default:"FalaAI"`
	Subject        string        `envconfig:"EMAIL_SUBJECT" default:"Ação Necessária: Verifique Seu Email e Ative Sua Conta FalaAI"`
	SendTimeout    time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"30s"`
}

func (c Config) Configured() bool {
	return c.SendgridAPIKey != "" && c.Sender != ""
}

// Sender delivers a verification link to an address.
type Sender interface {
	SendVerificationLink(ctx context.Context, to, link string) error
}

//go:embed template/verification.html
var verificationHTML string

var verificationTmpl = template.Must(template.New("verification").Parse(verificationHTML))

type verificationData struct {
	To        string
	Link      string
	ExpiresIn string
}

// RenderVerification renders the HTML body of the verification email.
func RenderVerification(to, link string) (string, error) {
	var buf bytes.Buffer
	err := verificationTmpl.Execute(&buf, verificationData{To: to, Link: link, ExpiresIn: "24 horas"})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Dispatcher sends emails off the request path. Each send gets its own
// timeout and is not cancelled when the originating request ends.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewDispatcher(sender Sender, timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{sender: sender, timeout: timeout, metrics: m}
}

// SendVerificationLink starts the send in a goroutine and returns immediately.
// The returned channel yields the outcome and is mostly useful in tests.
func (d *Dispatcher) SendVerificationLink(ctx context.Context, to, link string) <-chan error {
	done := make(chan error, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		err := d.sender.SendVerificationLink(ctx, to, link)
		d.metrics.ObserveEmail(err)
		if err != nil {
			logx.Error().Err(err).Str("to", to).Msg("failed to send verification email")
		} else {
			logx.Info().Str("to", to).Msg("verification email sent")
		}
		done <- err
	}()
	return done
}
