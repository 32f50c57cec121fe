// Package mailer sends certificate notification emails over SMTP.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
)

// Service implements interfaces.Mailer on top of net/smtp, with message
// assembly delegated to go-message so headers and encodings stay RFC-clean.
type Service struct {
	config *common.MailerConfig
	logger arbor.ILogger
}

// NewService creates an SMTP-backed mailer.
func NewService(config *common.MailerConfig, logger arbor.ILogger) *Service {
	return &Service{config: config, logger: logger}
}

func (s *Service) Send(ctx context.Context, msg interfaces.MailMessage) error {
	if s.config.Host == "" {
		return fmt.Errorf("mailer host not configured")
	}

	body, err := s.buildMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.config.From, []string{msg.To}, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Debug().Str("to", msg.To).Msg("Email sent")
	return nil
}

func (s *Service) buildMessage(msg interfaces.MailMessage) ([]byte, error) {
	var buf bytes.Buffer

	from := []*mail.Address{{Name: s.config.FromName, Address: s.config.From}}
	to := []*mail.Address{{Address: msg.To}}

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", from)
	header.SetAddressList("To", to)
	header.SetSubject(msg.Subject)

	writer, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	inline, err := writer.CreateInline()
	if err != nil {
		return nil, err
	}
	var textHeader mail.InlineHeader
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	part, err := inline.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, msg.Body); err != nil {
		return nil, err
	}
	part.Close()
	inline.Close()
	writer.Close()

	return buf.Bytes(), nil
}
