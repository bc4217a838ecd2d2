// services/iotcore/internal/gateway/mailer.go
package gateway

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"example.com/backstage/services/iotcore/config"
)

// SMTPMailer sends templated notification mail. It implements core.Mailer.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer creates a mailer from SMTP settings.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// SendWelcome mails the onboarding message. The password line is included
// only for managed accounts whose password was system-generated.
func (m *SMTPMailer) SendWelcome(to, name, password string) error {
	body := fmt.Sprintf("Hello %s,\n\nYour account has been created.\n", name)
	if password != "" {
		body += fmt.Sprintf("\nYour temporary password is: %s\nPlease change it after your first login.\n", password)
	}

	return m.send(to, "Welcome aboard", body)
}

// SendPasswordResetOTP mails the reset code.
func (m *SMTPMailer) SendPasswordResetOTP(to string, otp int) error {
	body := fmt.Sprintf("Your password reset code is %d.\n\nIt expires in 15 minutes. If you did not request a reset, ignore this mail.\n", otp)
	return m.send(to, "Password reset code", body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}
