package services

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/sirupsen/logrus"
)

// Mailer delivers account emails.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, otpType models.OTPType) error
	SendWelcome(ctx context.Context, to, name string) error
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
}

// SMTPMailer sends mail through an authenticated SMTP relay.
type SMTPMailer struct {
	config SMTPConfig
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	if config.FromEmail == "" {
		config.FromEmail = config.Username
	}
	return &SMTPMailer{config: config, send: smtp.SendMail}
}

func otpMessage(code string, otpType models.OTPType) (string, string) {
	switch otpType {
	case models.OTPTypePasswordReset:
		return "Password Reset - Lead Discovery",
			fmt.Sprintf("Use this code to reset your password: %s\n\nThe code expires in 10 minutes. If you did not ask for a reset, ignore this email.", code)
	default:
		return "Verify Your Email - Lead Discovery",
			fmt.Sprintf("Your verification code is: %s\n\nThe code expires in 10 minutes.", code)
	}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, to, code string, otpType models.OTPType) error {
	subject, body := otpMessage(code, otpType)
	return m.deliver(ctx, to, subject, body)
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, to, name string) error {
	body := fmt.Sprintf("Hi %s,\n\nYour account is verified. Describe your business, pick communities and start finding leads.", name)
	return m.deliver(ctx, to, "Welcome to Lead Discovery", body)
}

func (m *SMTPMailer) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.config.FromEmail)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	if err := m.send(addr, auth, m.config.FromEmail, []string{to}, []byte(msg.String())); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "SMTPMailer",
			"to":        to,
			"subject":   subject,
			"error":     err.Error(),
		}).Error("Failed to send email")
		return fmt.Errorf("send mail to %s: %w", to, err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "SMTPMailer",
		"to":        to,
		"subject":   subject,
	}).Info("Email sent")
	return nil
}

// LogMailer writes emails to the log instead of sending them. Used when SMTP
// is not configured.
type LogMailer struct{}

func (LogMailer) SendOTP(ctx context.Context, to, code string, otpType models.OTPType) error {
	logrus.WithFields(logrus.Fields{
		"component": "LogMailer",
		"to":        to,
		"otp_type":  otpType,
		"code":      code,
	}).Warn("SMTP not configured; OTP written to log")
	return nil
}

func (LogMailer) SendWelcome(ctx context.Context, to, name string) error {
	logrus.WithFields(logrus.Fields{
		"component": "LogMailer",
		"to":        to,
		"name":      name,
	}).Info("SMTP not configured; welcome email skipped")
	return nil
}
