package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/utils"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// defaultSendTimeout bounds an SMTP session when the caller sets no deadline.
const defaultSendTimeout = 30 * time.Second

// Sender handles sending borrower notifications via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(ctx context.Context, e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send:   sendSMTP,
	}
}

// SendPaymentConfirmation tells the borrower an automatic payment went through
func (s *Sender) SendPaymentConfirmation(ctx context.Context, to, name, loanRef string, amount int64, methodDescription string) error {
	subject := fmt.Sprintf("Payment Received - Loan %s", loanRef)
	body := fmt.Sprintf(
		"Your automatic payment of $%s for loan %s was charged to %s.\n"+
			"Thank you for your payment.\n",
		utils.FormatMinor(amount), loanRef, methodDescription,
	)
	return s.deliver(ctx, to, name, subject, body)
}

// SendPaymentFailed tells the borrower an automatic payment could not be charged
func (s *Sender) SendPaymentFailed(ctx context.Context, to, name, loanRef string, amount int64, reason string) error {
	subject := fmt.Sprintf("Payment Failed - Loan %s", loanRef)
	body := fmt.Sprintf(
		"We were unable to process your automatic payment of $%s for loan %s.\n"+
			"Payment failed: %s\n"+
			"Please update your payment method or make a manual payment to avoid late fees.\n",
		utils.FormatMinor(amount), loanRef, reason,
	)
	return s.deliver(ctx, to, name, subject, body)
}

// SendReminder sends an upcoming payment reminder
func (s *Sender) SendReminder(ctx context.Context, to, name, loanRef string, amount int64, daysUntilDue int) error {
	days := "days"
	if daysUntilDue == 1 {
		days = "day"
	}
	subject := fmt.Sprintf("Payment Due in %d %s - Loan %s", daysUntilDue, days, loanRef)
	body := fmt.Sprintf(
		"This is a reminder that your payment of $%s for loan %s is due in %d %s.\n"+
			"Please ensure sufficient funds are available.\n",
		utils.FormatMinor(amount), loanRef, daysUntilDue, days,
	)
	return s.deliver(ctx, to, name, subject, body)
}

// SendOverdue sends an overdue payment notice
func (s *Sender) SendOverdue(ctx context.Context, to, name, loanRef string, amount int64, daysOverdue int) error {
	subject := fmt.Sprintf("Overdue Payment Notice - Loan %s", loanRef)
	body := fmt.Sprintf(
		"Your payment of $%s for loan %s is %d day(s) overdue.\n"+
			"Please make the payment as soon as possible to avoid further late fees.\n",
		utils.FormatMinor(amount), loanRef, daysOverdue,
	)
	return s.deliver(ctx, to, name, subject, body)
}

// SendDelinquency sends the escalated notice for an installment 30 or more
// days overdue
func (s *Sender) SendDelinquency(ctx context.Context, to, name, loanRef string, amount int64, daysOverdue int) error {
	subject := fmt.Sprintf("Urgent: Loan %s Is Delinquent", loanRef)
	body := fmt.Sprintf(
		"Your payment of $%s for loan %s is now %d days overdue and the loan is delinquent.\n"+
			"Please make the payment immediately or contact our support team to discuss hardship options.\n"+
			"Continued non-payment may be reported to credit bureaus.\n",
		utils.FormatMinor(amount), loanRef, daysOverdue,
	)
	return s.deliver(ctx, to, name, subject, body)
}

func (s *Sender) deliver(ctx context.Context, to, name, subject, text string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(fmt.Sprintf("Dear %s,\n\n%s\nBest regards,\nLoan Servicing", name, text))

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	if err := s.send(ctx, e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, subject)
	return nil
}

// sendSMTP delivers e over a connection bounded by ctx. The connection
// deadline covers the greeting and every later read and write, and
// cancelling ctx closes the connection.
func sendSMTP(ctx context.Context, e *email.Email, addr string, auth smtp.Auth) (err error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	msg, err := e.Bytes()
	if err != nil {
		return err
	}
	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSendTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
	}()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return err
	}
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, rcpt := range list {
			addr, err := mail.ParseAddress(rcpt)
			if err != nil {
				return fmt.Errorf("invalid recipient address: %w", err)
			}
			if err := c.Rcpt(addr.Address); err != nil {
				return err
			}
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
