package email

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/loan-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

func newTestSender(send func(ctx context.Context, e *email.Email, addr string, auth smtp.Auth) error) *Sender {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{SMTPHost: "smtp.test", SMTPPort: "2525", SenderEmail: "payments@example.com"}
	s := NewSender(cfg, logger)
	s.send = send
	return s
}

func TestSender_Messages(t *testing.T) {
	var sent []*email.Email
	var addrs []string
	s := newTestSender(func(ctx context.Context, e *email.Email, addr string, auth smtp.Auth) error {
		sent = append(sent, e)
		addrs = append(addrs, addr)
		return nil
	})
	ctx := context.Background()

	if err := s.SendPaymentConfirmation(ctx, "ann@example.com", "Ann", "AL-1", 19101, "Visa ****4242"); err != nil {
		t.Fatalf("SendPaymentConfirmation: %v", err)
	}
	if err := s.SendPaymentFailed(ctx, "ann@example.com", "Ann", "AL-1", 19101, "card declined"); err != nil {
		t.Fatalf("SendPaymentFailed: %v", err)
	}
	if err := s.SendReminder(ctx, "ann@example.com", "Ann", "AL-1", 19101, 1); err != nil {
		t.Fatalf("SendReminder: %v", err)
	}
	if err := s.SendOverdue(ctx, "ann@example.com", "Ann", "AL-1", 19101, 4); err != nil {
		t.Fatalf("SendOverdue: %v", err)
	}

	if err := s.SendDelinquency(ctx, "ann@example.com", "Ann", "AL-1", 19101, 31); err != nil {
		t.Fatalf("SendDelinquency: %v", err)
	}

	if len(sent) != 5 {
		t.Fatalf("sent %d emails, want 5", len(sent))
	}
	checks := []struct {
		subject string
		body    string
	}{
		{"Payment Received - Loan AL-1", "$191.01 for loan AL-1 was charged to Visa ****4242"},
		{"Payment Failed - Loan AL-1", "Payment failed: card declined"},
		{"Payment Due in 1 day - Loan AL-1", "is due in 1 day."},
		{"Overdue Payment Notice - Loan AL-1", "is 4 day(s) overdue"},
		{"Urgent: Loan AL-1 Is Delinquent", "now 31 days overdue and the loan is delinquent"},
	}
	for i, c := range checks {
		if sent[i].Subject != c.subject {
			t.Errorf("email %d subject = %q, want %q", i, sent[i].Subject, c.subject)
		}
		if !strings.Contains(string(sent[i].Text), c.body) {
			t.Errorf("email %d body %q missing %q", i, sent[i].Text, c.body)
		}
		if sent[i].From != "payments@example.com" || sent[i].To[0] != "ann@example.com" {
			t.Errorf("email %d has wrong envelope: %s -> %v", i, sent[i].From, sent[i].To)
		}
		if addrs[i] != "smtp.test:2525" {
			t.Errorf("email %d sent to %s", i, addrs[i])
		}
	}
}

func TestSender_SendError(t *testing.T) {
	s := newTestSender(func(ctx context.Context, e *email.Email, addr string, auth smtp.Auth) error {
		return errors.New("connection refused")
	})
	err := s.SendReminder(context.Background(), "ann@example.com", "Ann", "AL-1", 100, 7)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped send error, got %v", err)
	}
}

func TestSender_Timeout(t *testing.T) {
	s := newTestSender(func(ctx context.Context, e *email.Email, addr string, auth smtp.Auth) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.SendOverdue(ctx, "ann@example.com", "Ann", "AL-1", 100, 2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func newSMTPSender(t *testing.T, ln net.Listener) *Sender {
	t.Helper()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{SMTPHost: host, SMTPPort: port, SenderEmail: "payments@example.com"}
	return NewSender(cfg, logger)
}

func TestSender_SilentServerReleasesConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// accept connections and never send the greeting
	closed := make(chan struct{}, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(io.Discard, conn)
				closed <- struct{}{}
			}()
		}
	}()

	s := newSMTPSender(t, ln)
	const sends = 5
	for i := 0; i < sends; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		start := time.Now()
		err := s.SendReminder(ctx, "ann@example.com", "Ann", "AL-1", 100, 3)
		cancel()
		if err == nil {
			t.Fatal("expected an error from a silent server")
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("send took %v", elapsed)
		}
	}

	// every client connection must be closed once its send returns
	for i := 0; i < sends; i++ {
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d connections were closed by the sender", i, sends)
		}
	}
}

func TestSender_DeliversOverSMTP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(line string) { io.WriteString(conn, line+"\r\n") }

		reply("220 test ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 test")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 ok")
			case cmd == "DATA":
				inData = true
				reply("354 go ahead")
			case cmd == "QUIT":
				reply("221 bye")
				received <- data.String()
				return
			default:
				reply("502 unsupported")
			}
		}
	}()

	s := newSMTPSender(t, ln)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.SendReminder(ctx, "ann@example.com", "Ann", "AL-1", 19101, 7); err != nil {
		t.Fatalf("SendReminder: %v", err)
	}

	select {
	case msg := <-received:
		if !strings.Contains(msg, "Payment Due in 7 days - Loan AL-1") {
			t.Errorf("message missing subject: %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}
}
