// Package mail implements the outbound SMTP transport and the IMAP reply
// reader. Both classify wire failures into the shared error taxonomy at
// this boundary; nothing above the mail package inspects SMTP codes.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadflow/internal/logging"
	"leadflow/internal/types"
)

// SenderOptions configures the SMTP transport.
type SenderOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender implements types.Transport over SMTP with STARTTLS.
type Sender struct {
	opts SenderOptions
}

// NewSender builds the transport. Host and From are required; Port defaults
// to 587.
func NewSender(opts SenderOptions) (*Sender, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("smtp from address required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &Sender{opts: opts}, nil
}

// Send delivers one plain-text message. The context deadline bounds the
// whole SMTP conversation.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifySMTP(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Port 465 speaks TLS from the first byte; everything else upgrades
	// via STARTTLS.
	if s.opts.Port == 465 {
		conn = tls.Client(conn, &tls.Config{ServerName: s.opts.Host})
	}

	c, err := smtp.NewClient(conn, s.opts.Host)
	if err != nil {
		conn.Close()
		return classifySMTP(err)
	}
	defer c.Close()

	if s.opts.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.opts.Host}); err != nil {
				return classifySMTP(err)
			}
		}
	}

	if s.opts.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)
			if err := c.Auth(auth); err != nil {
				return classifySMTP(err)
			}
		}
	}

	if err := c.Mail(s.opts.From); err != nil {
		return classifySMTP(err)
	}
	if err := c.Rcpt(to); err != nil {
		return classifySMTP(err)
	}

	w, err := c.Data()
	if err != nil {
		return classifySMTP(err)
	}
	if _, err := w.Write(buildMessage(s.opts.From, to, subject, body)); err != nil {
		w.Close()
		return classifySMTP(err)
	}
	if err := w.Close(); err != nil {
		return classifySMTP(err)
	}

	logging.MailDebug("smtp delivered to=%s subject=%q", to, subject)

	// The server accepted the message when the DATA writer closed; a failed
	// QUIT must not look like a failed send or the lead would be retried
	// and mailed twice.
	if err := c.Quit(); err != nil {
		logging.MailDebug("smtp quit after delivery: %v", err)
	}
	return nil
}

// buildMessage assembles a plain-text RFC 5322 message.
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), hostPart(from))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func hostPart(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// classifySMTP maps wire failures onto the taxonomy: 4xx and network
// errors retry, 5xx do not, credential rejections surface as auth.
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
			return &types.PermanentServiceError{Service: "smtp", Auth: true, Err: err}
		case tpErr.Code >= 400 && tpErr.Code < 500:
			return &types.TransientServiceError{Service: "smtp", Err: err}
		case tpErr.Code >= 500:
			return &types.PermanentServiceError{Service: "smtp", Err: err}
		}
	}

	// Dial failures, timeouts, dropped connections: worth retrying.
	return &types.TransientServiceError{Service: "smtp", Err: err}
}
