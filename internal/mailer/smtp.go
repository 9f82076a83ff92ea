package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPMailer delivers through a fixed SMTP relay.
type SMTPMailer struct {
	addr    string
	timeout time.Duration
	log     *slog.Logger
}

func NewSMTPMailer(addr string, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{
		addr:    addr,
		timeout: 30 * time.Second,
		log:     logger.With("component", "smtp-mailer"),
	}
}

func (m *SMTPMailer) Dispatch(ctx context.Context, msg OutboundEmail) (*Result, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Mail(msg.FromEmail); err != nil {
		return nil, fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(bareAddress(msg.To)); err != nil {
		return nil, fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(buildMIME(msg)); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish message: %w", err)
	}
	if err := client.Quit(); err != nil {
		m.log.Warn("QUIT failed after accepted message", "error", err)
	}

	return &Result{}, nil
}

func (m *SMTPMailer) connect(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return nil, fmt.Errorf("connect to relay %s: %w", m.addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(m.timeout))
	}

	host := m.addr
	if h, _, err := net.SplitHostPort(m.addr); err == nil {
		host = h
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP handshake with %s: %w", m.addr, err)
	}
	return client, nil
}

// bareAddress strips a display name, returning only the address part.
func bareAddress(recipient string) string {
	if start := strings.Index(recipient, "<"); start >= 0 {
		if end := strings.Index(recipient[start:], ">"); end > 0 {
			return recipient[start+1 : start+end]
		}
	}
	return strings.TrimSpace(recipient)
}

func buildMIME(msg OutboundEmail) []byte {
	var buf bytes.Buffer

	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), msg.FromEmail)
	}
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	const boundary = "campaign-mime-boundary"
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(msg.HTMLBody)
	buf.WriteString("\r\n")

	for _, a := range msg.Attachments {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: application/octet-stream; name=%q\r\n", a.Filename)
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n", a.Filename)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		buf.WriteString(wrapBase64(a.Content))
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// wrapBase64 folds base64 content to 76-character lines.
func wrapBase64(s string) string {
	s = strings.ReplaceAll(strings.ReplaceAll(s, "\r", ""), "\n", "")
	var buf strings.Builder
	for len(s) > 76 {
		buf.WriteString(s[:76])
		buf.WriteString("\r\n")
		s = s[76:]
	}
	buf.WriteString(s)
	return buf.String()
}

var _ Mailer = (*SMTPMailer)(nil)
