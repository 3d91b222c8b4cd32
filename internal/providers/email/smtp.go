package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidMessage = errors.New("invalid_email_message")

// ImplicitTLSPort is the submissions port, where TLS starts before the SMTP
// greeting instead of through STARTTLS.
const ImplicitTLSPort = 465

type SMTPProvider struct {
	dialTimeout time.Duration
	now         func() time.Time
	tlsPort     int
	tlsConfig   *tls.Config
}

func NewSMTP() *SMTPProvider {
	return &SMTPProvider{
		dialTimeout: 10 * time.Second,
		now:         time.Now,
		tlsPort:     ImplicitTLSPort,
	}
}

// Send delivers msg through the tenant's SMTP server. The whole exchange is
// bounded by ctx.
func (p *SMTPProvider) Send(ctx context.Context, identity Identity, msg Message) error {
	if identity.Host == "" || identity.Port <= 0 || identity.FromAddress == "" {
		return fmt.Errorf("%w: incomplete sender identity", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("%w: recipient: %v", ErrInvalidMessage, err)
	}

	raw, err := p.build(identity, msg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(identity.Host, strconv.Itoa(identity.Port))
	conn, err := p.dial(ctx, identity, addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// Unblock the exchange when ctx ends without a deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, identity.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(p.clientTLS(identity.Host)); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if identity.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", identity.Username, identity.Password, identity.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(identity.FromAddress); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return client.Quit()
}

// dial opens a TLS connection on the implicit TLS port and plain TCP
// elsewhere. Plain connections upgrade through STARTTLS when offered.
func (p *SMTPProvider) dial(ctx context.Context, identity Identity, addr string) (net.Conn, error) {
	netDialer := &net.Dialer{Timeout: p.dialTimeout}
	if identity.Port != p.tlsPort {
		return netDialer.DialContext(ctx, "tcp", addr)
	}
	dialer := &tls.Dialer{NetDialer: netDialer, Config: p.clientTLS(identity.Host)}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (p *SMTPProvider) clientTLS(host string) *tls.Config {
	if p.tlsConfig == nil {
		return &tls.Config{ServerName: host}
	}
	cfg := p.tlsConfig.Clone()
	cfg.ServerName = host
	return cfg
}

func (p *SMTPProvider) build(identity Identity, msg Message) ([]byte, error) {
	messageID := msg.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	to := mail.Address{Name: msg.ToName, Address: msg.To}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var buf bytes.Buffer
	header := func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	header("From", identity.From())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", p.now().UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+messageID+"@"+domainOf(identity.FromAddress)+">")
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.TextBody},
		{"text/html; charset=utf-8", msg.HTMLBody},
	}
	for _, part := range parts {
		if part.content == "" {
			continue
		}
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "localhost"
}
