package email

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPBuildMessage(t *testing.T) {
	p := NewSMTP()
	p.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	raw, err := p.build(Identity{
		Host:        "smtp.acme.test",
		Port:        587,
		FromAddress: "billing@acme.test",
		FromName:    "Acme Billing",
	}, Message{
		To:        "jane@customer.test",
		ToName:    "Jane",
		Subject:   "Zahlungserinnerung Rechnung 42",
		HTMLBody:  "<p>Bitte zahlen</p>",
		TextBody:  "Bitte zahlen",
		MessageID: "fixed",
	})
	require.NoError(t, err)

	out := string(raw)
	assert.Contains(t, out, "From: \"Acme Billing\" <billing@acme.test>\r\n")
	assert.Contains(t, out, "To: \"Jane\" <jane@customer.test>\r\n")
	assert.Contains(t, out, "Message-ID: <fixed@acme.test>\r\n")
	assert.Contains(t, out, "Date: Tue, 03 Feb 2026 04:05:06 +0000\r\n")
	assert.Contains(t, out, "text/html; charset=utf-8")
	assert.Contains(t, out, "<p>Bitte zahlen</p>")
	assert.True(t, strings.Contains(out, "multipart/alternative; boundary="))
}

func TestSMTPSendRejectsIncompleteIdentity(t *testing.T) {
	err := NewSMTP().Send(context.Background(), Identity{Host: "smtp.acme.test"}, Message{To: "jane@customer.test"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = NewSMTP().Send(context.Background(), Identity{Host: "h", Port: 25, FromAddress: "a@b.c"}, Message{To: "not an address"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSMTPSendHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewSMTP().Send(ctx, Identity{Host: "127.0.0.1", Port: 1, FromAddress: "a@b.test"}, Message{To: "c@d.test"})
	assert.Error(t, err)
}

// fakeSMTPServer accepts one TLS session, answers the SMTP commands net/smtp
// sends and reports the DATA payload.
func fakeSMTPServer(t *testing.T, ln net.Listener) <-chan string {
	t.Helper()
	received := make(chan string, 1)
	go func() {
		defer close(received)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 mail.acme.test ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch cmd {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250-mail.acme.test")
				_ = tp.PrintfLine("250 8BITMIME")
			case "MAIL", "RCPT", "RSET", "NOOP":
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				received <- strings.Join(lines, "\n")
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return received
}

func TestSMTPSendImplicitTLS(t *testing.T) {
	certSrv := httptest.NewTLSServer(http.NotFoundHandler())
	defer certSrv.Close()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: certSrv.TLS.Certificates})
	require.NoError(t, err)
	defer ln.Close()
	received := fakeSMTPServer(t, ln)

	roots := x509.NewCertPool()
	roots.AddCert(certSrv.Certificate())

	port := ln.Addr().(*net.TCPAddr).Port
	p := NewSMTP()
	p.tlsPort = port
	p.tlsConfig = &tls.Config{RootCAs: roots}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Send(ctx, Identity{
		Host:        "127.0.0.1",
		Port:        port,
		FromAddress: "billing@acme.test",
	}, Message{To: "jane@customer.test", Subject: "Reminder", TextBody: "Please pay"})
	require.NoError(t, err)

	body := <-received
	assert.Contains(t, body, "To: <jane@customer.test>")
	assert.Contains(t, body, "Please pay")
}

func TestSMTPDialChoosesTLSByPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	p := NewSMTP()
	assert.Equal(t, ImplicitTLSPort, p.tlsPort)

	conn, err := p.dial(context.Background(), Identity{Host: "127.0.0.1", Port: port}, ln.Addr().String())
	require.NoError(t, err)
	_, isTLS := conn.(*tls.Conn)
	assert.False(t, isTLS)
	_ = conn.Close()

	// A plain listener on the TLS port fails the handshake instead of hanging.
	p.tlsPort = port
	p.dialTimeout = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		_ = (<-accepted).Close()
		conn := <-accepted
		_, _ = bufio.NewReader(conn).ReadByte()
		_, _ = conn.Write([]byte("220 plain ESMTP\r\n"))
		_ = conn.Close()
	}()
	_, err = p.dial(ctx, Identity{Host: "127.0.0.1", Port: port}, ln.Addr().String())
	assert.Error(t, err)
}
