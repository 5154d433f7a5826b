package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"research_workflow_engine/internal/domain/delivery"
)

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPGateway sends rendered notifications over SMTP.
type SMTPGateway struct {
	cfg      SMTPConfig
	hostname string
	// timeout bounds one whole SMTP conversation on the wire.
	timeout  time.Duration
	dialer   net.Dialer
	sendMail func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPGateway(cfg SMTPConfig) *SMTPGateway {
	g := &SMTPGateway{cfg: cfg, hostname: "research-workflow.local", timeout: time.Minute}
	g.sendMail = g.deliver
	return g
}

// Send delivers msg. The notification id becomes the Message-ID so a relay
// can drop duplicates from ambiguous retries.
func (g *SMTPGateway) Send(ctx context.Context, msg delivery.Message) (delivery.Receipt, error) {
	if _, err := mail.ParseAddress(msg.ToEmail); err != nil {
		return delivery.Receipt{}, delivery.NewTransportError("address", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", msg.IdempotencyKey, g.hostname)
	raw, err := buildMIME(g.cfg.From, msg, messageID, time.Now())
	if err != nil {
		return delivery.Receipt{}, delivery.NewTransportError("build", err)
	}

	var auth smtp.Auth
	if g.cfg.Username != "" {
		auth = smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.Host)
	}
	addr := net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port))

	if err := g.sendMail(ctx, addr, auth, g.cfg.From, []string{msg.ToEmail}, raw); err != nil {
		return delivery.Receipt{}, delivery.NewTransportError("send", err)
	}
	return delivery.Receipt{MessageID: messageID}, nil
}

// deliver runs one SMTP conversation. Cancelling ctx closes the connection,
// so no goroutine outlives the call.
func (g *SMTPGateway) deliver(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, raw []byte) error {
	err := g.converse(ctx, addr, auth, from, to, raw)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (g *SMTPGateway) converse(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, raw []byte) error {
	conn, err := g.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(g.timeout)); err != nil {
		_ = conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, g.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Hello(g.hostname); err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: g.cfg.Host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("server does not support AUTH")
		}
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMIME(from string, msg delivery.Message, messageID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	to := (&mail.Address{Name: msg.ToName, Address: msg.ToEmail}).String()

	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", messageID)
	header("MIME-Version", "1.0")

	if len(msg.Attachments) == 0 {
		header("Content-Type", `text/html; charset="utf-8"`)
		header("Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		writeBase64(&buf, []byte(msg.HTMLBody))
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", `multipart/mixed; boundary="`+mw.Boundary()+`"`)
	buf.WriteString("\r\n")

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/html; charset="utf-8"`},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	writeBase64(part, []byte(msg.HTMLBody))

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {ct},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
		})
		if err != nil {
			return nil, err
		}
		writeBase64(part, a.Data)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64 wraps encoded output at 76 columns.
func writeBase64(w io.Writer, data []byte) {
	enc := base64.StdEncoding.EncodeToString(data)
	var sb strings.Builder
	for len(enc) > 76 {
		sb.WriteString(enc[:76])
		sb.WriteString("\r\n")
		enc = enc[76:]
	}
	sb.WriteString(enc)
	sb.WriteString("\r\n")
	_, _ = io.WriteString(w, sb.String())
}
