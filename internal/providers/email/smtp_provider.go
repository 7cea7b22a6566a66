package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/config"
)

// SMTPOption configures the behaviour of the SMTP provider.
type SMTPOption func(*SMTPProvider)

// WithSMTPTLSConfig overrides the TLS configuration used when negotiating STARTTLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(p *SMTPProvider) {
		p.tlsConfig = cfg
	}
}

// WithSMTPDialer swaps the network dialer used to establish SMTP connections.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(p *SMTPProvider) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithSMTPClock replaces the clock used for timestamps.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(p *SMTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPProvider implements the Provider interface against a real SMTP
// backend.
type SMTPProvider struct {
	logger    zerolog.Logger
	host      string
	port      int
	from      string
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	now       func() time.Time
}

// NewSMTPProvider constructs a Provider backed by an SMTP server.
func NewSMTPProvider(cfg config.SMTPConfig, logger zerolog.Logger, opts ...SMTPOption) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp provider: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp provider: invalid port %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp provider: from address is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &SMTPProvider{
		logger: logger,
		host:   cfg.Host,
		port:   cfg.Port,
		from:   strings.TrimSpace(cfg.From),
		dialer: &net.Dialer{Timeout: 30 * time.Second},
		now:    time.Now,
		tlsConfig: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
	}
	if strings.TrimSpace(cfg.User) != "" {
		p.auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Send delivers the payload using the configured SMTP backend.
func (p *SMTPProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("smtp provider: payload is required")
	}

	to, err := normalizeAddress(payload.To)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: invalid recipient: %w", err)
	}

	from := strings.TrimSpace(payload.From)
	if from == "" {
		from = p.from
	}
	envelopeFrom, err := normalizeAddress(from)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: invalid from address: %w", err)
	}

	resp := &RawResponse{
		ID:        payload.MessageID,
		Timestamp: p.now(),
	}

	message := p.buildMessage(payload, from, to)
	if err := p.deliver(ctx, envelopeFrom, to, message); err != nil {
		resp.Code, resp.Body = classifySMTPError(err)
		if resp.Body == "" {
			resp.Body = err.Error()
		}
		return resp, err
	}

	resp.Code = 250
	resp.Body = "smtp: message accepted"
	return resp, nil
}

func (p *SMTPProvider) deliver(ctx context.Context, from, to string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp provider: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	client, err := smtp.NewClient(conn, p.host)
	if err != nil {
		return fmt.Errorf("smtp provider: new client: %w", err)
	}
	defer client.Close()

	if cfg := p.tlsConfig; cfg != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(cfg.Clone()); err != nil {
				return fmt.Errorf("smtp provider: starttls: %w", err)
			}
		}
	}

	if p.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(p.auth); err != nil {
				return fmt.Errorf("smtp provider: auth: %w", err)
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp provider: mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp provider: rcpt to %s: %w", to, err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp provider: data: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp provider: data write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp provider: data close: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp provider: quit: %w", err)
	}

	return ctx.Err()
}

func (p *SMTPProvider) buildMessage(payload *Payload, from, to string) []byte {
	var buf bytes.Buffer
	writeHeader := func(key, value string) {
		if value == "" {
			return
		}
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(sanitizeHeaderValue(value))
		buf.WriteString("\r\n")
	}

	writeHeader("From", from)
	writeHeader("To", to)
	writeHeader("Subject", payload.Subject)
	writeHeader("Date", p.now().UTC().Format(time.RFC1123Z))
	if payload.MessageID != "" {
		writeHeader("Message-Id", fmt.Sprintf("<%s@%s>", payload.MessageID, p.host))
	}
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")

	buf.WriteString("\r\n")
	buf.WriteString(normalizeBody(payload.Body))
	return buf.Bytes()
}

func normalizeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", errors.New("empty address")
	}
	return addr.Address, nil
}

func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}

func classifySMTPError(err error) (int, string) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, strings.TrimSpace(tpErr.Msg)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return 0, "smtp: timeout"
	}
	return 0, ""
}
