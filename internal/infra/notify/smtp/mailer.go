// Package smtp delivers notification mail over SMTP using templates embedded
// in the binary.
package smtp

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

var _ domain.Mailer = (*Mailer)(nil)

//go:embed templates/*.html
var templateFS embed.FS

// Config holds the SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer renders a named template and relays the result.
type Mailer struct {
	cfg       Config
	templates *template.Template
	send      sendFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewMailer parses the embedded templates and creates a mailer.
func NewMailer(cfg Config, log *logger.Logger, tracer trace.Tracer) (*Mailer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}

	return &Mailer{
		cfg:       cfg,
		templates: tmpl,
		send:      smtp.SendMail,
		logger:    log.With("component", "smtp_mailer"),
		tracer:    tracer,
	}, nil
}

// Send renders m.Template with m.Substitutions and delivers it to every
// recipient in a single message.
func (m *Mailer) Send(ctx context.Context, mail domain.Mail) error {
	ctx, span := m.tracer.Start(ctx, "smtp_mailer.send",
		trace.WithAttributes(
			attribute.String("template", mail.Template),
			attribute.Int("recipients", len(mail.Recipients)),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := m.render(mail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to render template")
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, mail.Recipients, m.message(mail, body)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send mail")
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}

	m.logger.Info(ctx, "Mail sent", "template", mail.Template, "recipients", len(mail.Recipients))
	return nil
}

func (m *Mailer) render(mail domain.Mail) ([]byte, error) {
	name := mail.Template
	if !strings.HasSuffix(name, ".html") {
		name += ".html"
	}
	tmpl := m.templates.Lookup(name)
	if tmpl == nil {
		return nil, fmt.Errorf("unknown mail template %q", mail.Template)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, mail.Substitutions); err != nil {
		return nil, fmt.Errorf("failed to render mail template %q: %w", mail.Template, err)
	}
	return buf.Bytes(), nil
}

func (m *Mailer) message(mail domain.Mail, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(mail.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", mail.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}
