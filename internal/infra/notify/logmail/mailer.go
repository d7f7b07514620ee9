// Package logmail provides a Mailer that only logs what would have been sent.
// It is used when no SMTP relay is configured.
package logmail

import (
	"context"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

var _ domain.Mailer = (*Mailer)(nil)

type Mailer struct {
	logger *logger.Logger
}

func NewMailer(log *logger.Logger) *Mailer {
	return &Mailer{logger: log.With("component", "log_mailer")}
}

// Send logs the envelope of m. Substitutions are not logged.
func (m *Mailer) Send(ctx context.Context, mail domain.Mail) error {
	m.logger.Info(ctx, "Mail delivery disabled, logging notification",
		"template", mail.Template,
		"recipients", mail.Recipients,
		"subject", mail.Subject,
	)
	return nil
}
