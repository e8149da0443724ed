// Package notifychan holds the optional escalation channels fired when
// the primary WhatsApp send path is exhausted, adapted from the
// teacher's internal/transport/sender email implementation onto
// entity.Notification instead of a generic recipient/payload pair.
package notifychan

import (
	"context"
	"fmt"

	"notifyrelay/internal/entity"

	"github.com/wb-go/wbf/logger"
	"gopkg.in/gomail.v2"
)

// EmailSender relays a permanently-failed notification to an
// operations mailbox. It is wired in only when EMAIL_ENABLED is set;
// the Processor never holds a live instance otherwise.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
	to     string
	log    logger.Logger
}

func NewEmailSender(smtpHost string, smtpPort int, username, password, from, to string, log logger.Logger) *EmailSender {
	dialer := gomail.NewDialer(smtpHost, smtpPort, username, password)

	log.LogAttrs(context.Background(), logger.InfoLevel, "email escalation sender initialized", logger.Any("smtp_host", smtpHost), logger.Any("smtp_port", smtpPort), logger.Any("from", from), logger.Any("to", to))

	return &EmailSender{dialer: dialer, from: from, to: to, log: log}
}

// Send emails a summary of a notification that exhausted its retries.
func (s *EmailSender) Send(ctx context.Context, n entity.Notification) error {
	errMsg := "unknown error"
	if n.LastErrorMessage != nil {
		errMsg = *n.LastErrorMessage
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", s.to)
	msg.SetHeader("Subject", fmt.Sprintf("notification %s exhausted retries", n.ID))
	msg.SetBody("text/plain", fmt.Sprintf(
		"notification_id: %s\ntenant_id: %s\nrecipient: %s\nevent_type: %s\nattempts: %d/%d\nerror: %s\n",
		n.ID, n.TenantID, n.RecipientPhone, n.EventType, n.AttemptNumber, n.MaxAttempts, errMsg,
	))

	s.log.LogAttrs(ctx, logger.DebugLevel, "sending escalation email", logger.Any("notification_id", n.ID.String()))

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("notifychan.EmailSender.Send: %w", err)
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "escalation email sent", logger.Any("notification_id", n.ID.String()))
	return nil
}
