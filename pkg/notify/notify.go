// Package notify delivers the daily collections digest of delinquent credits.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"github.com/mcclellann/fredCredit/pkg/config"
	"github.com/mcclellann/fredCredit/pkg/delinquency"
	"github.com/sirupsen/logrus"
)

// Notifier sends the collections digest.
type Notifier interface {
	SendCollectionsDigest(ctx context.Context, asOf time.Time, entries []delinquency.Entry) error
}

// EmailNotifier mails the digest via SMTP
type EmailNotifier struct {
	cfg    config.SMTPConfig
	logger logrus.FieldLogger
	send   func(e *email.Email) error
}

// NewEmailNotifier creates a new email sender
func NewEmailNotifier(cfg config.SMTPConfig, logger logrus.FieldLogger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		var auth smtp.Auth
		if cfg.User != "" {
			auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
		}
		return e.Send(addr, auth)
	}
	return n
}

// SendCollectionsDigest mails the list of delinquent credits. Nothing is sent when
// the list is empty.
func (n *EmailNotifier) SendCollectionsDigest(ctx context.Context, asOf time.Time, entries []delinquency.Entry) error {
	if len(entries) == 0 {
		n.logger.Infof("No delinquent credits as of %s, digest skipped", asOf.Format("2006-01-02"))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = n.cfg.To
	e.Subject = fmt.Sprintf("Collections digest %s: %d delinquent credits", asOf.Format("2006-01-02"), len(entries))
	e.Text = []byte(DigestBody(asOf, entries))

	if err := n.send(e); err != nil {
		n.logger.Errorf("Failed to send collections digest to %s: %v", strings.Join(e.To, ", "), err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ", "), e.Subject)
	return nil
}

// DigestBody renders the plain text digest, one line per credit.
func DigestBody(asOf time.Time, entries []delinquency.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Delinquent credits as of %s\n\n", asOf.Format("2006-01-02"))
	for _, entry := range entries {
		fmt.Fprintf(&b, "- credit %s (client %s): %d overdue installments, %s overdue, oldest due %s (%d days)\n",
			entry.Credit.ID,
			entry.Credit.ClientID,
			entry.OverdueCount,
			entry.OverdueAmount.StringFixed(2),
			entry.OldestDueDate.Format("2006-01-02"),
			entry.DaysPastDue(asOf),
		)
	}
	b.WriteString("\nCredit Back Office")
	return b.String()
}

// LogNotifier writes the digest to the log; used when SMTP is disabled.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendCollectionsDigest(_ context.Context, asOf time.Time, entries []delinquency.Entry) error {
	for _, entry := range entries {
		n.logger.WithFields(logrus.Fields{
			"credit_id":      entry.Credit.ID,
			"client_id":      entry.Credit.ClientID,
			"overdue_count":  entry.OverdueCount,
			"overdue_amount": entry.OverdueAmount.StringFixed(2),
			"days_past_due":  entry.DaysPastDue(asOf),
		}).Warn("Delinquent credit")
	}
	return nil
}
