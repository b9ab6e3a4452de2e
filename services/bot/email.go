package bot

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Notifier is an extra alert channel for the scheduler.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type SmtpConfig struct {
	Server       string
	Port         int
	EmailAddress string
	Password     string
	Recipients   []string
}

// EmailNotifier mails scheduled alerts to a fixed list of recipients.
type EmailNotifier struct {
	config SmtpConfig
}

func NewEmailNotifier(config SmtpConfig) EmailNotifier {
	return EmailNotifier{config: config}
}

func (n EmailNotifier) addr() string {
	return fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
}

// messageBodies turns a chat message into an html body with line breaks
// and its plain text equivalent.
func messageBodies(message string) (htmlBody, textBody string) {
	htmlBody = strings.ReplaceAll(message, "\n", "<br>\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(message))
	if err != nil {
		return htmlBody, message
	}
	return htmlBody, doc.Text()
}

func (n EmailNotifier) Notify(ctx context.Context, message string) error {
	ctx, span := tracer.Start(ctx, "EmailNotifier.Notify")
	defer span.End()
	span.SetAttributes(attribute.Int("recipients", len(n.config.Recipients)))

	htmlBody, textBody := messageBodies(message)

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Samezu Bot <%s>", n.config.EmailAddress)
	mail.To = n.config.Recipients
	mail.Subject = "Driving test reservation slots available"
	mail.Text = []byte(textBody)
	mail.HTML = []byte(htmlBody)

	err := mail.Send(
		n.addr(),
		smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(n.addr(), nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
