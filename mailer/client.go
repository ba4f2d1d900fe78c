// Package mailer sends the two transactional photo-ID emails over SMTP:
// the customer-facing re-upload request and the staff "ID received"
// notification.
package mailer

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"github.com/wneessen/go-mail"
)

type Client struct {
	settings config.Settings
}

func NewClient(settings config.Settings) *Client {
	return &Client{settings: settings}
}

// Enabled reports whether SMTP is configured at all. Without it sends are
// graceful no-ops so checkout never depends on a mail server.
func (c *Client) Enabled() bool {
	return c.settings.SMTPHost != ""
}

// SendRequestEmail mails the customer a token-gated upload link, with the
// order summary and an optional staff note.
func (c *Client) SendRequestEmail(ctx context.Context, order *models.Order, uploadURL, customNote string) error {
	if !c.Enabled() {
		return nil
	}
	data := requestEmailData{
		SiteTitle:    c.settings.SiteTitle,
		OrderNumber:  order.OrderNumber,
		CustomerName: order.CustomerName,
		UploadURL:    uploadURL,
		CustomNote:   customNote,
		LineItems:    order.LineItems,
		Heading:      c.settings.RequestHeading,
	}
	subject := renderRequestSubject(c.settings, order)
	body, err := renderRequestBody(data)
	if err != nil {
		return err
	}
	return c.send(ctx, order.CustomerEmail, subject, body)
}

// SendAdminNotification tells staff a customer's ID arrived.
func (c *Client) SendAdminNotification(ctx context.Context, order *models.Order, ledger *models.PhotoIDLedger) error {
	if !c.Enabled() {
		return nil
	}
	if !c.settings.AdminNotification {
		return nil
	}
	if c.settings.AdminEmail == "" {
		return errors.New("PHOTOID_ADMIN_EMAIL is not set")
	}
	data := adminEmailData{
		SiteTitle:        c.settings.SiteTitle,
		OrderNumber:      order.OrderNumber,
		CustomerName:     order.CustomerName,
		OriginalFilename: ledger.OriginalFilename,
		SizeBytes:        ledger.SizeBytes,
	}
	subject, body, err := renderAdminNotification(data)
	if err != nil {
		return err
	}
	return c.send(ctx, c.settings.AdminEmail, subject, body)
}

func (c *Client) send(ctx context.Context, to, subject, htmlBody string) error {
	m := mail.NewMsg()
	if err := m.From(c.settings.MailFrom); err != nil {
		return err
	}
	if err := m.To(to); err != nil {
		return err
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, htmlBody)

	opts := []mail.Option{
		mail.WithPort(c.settings.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if c.settings.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.settings.SMTPUser),
			mail.WithPassword(c.settings.SMTPPass),
		)
	}
	client, err := mail.NewClient(c.settings.SMTPHost, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}
