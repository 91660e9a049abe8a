package utils

import (
	"context"
	"fmt"
	"html"
	"net/url"

	"github.com/keighl/postmark"
	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"reaction-commerce/config"
	"reaction-commerce/models"
)

// Email providers.
const (
	EmailPostmark = "postmark"
	EmailSendgrid = "sendgrid"
	EmailNone     = "none"
)

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages through a provider.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type postmarkSender struct {
	client *postmark.Client
}

func (s *postmarkSender) Send(_ context.Context, m Message) error {
	_, err := s.client.SendEmail(postmark.Email{
		From:     m.From,
		To:       m.To,
		Subject:  m.Subject,
		HtmlBody: m.HTML,
		TextBody: m.HTML,
	})
	return errors.Wrap(err, "postmark")
}

type sendgridSender struct {
	client *sendgrid.Client
}

func (s *sendgridSender) Send(ctx context.Context, m Message) error {
	msg := mail.NewSingleEmail(mail.NewEmail("", m.From), m.Subject, mail.NewEmail("", m.To), m.HTML, m.HTML)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return errors.Wrap(err, "sendgrid")
	}
	if resp.StatusCode >= 300 {
		return errors.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// logSender only logs; used when no provider is configured.
type logSender struct {
	logger logrus.FieldLogger
}

func (s *logSender) Send(_ context.Context, m Message) error {
	s.logger.WithFields(logrus.Fields{"to": m.To, "subject": m.Subject}).Info("email not sent, no provider configured")
	return nil
}

// EmailService renders and sends the shop's transactional emails.
type EmailService struct {
	sender  Sender
	from    string
	baseURL string
	logger  logrus.FieldLogger
}

// NewEmailService picks the sender named by cfg.Provider.
func NewEmailService(cfg config.EmailConfig, baseURL string, logger logrus.FieldLogger) *EmailService {
	var sender Sender
	switch cfg.Provider {
	case EmailPostmark:
		sender = &postmarkSender{client: postmark.NewClient(cfg.PostmarkToken, "")}
	case EmailSendgrid:
		sender = &sendgridSender{client: sendgrid.NewSendClient(cfg.SendgridKey)}
	default:
		sender = &logSender{logger: logger}
	}
	return NewEmailServiceWithSender(sender, cfg.Sender, baseURL, logger)
}

func NewEmailServiceWithSender(sender Sender, from, baseURL string, logger logrus.FieldLogger) *EmailService {
	return &EmailService{sender: sender, from: from, baseURL: baseURL, logger: logger.WithField("component", "email")}
}

// SendEmail sends one HTML email.
func (es *EmailService) SendEmail(ctx context.Context, toEmail, subject, htmlContent string) error {
	if toEmail == "" {
		return errors.New("no recipient")
	}
	err := es.sender.Send(ctx, Message{From: es.from, To: toEmail, Subject: subject, HTML: htmlContent})
	if err != nil {
		return errors.Wrapf(err, "failed to send %q", subject)
	}
	es.logger.WithFields(logrus.Fields{"to": toEmail, "subject": subject}).Debug("email sent")
	return nil
}

// SendVerificationEmail sends the account verification link.
func (es *EmailService) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	link := fmt.Sprintf("%s/verify?token=%s", es.baseURL, url.QueryEscape(token))
	body := fmt.Sprintf(
		"<strong>Please verify your email by clicking on the following link:</strong> <a href=\"%s\">Verify Email</a>",
		link,
	)
	return es.SendEmail(ctx, toEmail, "Verify Your Email", body)
}

// SendOrderConfirmationEmail confirms a placed order.
func (es *EmailService) SendOrderConfirmationEmail(ctx context.Context, toEmail string, order *models.Order) error {
	body := fmt.Sprintf(
		"<strong>Dear Customer,</strong><br><br>Thank you for your purchase! Your order (ID: %s) has been placed successfully.<br><br>%s<br>Thank you for shopping with us!",
		html.EscapeString(order.ID),
		orderSummary(order),
	)
	return es.SendEmail(ctx, toEmail, "Order Confirmation", body)
}

// SendPaymentStatusEmail tells the customer their payment changed status.
func (es *EmailService) SendPaymentStatusEmail(ctx context.Context, toEmail string, order *models.Order, status string) error {
	body := fmt.Sprintf(
		"<strong>Dear Customer,</strong><br><br>The payment for your order (ID: %s) is now <strong>%s</strong>.<br><br>%s",
		html.EscapeString(order.ID),
		html.EscapeString(status),
		orderSummary(order),
	)
	return es.SendEmail(ctx, toEmail, "Order Payment Update", body)
}

func orderSummary(order *models.Order) string {
	out := ""
	for _, shopID := range order.ShopIDs() {
		out += fmt.Sprintf("Total Amount: <strong>%s</strong><br>", order.TotalByShop()[shopID].StringFixed(2))
	}
	return out
}
