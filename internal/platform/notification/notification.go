// Package notification sends consent signature requests to patients by SMS or
// email, rendering the message from named templates.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/orderconsole/internal/domain/consent"
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

// NotificationType represents the channel used to deliver a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSMS   NotificationType = "sms"
)

// Notification represents a single outbound notification.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Recipient  string           `json:"recipient"`
	Subject    string           `json:"subject,omitempty"`
	Body       string           `json:"body"`
	TemplateID string           `json:"template_id,omitempty"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	SentAt     *time.Time       `json:"sent_at,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogSender writes messages to the log instead of a gateway. It is the
// sender used when no SMS or mail provider is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email notification")
	return nil
}

func (s LogSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().Str("to", to).Str("body", body).Msg("sms notification")
	return nil
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

const (
	TemplateConsentSMS   = "consent-request-sms"
	TemplateConsentEmail = "consent-request-email"
)

// Template defines a reusable notification template.
type Template struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"`
	Type    NotificationType `json:"type"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the consent templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:   TemplateConsentSMS,
			Name: "Consent Request (SMS)",
			Body: "{{patient_name}}, your care team needs your signature before ordering {{item_name}}. Sign here: {{sign_link}}",
			Type: TypeSMS,
		},
		{
			ID:      TemplateConsentEmail,
			Name:    "Consent Request (Email)",
			Subject: "Signature needed: {{item_name}}",
			Body:    "Dear {{patient_name}}, your care team has requested your consent for {{item_name}}. Please review and sign at {{sign_link}}. Reference: {{request_id}}.",
			Type:    TypeEmail,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Consent Notifier
// ---------------------------------------------------------------------------

var ErrNoRecipient = consent.ErrNoRecipient

// Notifier delivers consent signature requests as SMS or email, depending on
// the shape of the recipient address. It implements consent.SignatureChannel.
type Notifier struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	signURL   string
	logger    zerolog.Logger
	now       func() time.Time

	mu   sync.Mutex
	sent []*Notification
}

// NewNotifier constructs a Notifier. signURL is the base of the link the
// patient follows; the request id is appended to it.
func NewNotifier(email EmailSender, sms SMSSender, tpl *TemplateEngine, signURL string, logger zerolog.Logger) *Notifier {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Notifier{
		email:     email,
		sms:       sms,
		templates: tpl,
		signURL:   strings.TrimRight(signURL, "/"),
		logger:    logger,
		now:       time.Now,
	}
}

var _ consent.SignatureChannel = (*Notifier)(nil)

// RequestSignature renders the consent template for the request and sends it.
func (n *Notifier) RequestSignature(ctx context.Context, req consent.SignatureRequest) error {
	to := strings.TrimSpace(req.Recipient)
	if to == "" {
		return ErrNoRecipient
	}

	typ, templateID := TypeSMS, TemplateConsentSMS
	if strings.Contains(to, "@") {
		typ, templateID = TypeEmail, TemplateConsentEmail
	}
	subject, body, err := n.templates.Render(templateID, map[string]string{
		"patient_name": req.PatientName,
		"item_name":    req.ItemName,
		"request_id":   req.RequestID,
		"sign_link":    n.signURL + "/" + req.RequestID,
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	msg := &Notification{
		ID:         uuid.New().String(),
		Type:       typ,
		Recipient:  to,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		Status:     "pending",
		CreatedAt:  n.now().UTC(),
	}
	err = n.send(ctx, msg)
	n.record(msg)
	if err != nil {
		n.logger.Warn().Err(err).
			Str("draft_id", req.DraftID).
			Str("item_id", req.ItemID).
			Str("channel", string(typ)).
			Msg("consent notification failed")
		return err
	}
	n.logger.Debug().
		Str("draft_id", req.DraftID).
		Str("item_id", req.ItemID).
		Str("request_id", req.RequestID).
		Str("channel", string(typ)).
		Msg("consent notification sent")
	return nil
}

func (n *Notifier) send(ctx context.Context, msg *Notification) error {
	var err error
	switch msg.Type {
	case TypeEmail:
		if n.email == nil {
			err = fmt.Errorf("no email sender configured")
			break
		}
		err = n.email.SendEmail(ctx, msg.Recipient, msg.Subject, msg.Body)
	case TypeSMS:
		if n.sms == nil {
			err = fmt.Errorf("no sms sender configured")
			break
		}
		err = n.sms.SendSMS(ctx, msg.Recipient, msg.Body)
	default:
		err = fmt.Errorf("unsupported notification type: %s", msg.Type)
	}

	if err != nil {
		msg.Status = "failed"
		msg.Error = err.Error()
		return err
	}
	msg.Status = "sent"
	sentAt := n.now().UTC()
	msg.SentAt = &sentAt
	return nil
}

// maxHistory bounds the in-memory record of sent notifications.
const maxHistory = 256

func (n *Notifier) record(msg *Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	if len(n.sent) > maxHistory {
		n.sent = n.sent[len(n.sent)-maxHistory:]
	}
}

// Sent returns the most recent notifications, oldest first.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	for i, m := range n.sent {
		out[i] = *m
	}
	return out
}

// Stats returns counts of notifications grouped by status.
func (n *Notifier) Stats() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	stats := make(map[string]int)
	for _, m := range n.sent {
		stats[m.Status]++
	}
	return stats
}
