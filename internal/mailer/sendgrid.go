package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zaibshamsi/Brofessor/internal/logger"
)

const notificationSubject = "New Notification from Brofessor"

// Mailer delivers a broadcast notification by email.
type Mailer interface {
	SendNotification(ctx context.Context, message string, recipients []string) error
}

type Config struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// Noop is used when no email provider is configured.
type Noop struct{}

func (Noop) SendNotification(context.Context, string, []string) error { return nil }

type SendGrid struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func NewSendGrid(log *logger.Logger, cfg Config) (*SendGrid, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("missing SENDGRID_FROM_EMAIL")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SendGrid{
		log:        log.With("client", "SendGridClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	return fmt.Sprintf("sendgrid http %d: %s", e.StatusCode, msg)
}

// SendNotification sends one email per recipient so addresses are never
// disclosed to each other. Every recipient is attempted; the joined error
// lists the ones that failed.
func (s *SendGrid) SendNotification(ctx context.Context, message string, recipients []string) error {
	var errs []error
	for _, to := range recipients {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}
		req := mailSendRequest{
			Personalizations: []personalization{{To: []emailAddress{{Email: to}}}},
			From:             emailAddress{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
			Subject:          notificationSubject,
			Content: []mailContent{
				{Type: "text/plain", Value: "You have a new notification:\n\n" + message},
				{Type: "text/html", Value: renderHTML(message)},
			},
		}
		if err := s.post(ctx, "/v3/mail/send", req); err != nil {
			s.log.Warn("Failed to send notification email", "to", to, "error", err)
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SendGrid) post(ctx context.Context, path string, body any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return nil
}

func renderHTML(message string) string {
	return `<div style="font-family: sans-serif; padding: 20px; color: #333; max-width: 600px; margin: auto;">` +
		`<h2 style="color: #4338ca;">Hello!</h2>` +
		`<p>You have a new notification:</p>` +
		`<div style="background-color: #f3f4f6; border-left: 4px solid #6366f1; padding: 15px; margin: 20px 0;">` +
		`<p style="margin: 0; white-space: pre-wrap;">` + html.EscapeString(message) + `</p></div>` +
		`<p>Please log in to the application to see more details.</p>` +
		`<p>Best regards,<br/><strong>The Brofessor Team</strong></p></div>`
}
