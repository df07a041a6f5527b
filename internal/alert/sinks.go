package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/vitalsd/internal/logger"
	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Vitalsd-Signature"

// ConsoleSink writes alerts to the log.
type ConsoleSink struct {
	log logger.Logger
}

func NewConsoleSink(log logger.Logger) *ConsoleSink {
	return &ConsoleSink{log: log.With("alert-console")}
}

func (*ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Deliver(_ context.Context, alerts []Alert) error {
	for _, a := range alerts {
		ev := c.log.Warn()
		if a.Severity == SeverityCritical {
			ev = c.log.Error()
		}
		ev.Str("type", string(a.Type)).Str("severity", string(a.Severity)).
			Str("route", a.Route).Str("metric", string(a.Metric)).
			Time("raised_at", a.Time()).Msg(Format(a))
	}
	return nil
}

// WebhookPayload is the JSON body posted to webhook endpoints.
type WebhookPayload struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Alerts    []Alert   `json:"alerts"`
}

// WebhookSink posts alerts as JSON, retrying once on failure.
type WebhookSink struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSink{
		url:        cfg.URL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (*WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Deliver(ctx context.Context, alerts []Alert) error {
	payload := WebhookPayload{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Summary:   summarize(alerts),
		Alerts:    alerts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if w.secret != "" {
			req.Header.Set(SignatureHeader, Sign(w.secret, body))
		}

		resp, err := w.httpClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			break
		}
	}

	return lastErr
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// EmailSink sends one plain-text email per batch through SendGrid.
type EmailSink struct {
	cfg EmailConfig
}

func NewEmailSink(cfg EmailConfig) *EmailSink {
	return &EmailSink{cfg: cfg}
}

func (*EmailSink) Name() string { return "email" }

func (e *EmailSink) Deliver(ctx context.Context, alerts []Alert) error {
	subject := "[vitalsd] " + summarize(alerts)

	var body strings.Builder
	for _, a := range alerts {
		body.WriteString(Format(a))
		body.WriteString("\n")
	}

	from := mail.NewEmail("vitalsd", e.cfg.From)
	to := mail.NewEmail("", e.cfg.To)
	message := mail.NewSingleEmail(from, subject, to, body.String(), "")

	host := e.cfg.Host
	if host == "" {
		host = "https://api.sendgrid.com"
	}
	request := sendgrid.GetRequest(e.cfg.APIKey, "/v3/mail/send", host)
	request.Method = http.MethodPost
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	return nil
}

// MultiSink fans a batch out to every sink and joins their errors.
type MultiSink []Sink

func (MultiSink) Name() string { return "multi" }

func (m MultiSink) Deliver(ctx context.Context, alerts []Alert) error {
	var failed []string
	var firstErr error
	for _, s := range m {
		if err := s.Deliver(ctx, alerts); err != nil {
			failed = append(failed, s.Name())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("sinks %s failed: %w", strings.Join(failed, ","), firstErr)
	}
	return nil
}

// NewSink builds the sinks enabled in cfg. It returns nil when none is.
func NewSink(cfg Config, log logger.Logger) Sink {
	var sinks MultiSink
	if cfg.Console {
		sinks = append(sinks, NewConsoleSink(log))
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.Webhook))
	}
	if cfg.Email.APIKey != "" {
		sinks = append(sinks, NewEmailSink(cfg.Email))
	}

	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

func summarize(alerts []Alert) string {
	critical := 0
	for _, a := range alerts {
		if a.Severity == SeverityCritical {
			critical++
		}
	}
	return fmt.Sprintf("%d web vitals alert(s), %d critical", len(alerts), critical)
}
