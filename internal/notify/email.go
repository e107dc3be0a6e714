package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned while the email API is considered down
	ErrCircuitOpen = errors.New("email circuit open")
	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("email api key not configured")
)

var statusBody = template.Must(template.New("status").Parse(
	`<p>Votre commande #{{.OrderID}} est maintenant "{{.Status}}".</p>`))

// Email is one outbound message
type Email struct {
	To      string
	Subject string
	HTML    string
}

// EmailSender delivers email
type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) error
}

// StatusEmail renders the order status update sent to customers
func StatusEmail(to, orderID, status string) (Email, error) {
	var body bytes.Buffer
	err := statusBody.Execute(&body, struct{ OrderID, Status string }{orderID, status})
	if err != nil {
		return Email{}, fmt.Errorf("failed to render email: %w", err)
	}
	return Email{
		To:      to,
		Subject: "Mise à jour de votre commande - " + status,
		HTML:    body.String(),
	}, nil
}

// StatusSMS is the text form of StatusEmail
func StatusSMS(orderID, status string) string {
	return fmt.Sprintf("Votre commande #%s est maintenant \"%s\".", orderID, status)
}

type ResendConfig struct {
	APIKey  string
	BaseURL string
	Sender  string
	Timeout time.Duration
}

// ResendClient sends email through the Resend HTTP API
type ResendClient struct {
	http    *resty.Client
	apiKey  string
	sender  string
	breaker *gobreaker.CircuitBreaker[*resty.Response]
}

type resendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func NewResendClient(cfg ResendConfig) *ResendClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "resend",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &ResendClient{
		http:    client,
		apiKey:  cfg.APIKey,
		sender:  cfg.Sender,
		breaker: breaker,
	}
}

// SendEmail posts msg to the API. Any non-2xx answer is a failed delivery.
func (c *ResendClient) SendEmail(ctx context.Context, msg Email) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(resendRequest{From: c.sender, To: msg.To, Subject: msg.Subject, HTML: msg.HTML}).
			Post("/emails")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
			return resp, fmt.Errorf("email api returned %d", resp.StatusCode())
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("email api rejected message: %d %s", resp.StatusCode(), resp.String())
	}
	return nil
}
