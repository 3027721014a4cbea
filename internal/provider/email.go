package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
)

// HTTPEmailSender delivers email through a JSON transactional-email API.
type HTTPEmailSender struct {
	baseURL     string
	apiKey      string
	fromAddress string
	fromName    string
	client      *http.Client
}

// NewHTTPEmailSender builds the email client from config. Missing credentials
// surface at send time as a fatal error rather than at construction, so the
// process can boot in environments where email is intentionally dark.
func NewHTTPEmailSender(cfg config.EmailProviderConfig) *HTTPEmailSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEmailSender{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		client:      &http.Client{Timeout: timeout},
	}
}

type emailRequest struct {
	From    emailAddress   `json:"from"`
	To      []emailAddress `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"html,omitempty"`
	Text    string         `json:"text,omitempty"`
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type emailResponse struct {
	ID string `json:"id"`
}

// SendEmail posts one message and classifies the provider's answer.
func (s *HTTPEmailSender) SendEmail(ctx context.Context, to, subject, html, text string) (SendResult, error) {
	if s.apiKey == "" {
		return SendResult{}, apperrors.NewFatal(apperrors.ErrMissingCredentials, "email provider api key not configured")
	}

	reqBody, err := json.Marshal(emailRequest{
		From:    emailAddress{Email: s.fromAddress, Name: s.fromName},
		To:      []emailAddress{{Email: to}},
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		return SendResult{}, apperrors.NewFatal(err, "failed to encode email request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/emails", bytes.NewReader(reqBody))
	if err != nil {
		return SendResult{}, apperrors.NewFatal(err, "failed to build email request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	start := time.Now()
	resp, err := s.client.Do(req)
	observer.ObserveProviderRequestDuration("email", time.Since(start))
	if err != nil {
		return SendResult{}, apperrors.NewRetryable(err, "email provider request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, classifyStatus("email", resp.StatusCode, string(body))
	}

	var er emailResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return SendResult{}, apperrors.NewRetryable(
			fmt.Errorf("failed to decode email response: %w body=%q", err, truncateBody(string(body))),
			"email provider returned malformed response")
	}

	return SendResult{ProviderID: er.ID}, nil
}
