package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
)

// HTTPSMSSender delivers SMS through a Twilio-style messaging API: form-encoded
// POST with basic auth, JSON response carrying the message sid.
type HTTPSMSSender struct {
	baseURL    string
	accountSID string
	authToken  string
	fromNumber string
	client     *http.Client
}

// NewHTTPSMSSender builds the SMS client from config.
func NewHTTPSMSSender(cfg config.SMSProviderConfig) *HTTPSMSSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSMSSender{
		baseURL:    cfg.BaseURL,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		client:     &http.Client{Timeout: timeout},
	}
}

type smsResponse struct {
	Sid          string `json:"sid"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Provider error codes that mean the destination number can never receive
// this message. Retrying burns budget for nothing.
var terminalSMSErrorCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21214: true, // 'To' number not reachable
	21408: true, // permission not enabled for region
	21610: true, // recipient opted out
	30006: true, // landline or unreachable carrier
}

// SendSMS posts one message and classifies the provider's answer.
func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) (SendResult, error) {
	if s.accountSID == "" || s.authToken == "" {
		return SendResult{}, apperrors.NewFatal(apperrors.ErrMissingCredentials, "sms provider credentials not configured")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.fromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, apperrors.NewFatal(err, "failed to build sms request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	start := time.Now()
	resp, err := s.client.Do(req)
	observer.ObserveProviderRequestDuration("sms", time.Since(start))
	if err != nil {
		return SendResult{}, apperrors.NewRetryable(err, "sms provider request failed")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var sr smsResponse
	if jsonErr := json.Unmarshal(respBody, &sr); jsonErr == nil && sr.ErrorCode != nil {
		if terminalSMSErrorCodes[*sr.ErrorCode] {
			return SendResult{}, apperrors.NewFatal(
				fmt.Errorf("%w: code %d: %s", apperrors.ErrInvalidRecipient, *sr.ErrorCode, sr.ErrorMessage),
				"sms provider rejected recipient")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, classifyStatus("sms", resp.StatusCode, string(respBody))
	}

	if sr.Sid == "" {
		return SendResult{}, apperrors.NewRetryable(
			fmt.Errorf("missing sid in response body=%q", truncateBody(string(respBody))),
			"sms provider returned malformed response")
	}

	return SendResult{ProviderID: sr.Sid}, nil
}
