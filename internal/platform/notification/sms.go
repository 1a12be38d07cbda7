package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mentalspace/ehr/internal/platform/retry"
)

// SMSConfig configures HTTPSMSSender.
type SMSConfig struct {
	BaseURL string
	APIKey  string
	From    string
	// CallbackURL receives delivery receipts; empty disables them.
	CallbackURL string
}

// HTTPSMSSender posts messages to an SMS gateway's REST API.
type HTTPSMSSender struct {
	cfg    SMSConfig
	client *http.Client
	policy retry.Policy
}

func NewHTTPSMSSender(cfg SMSConfig) *HTTPSMSSender {
	return &HTTPSMSSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: retry.DefaultPolicy,
	}
}

type smsRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Body           string `json:"body"`
	StatusCallback string `json:"status_callback,omitempty"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(smsRequest{
		From:           s.cfg.From,
		To:             to,
		Body:           body,
		StatusCallback: s.cfg.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("encode sms request: %w", err)
	}

	var out smsResponse
	err = retry.Do(ctx, s.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(s.cfg.BaseURL, "/")+"/messages", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("sms gateway: %w", err))
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode >= 300 {
			return retry.StatusError(resp.StatusCode, string(raw))
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode sms response: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("sms gateway returned no message id")
	}
	return out.ID, nil
}
