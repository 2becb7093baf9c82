package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioConfig configures the SMS sender. Either From or
// MessagingServiceSID must be set.
type TwilioConfig struct {
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
	BaseURL             string
	Timeout             time.Duration
}

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

type twilioMessage struct {
	Sid          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("notify: twilio account sid and token are required")
	}
	if cfg.From == "" && cfg.MessagingServiceSID == "" {
		return nil, errors.New("notify: twilio from number or messaging service is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TwilioSender{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if strings.TrimSpace(to) == "" {
		return ErrNoRecipient
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)
	if s.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", s.cfg.MessagingServiceSID)
	} else {
		form.Set("From", s.cfg.From)
	}

	endpoint := s.cfg.BaseURL + "/Accounts/" + url.PathEscape(s.cfg.AccountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: twilio request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("notify: twilio read: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr twilioError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("notify: twilio status %d: %d %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("notify: twilio status %d", resp.StatusCode)
	}

	var msg twilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("notify: twilio decode: %w", err)
	}
	if msg.ErrorCode != nil || msg.Status == "failed" || msg.Status == "undelivered" {
		return fmt.Errorf("notify: twilio message %s %s: %s", msg.Sid, msg.Status, msg.ErrorMessage)
	}
	return nil
}
