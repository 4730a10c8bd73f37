package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SMSConfig holds the SMS gateway credentials and sender number.
type SMSConfig struct {
	BaseURL    string // gateway endpoint, e.g. "https://api.twilio.com/2010-04-01"
	AccountSID string
	AuthToken  string
	FromNumber string // E.164
	// SendRate caps outbound messages per second to stay inside the
	// provider's throughput limit. Zero means 1/sec.
	SendRate float64
}

// Configured returns true if the minimum required fields are set.
func (c SMSConfig) Configured() bool {
	return c.BaseURL != "" && c.AccountSID != "" && c.FromNumber != ""
}

// SMSClient sends messages through a Twilio-compatible HTTP gateway. The
// gateway either accepts a message (returning its sid) or rejects it;
// delivery confirmations arrive on a separate status callback outside this
// pipeline.
type SMSClient struct {
	httpClient *http.Client
	cfg        SMSConfig
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewSMSClient creates an SMS gateway client with outbound pacing.
func NewSMSClient(cfg SMSConfig, logger *slog.Logger) *SMSClient {
	perSec := cfg.SendRate
	if perSec <= 0 {
		perSec = 1
	}
	return &SMSClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
		logger:     logger.With("component", "sms"),
	}
}

// Send implements Sender for the "sms" channel. target is the recipient's
// E.164 number.
func (c *SMSClient) Send(ctx context.Context, target string, msg Message) (string, error) {
	if !c.cfg.Configured() {
		return "", fmt.Errorf("sms: gateway not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("sms: waiting for send slot: %w", err)
	}

	form := url.Values{}
	form.Set("From", c.cfg.FromNumber)
	form.Set("To", target)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("sms: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms: sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("sms: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("sms: gateway rejected (status %d): %s", resp.StatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("sms: gateway returned status %d", resp.StatusCode)
	}

	var accepted struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return "", fmt.Errorf("sms: decoding response: %w", err)
	}

	c.logger.Debug("sms accepted", "sid", accepted.SID, "call_id", msg.CallID, "tier", msg.Tier)
	return accepted.SID, nil
}
