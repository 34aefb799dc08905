package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noah-isme/hostel-outpass-api/pkg/config"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
)

// Sender delivers plain-text SMS messages.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// GatewayClient talks to a device-backed SMS gateway over HTTP. The gateway
// requires both an API key and a registered device identifier; sends fail
// fast with a configuration error when either is missing.
type GatewayClient struct {
	baseURL  string
	apiKey   string
	deviceID string
	client   *http.Client
}

// NewGatewayClient builds a client from the SMS configuration.
func NewGatewayClient(cfg config.SMSConfig) *GatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GatewayClient{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		deviceID: cfg.DeviceID,
		client:   &http.Client{Timeout: timeout},
	}
}

type sendPayload struct {
	DeviceID string   `json:"device_id"`
	Phones   []string `json:"phones"`
	Message  string   `json:"message"`
}

// Send posts one message to the gateway. The request is aborted when the
// configured timeout elapses.
func (c *GatewayClient) Send(ctx context.Context, phone, message string) error {
	if c.apiKey == "" || c.deviceID == "" {
		return appErrors.Clone(appErrors.ErrChannelConfig, "sms gateway api key or device id missing")
	}
	if phone == "" {
		return fmt.Errorf("recipient phone missing")
	}

	body, err := json.Marshal(sendPayload{
		DeviceID: c.deviceID,
		Phones:   []string{phone},
		Message:  message,
	})
	if err != nil {
		return fmt.Errorf("encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("send sms: status %d: %s", res.StatusCode, raw)
	}
	return nil
}
