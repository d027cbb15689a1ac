// internal/pkg/messaging/client.go
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/your-org/storefront-backend/internal/config"
)

// Client sends WhatsApp text messages through a Graph-API-shaped provider
type Client struct {
	baseURL     string
	accessToken string
	senderID    string
	client      *http.Client
}

// NewClient creates a messaging client from configuration
func NewClient(cfg config.MessagingConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		senderID:    cfg.SenderID,
		client:      &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendTextMessage delivers one text message and returns the provider
// message id.
func (c *Client) SendTextMessage(ctx context.Context, recipient, text string) (string, error) {
	payload := sendMessageRequest{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
	}
	payload.Text.Body = text

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.senderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build message request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("message request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read message response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("messaging provider returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode message response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", fmt.Errorf("messaging provider returned no message id")
	}
	return out.Messages[0].ID, nil
}
