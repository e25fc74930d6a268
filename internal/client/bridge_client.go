package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

// BridgeClient talks to the WhatsApp bridge process that owns the provider session.
type BridgeClient struct {
	url    string
	client *http.Client
}

func NewBridgeClient(baseURL string, timeout time.Duration) *BridgeClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BridgeClient{
		url: strings.TrimRight(baseURL, "/") + "/send",
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	Key       *struct {
		ID string `json:"id"`
	} `json:"key,omitempty"`
}

func (r sendResponse) providerID() string {
	switch {
	case r.MessageID != "":
		return r.MessageID
	case r.ID != "":
		return r.ID
	case r.Key != nil:
		return r.Key.ID
	}
	return ""
}

// Send posts one message. Any 2xx carrying a provider message id is success.
func (c *BridgeClient) Send(ctx context.Context, phone, message, kind string) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		To:      phone,
		Message: message,
		Type:    kind,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("bridge returned status %d body=%q", resp.StatusCode, string(body))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode bridge json: %w body=%q", err, string(body))
	}
	id := sr.providerID()
	if id == "" {
		return "", fmt.Errorf("missing message id in bridge response body=%q", string(body))
	}
	return id, nil
}
