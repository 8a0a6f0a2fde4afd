// internal/gateway/gateway.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MessagingGateway sends a rendered message to a phone number through a
// given channel instance. Implementations must be safe for concurrent use.
type MessagingGateway interface {
	Send(ctx context.Context, instanceKey, phoneE164, message string) error
}

// HTTPGateway talks to the WhatsApp provider's REST API.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	Instance string `json:"instance"`
	Phone    string `json:"phone"`
	Message  string `json:"message"`
}

func (g *HTTPGateway) Send(ctx context.Context, instanceKey, phoneE164, message string) error {
	body, err := json.Marshal(sendRequest{
		Instance: instanceKey,
		Phone:    phoneE164,
		Message:  message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/messages/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

var _ MessagingGateway = (*HTTPGateway)(nil)
