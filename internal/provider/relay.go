// Package provider contains the built-in HTTP relay provider. Real
// SMTP/messaging adapters are external; the pipeline only needs something
// that satisfies domain.Provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
)

// RelayProvider forwards a channel message to an HTTP relay endpoint.
type RelayProvider struct {
	client  *http.Client
	baseURL string
}

// NewRelayProvider creates a new RelayProvider.
func NewRelayProvider(cfg config.ProviderConfig) *RelayProvider {
	return &RelayProvider{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.RelayURL,
	}
}

type relayRequest struct {
	Channel   string            `json:"channel"`
	Recipient map[string]any    `json:"recipient"`
	Content   map[string]any    `json:"content"`
	Variables map[string]string `json:"variables,omitempty"`
	Provider  *string           `json:"provider,omitempty"`
}

// Send forwards the message to the relay endpoint.
func (p *RelayProvider) Send(ctx context.Context, msg *domain.ChannelMessage) error {
	body, err := json.Marshal(relayRequest{
		Channel:   msg.Channel,
		Recipient: msg.Recipient,
		Content:   msg.Content,
		Variables: msg.Variables,
		Provider:  msg.Provider,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.NewProviderError(0, fmt.Sprintf("request failed: %v", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return domain.NewProviderError(resp.StatusCode, string(respBody), retryable)
	}

	return nil
}
