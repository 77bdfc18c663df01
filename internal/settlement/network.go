package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutRequest is one on-network payout instruction.
type PayoutRequest struct {
	Destination       string          `json:"destination"`
	Amount            decimal.Decimal `json:"amount"`
	AssetCode         string          `json:"asset_code"`
	AssetIssuer       string          `json:"asset_issuer"`
	Memo              string          `json:"memo"`
	NetworkPassphrase string          `json:"network_passphrase"`
}

// Network submits payouts to the settlement network.
type Network interface {
	// SubmitPayout returns the network transaction reference on success.
	SubmitPayout(ctx context.Context, req PayoutRequest) (string, error)
}

// HorizonClient submits payouts through a horizon-style gateway.
type HorizonClient struct {
	baseURL    string
	passphrase string
	httpClient *http.Client
}

// NewHorizonClient builds a network client with an explicit request timeout.
func NewHorizonClient(baseURL, passphrase string, timeout time.Duration) *HorizonClient {
	return &HorizonClient{
		baseURL:    baseURL,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type payoutResponse struct {
	Hash string `json:"hash"`
}

// SubmitPayout implements Network.
func (c *HorizonClient) SubmitPayout(ctx context.Context, req PayoutRequest) (string, error) {
	req.NetworkPassphrase = c.passphrase
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal payout: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payouts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit payout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("payout rejected: status %d: %s", resp.StatusCode, detail)
	}

	var parsed payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode payout response: %w", err)
	}
	if parsed.Hash == "" {
		return "", fmt.Errorf("payout response missing transaction hash")
	}
	return parsed.Hash, nil
}
