package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/utils"
	"github.com/sirupsen/logrus"
)

const apiVersion = "2018-03-22"

// Charge asks the crypto processor to collect a fixed fiat amount from a
// borrower's wallet. Settlement is asynchronous.
type Charge struct {
	Amount        int64 // minor units
	Currency      string
	WalletAddress string
	Name          string
	Description   string
	Metadata      map[string]string
}

// Result is the processor's answer to a charge request.
type Result struct {
	Success         bool
	ChargeReference string
	ErrorText       string
}

// Client creates charges through a Commerce-style REST API
type Client struct {
	baseURL       string
	apiKey        string
	localCurrency string
	client        *http.Client
	log           *logrus.Logger
}

// NewClient initializes a new crypto processor client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.CryptoURL, "/"),
		apiKey:        cfg.CryptoAPIKey,
		localCurrency: cfg.CryptoCurrency,
		client: &http.Client{
			Timeout: cfg.RailTimeout,
		},
		log: log,
	}
}

type money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  money             `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
}

type chargeResponse struct {
	Data *struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	} `json:"data"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Charge creates a fixed-price charge bound to the borrower's wallet
func (c *Client) Charge(ctx context.Context, charge Charge) (Result, error) {
	if c.apiKey == "" {
		return Result{ErrorText: "Cryptocurrency payment gateway not configured"}, nil
	}

	metadata := map[string]string{"wallet_address": charge.WalletAddress}
	if charge.Currency != "" {
		metadata["crypto_currency"] = charge.Currency
	}
	for k, v := range charge.Metadata {
		metadata[k] = v
	}
	payload, err := json.Marshal(chargeRequest{
		Name:        charge.Name,
		Description: charge.Description,
		PricingType: "fixed_price",
		LocalPrice:  money{Amount: utils.FormatMinor(charge.Amount), Currency: c.localCurrency},
		Metadata:    metadata,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CC-Api-Key", c.apiKey)
	req.Header.Set("X-CC-Version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debugf("Crypto processor response (%d): %s", resp.StatusCode, string(body))

	var decoded chargeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return Result{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	switch {
	case decoded.Error != nil && decoded.Error.Message != "":
		return Result{ErrorText: decoded.Error.Message}, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return Result{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	case decoded.Data == nil || decoded.Data.ID == "":
		return Result{ErrorText: "Crypto charge was not created"}, nil
	}

	ref := decoded.Data.Code
	if ref == "" {
		ref = decoded.Data.ID
	}
	return Result{Success: true, ChargeReference: ref}, nil
}
