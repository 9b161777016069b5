// Package ledger talks to the authoritative backend balance service.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound marks a lookup whose response carried no balance, including
// transport failures and malformed bodies. Callers fall back to the local store.
var ErrNotFound = errors.New("ledger: account not found")

// Account is the remote ledger's view of a credential.
type Account struct {
	Name    string
	Balance int64 // paise
}

// Client wraps HTTP access to the backend ledger. All calls carry a bounded
// timeout and degrade to the caller's local fallback on failure.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type lookupResponse struct {
	Name    string   `json:"name"`
	Balance *float64 `json:"balance,omitempty"`
}

type topupRequest struct {
	RFIDUID string  `json:"rfid_uid"`
	Amount  float64 `json:"amount"`
}

type dispenseRequest struct {
	RFIDUID     string  `json:"rfid_uid"`
	VolumeLitre float64 `json:"volume_litre"`
	Amount      float64 `json:"amount"`
	FuelType    string  `json:"fuel_type"`
}

type mutationResponse struct {
	Success    bool     `json:"success"`
	NewBalance *float64 `json:"newBalance,omitempty"`
}

// NewClient returns a ledger client for the given base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Lookup fetches the account for a credential. Absence of a balance field
// in the response is treated the same as any transport failure.
func (c *Client) Lookup(ctx context.Context, credential string) (*Account, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotFound
	}

	url := fmt.Sprintf("%s/api/users/by-rfid/%s", c.baseURL, credential)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrNotFound, err)
	}
	if body.Balance == nil {
		return nil, ErrNotFound
	}

	name := body.Name
	if name == "" {
		name = "Unknown"
	}
	return &Account{Name: name, Balance: paise(*body.Balance)}, nil
}

// TopUp credits the credential on the backend and returns the new balance.
func (c *Client) TopUp(ctx context.Context, credential string, amountPaise int64) (int64, error) {
	var body mutationResponse
	err := c.post(ctx, "/api/users/topup", topupRequest{
		RFIDUID: credential,
		Amount:  rupees(amountPaise),
	}, &body)
	if err != nil {
		return 0, err
	}
	if !body.Success || body.NewBalance == nil {
		return 0, errors.New("ledger: topup rejected")
	}
	return paise(*body.NewBalance), nil
}

// RecordDispense notifies the backend of a settled dispense. Write-behind:
// the caller never blocks or rolls back local settlement on failure.
func (c *Client) RecordDispense(ctx context.Context, credential string, volumeLiters float64, amountPaise int64) error {
	var body mutationResponse
	err := c.post(ctx, "/api/dispense", dispenseRequest{
		RFIDUID:     credential,
		VolumeLitre: volumeLiters,
		Amount:      rupees(amountPaise),
		FuelType:    "petrol",
	}, &body)
	if err != nil {
		return err
	}
	if !body.Success {
		return errors.New("ledger: dispense record rejected")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if c == nil || c.baseURL == "" {
		return errors.New("ledger: client not configured")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("ledger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ledger request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("ledger returned non-success", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("ledger: status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func paise(rupees float64) int64 {
	return int64(rupees*100 + 0.5)
}

func rupees(paise int64) float64 {
	return float64(paise) / 100
}
