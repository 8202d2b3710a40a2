package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/crebit/backend/src/logger"
	"golang.org/x/net/publicsuffix"
)

// ErrCustomerExists is returned by CreateCustomer when the provider reports a
// duplicate; the wrapped ExistingCustomerID carries the id already on file.
var ErrCustomerExists = errors.New("customer already exists")

// DuplicateCustomerError wraps ErrCustomerExists with the existing id.
type DuplicateCustomerError struct {
	ExistingCustomerID string
}

func (e *DuplicateCustomerError) Error() string {
	return fmt.Sprintf("customer already exists: %s", e.ExistingCustomerID)
}

func (e *DuplicateCustomerError) Unwrap() error { return ErrCustomerExists }

// Client is a thin wrapper over the payment rails provider API. It does no
// retries and no circuit breaking; errors surface the provider body verbatim.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
	}
}

type providerError struct {
	Error              string `json:"error"`
	Message            string `json:"message"`
	Code               string `json:"code"`
	ExistingCustomerID string `json:"existing_customer_id"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var pe providerError
		if json.Unmarshal(raw, &pe) == nil {
			if resp.StatusCode == http.StatusConflict && pe.ExistingCustomerID != "" {
				return &DuplicateCustomerError{ExistingCustomerID: pe.ExistingCustomerID}
			}
			msg := pe.Error
			if msg == "" {
				msg = pe.Message
			}
			if msg != "" {
				return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, msg)
			}
		}
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}

// CreateQuote requests a single conversion leg.
func (c *Client) CreateQuote(ctx context.Context, symbol, quoteType string) (*Quote, error) {
	var q Quote
	err := c.do(ctx, http.MethodPost, "/quote", map[string]string{
		"symbol": symbol,
		"type":   quoteType,
	}, &q)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s quote for %s: %w", quoteType, symbol, err)
	}
	return &q, nil
}

func (c *Client) CreateCustomer(ctx context.Context, req *CreateCustomerRequest) (*Customer, error) {
	var cust Customer
	if err := c.do(ctx, http.MethodPost, "/customers", req, &cust); err != nil {
		return nil, err
	}
	return &cust, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var cust Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+customerID, nil, &cust); err != nil {
		return nil, err
	}
	return &cust, nil
}

func (c *Client) CreateWallet(ctx context.Context, customerID string) (*Wallet, error) {
	var w Wallet
	err := c.do(ctx, http.MethodPost, "/wallets", map[string]string{"customer_id": customerID}, &w)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet for customer %s: %w", customerID, err)
	}
	return &w, nil
}

// GetCustomerWallets returns the customer's wallets; the first one is the
// settlement wallet used by the onboarding flow.
func (c *Client) GetCustomerWallets(ctx context.Context, customerID string) ([]Wallet, error) {
	var out struct {
		Wallets []Wallet `json:"wallets"`
	}
	if err := c.do(ctx, http.MethodGet, "/customers/"+customerID+"/wallets", nil, &out); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

func (c *Client) CreateExternalAccount(ctx context.Context, req *CreateExternalAccountRequest) (*ExternalAccount, error) {
	var acct ExternalAccount
	if err := c.do(ctx, http.MethodPost, "/external_accounts", req, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *Client) GetCustomerExternalAccounts(ctx context.Context, customerID string) ([]ExternalAccount, error) {
	var out struct {
		ExternalAccounts []ExternalAccount `json:"external_accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/customers/"+customerID+"/external_accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.ExternalAccounts, nil
}

// CreatePayin initiates a local-rail deposit (SPEI or PIX) against a locked quote.
func (c *Client) CreatePayin(ctx context.Context, req *CreatePayinRequest) (*Payin, error) {
	var p Payin
	if err := c.do(ctx, http.MethodPost, "/payin", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayout initiates the off-ramp leg to the customer's external account.
func (c *Client) CreatePayout(ctx context.Context, req *CreatePayoutRequest) (*Payout, error) {
	var p Payout
	if err := c.do(ctx, http.MethodPost, "/payout", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	var t Transaction
	if err := c.do(ctx, http.MethodGet, "/transactions/"+transactionID, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
