package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexFloat decodes provider fields that arrive either as a JSON number or a
// numeric string (quotation is documented as "string | number").
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// Quote is a single conversion leg as returned by the provider.
type Quote struct {
	ID        string    `json:"id"`
	Quotation FlexFloat `json:"quotation"`
	FlatFee   float64   `json:"flat_fee"`
	ExpiresAt int64     `json:"expires_at"`
	Symbol    string    `json:"symbol"`
	Type      string    `json:"type"`
}

// QuoteType values accepted by the provider.
const (
	QuoteTypeOnRamp  = "on_ramp"
	QuoteTypeOffRamp = "off_ramp"
)

type IdentityDocument struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Country string `json:"country"`
}

type Address struct {
	StreetLine1 string `json:"street_line_1"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
}

type CreateCustomerRequest struct {
	FirstName         string             `json:"first_name"`
	LastName          string             `json:"last_name"`
	Email             string             `json:"email"`
	PhoneNumber       string             `json:"phone_number"`
	Type              string             `json:"type"`
	DateOfBirth       string             `json:"date_of_birth"`
	IdentityDocuments []IdentityDocument `json:"identity_documents"`
	Address           Address            `json:"address"`
}

type Customer struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

type Wallet struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type CreateExternalAccountRequest struct {
	CustomerID        string  `json:"customer_id"`
	AccountName       string  `json:"account_name"`
	BeneficiaryName   string  `json:"beneficiary_name"`
	BankName          string  `json:"bank_name"`
	BankAccountNumber string  `json:"bank_account_number"`
	RoutingNumber     string  `json:"routing_number"`
	Address           Address `json:"address"`
}

type ExternalAccount struct {
	ID                string `json:"id"`
	AccountName       string `json:"account_name"`
	BankName          string `json:"bank_name"`
	BankAccountNumber string `json:"bank_account_number"`
	RoutingNumber     string `json:"routing_number"`
}

// PayinParty describes either end of a payin.
type PayinParty struct {
	Currency    string `json:"currency"`
	PaymentRail string `json:"payment_rail"`
	CLABE       string `json:"clabe,omitempty"`
	PixKey      string `json:"pix_key,omitempty"`
	WalletID    string `json:"wallet_id,omitempty"`
}

type CreatePayinRequest struct {
	Amount     float64    `json:"amount"`
	QuoteID    string     `json:"quote_id"`
	CustomerID string     `json:"customer_id"`
	Sender     PayinParty `json:"sender"`
	Receiver   PayinParty `json:"receiver"`
}

type Beneficiary struct {
	Name     string `json:"name"`
	TaxID    string `json:"tax_id,omitempty"`
	BankCode string `json:"bank_code,omitempty"`
}

type BankAccount struct {
	BankName      string      `json:"bank_name"`
	AccountNumber string      `json:"account_number"`
	CLABE         string      `json:"clabe,omitempty"`
	Beneficiary   Beneficiary `json:"beneficiary"`
}

// DepositInstructions tell the sender where to move local currency.
type DepositInstructions struct {
	DepositAddress string      `json:"deposit_address"`
	BankAccount    BankAccount `json:"bank_account"`
}

type Payin struct {
	ID                        string              `json:"id"`
	Status                    string              `json:"status"`
	Amount                    float64             `json:"amount"`
	Currency                  string              `json:"currency"`
	SenderDepositInstructions DepositInstructions `json:"sender_deposit_instructions"`
	CreatedAt                 string              `json:"created_at"`
	UpdatedAt                 string              `json:"updated_at"`
}

type CreatePayoutRequest struct {
	Amount            float64 `json:"amount"`
	QuoteID           string  `json:"quote_id"`
	CustomerID        string  `json:"customer_id"`
	ExternalAccountID string  `json:"external_account_id"`
}

type Payout struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Transaction struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}
