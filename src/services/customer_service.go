package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/security/validation"
)

// CustomerInput is the identity payload collected on the first wizard step.
type CustomerInput struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	DateOfBirth   string
	DocumentType  string
	TaxID         string
	Country       string
	StreetAddress string
	City          string
	State         string
	ZipCode       string
}

// CustomerCreationResult reports the ids the rest of the flow needs, plus
// whether an existing profile (and bank account) was found for reuse.
type CustomerCreationResult struct {
	CustomerID              string                    `json:"customer_id"`
	WalletID                string                    `json:"wallet_id,omitempty"`
	WalletAddress           string                    `json:"wallet_address,omitempty"`
	ExistingCustomer        bool                      `json:"existing_customer,omitempty"`
	ExistingExternalAccount *provider.ExternalAccount `json:"existing_external_account,omitempty"`
}

type CustomerService struct {
	client *provider.Client
}

func NewCustomerService(client *provider.Client) *CustomerService {
	return &CustomerService{client: client}
}

func (in *CustomerInput) validate() error {
	required := []struct{ value, label string }{
		{in.FirstName, "First Name"},
		{in.LastName, "Last Name"},
		{in.Email, "Email"},
		{in.Phone, "Phone Number"},
		{in.DateOfBirth, "Date of Birth"},
		{in.DocumentType, "Document Type"},
		{in.TaxID, "Tax ID/Document Number"},
		{in.Country, "Country"},
		{in.StreetAddress, "Street Address"},
		{in.City, "City"},
		{in.State, "State/Province"},
		{in.ZipCode, "ZIP/Postal Code"},
	}
	for _, f := range required {
		if err := validation.ValidateStringNotEmpty(f.value, f.label); err != nil {
			return err
		}
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return err
	}
	return validation.ValidateDate(in.DateOfBirth, "Date of Birth")
}

// CreateCustomerWithWallet creates the customer and their settlement wallet
// at the provider. A duplicate customer is not an error: the existing profile
// and any bank account on file are returned so the client can offer reuse.
func (s *CustomerService) CreateCustomerWithWallet(ctx context.Context, in *CustomerInput) (*CustomerCreationResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	phone, err := validation.SanitizePhone(in.Phone)
	if err != nil {
		return nil, err
	}

	req := &provider.CreateCustomerRequest{
		FirstName:   validation.SanitizeFreeText(in.FirstName),
		LastName:    validation.SanitizeFreeText(in.LastName),
		Email:       in.Email,
		PhoneNumber: phone,
		Type:        "individual",
		DateOfBirth: in.DateOfBirth,
		IdentityDocuments: []provider.IdentityDocument{{
			Type:    in.DocumentType,
			Value:   in.TaxID,
			Country: in.Country,
		}},
		Address: provider.Address{
			StreetLine1: validation.SanitizeFreeText(in.StreetAddress),
			City:        validation.SanitizeFreeText(in.City),
			State:       validation.SanitizeFreeText(in.State),
			PostalCode:  in.ZipCode,
			Country:     in.Country,
		},
	}

	customer, err := s.client.CreateCustomer(ctx, req)
	if err != nil {
		var dup *provider.DuplicateCustomerError
		if errors.As(err, &dup) {
			return s.reuseExistingCustomer(ctx, dup.ExistingCustomerID)
		}
		return nil, err
	}
	if customer.ID == "" {
		return nil, fmt.Errorf("no customer ID returned from provider")
	}

	wallet, err := s.client.CreateWallet(ctx, customer.ID)
	if err != nil {
		// The customer exists; the wallet can be retried later. Surface the
		// ids we have rather than failing the whole step.
		logger.L.Warn("Customer created but wallet creation failed", "customerID", customer.ID, "error", err)
		return &CustomerCreationResult{CustomerID: customer.ID}, nil
	}

	logger.L.Info("Customer and wallet created", "customerID", customer.ID, "walletID", wallet.ID)
	return &CustomerCreationResult{
		CustomerID:    customer.ID,
		WalletID:      wallet.ID,
		WalletAddress: wallet.Address,
	}, nil
}

func (s *CustomerService) reuseExistingCustomer(ctx context.Context, customerID string) (*CustomerCreationResult, error) {
	result := &CustomerCreationResult{
		CustomerID:       customerID,
		ExistingCustomer: true,
	}

	wallets, err := s.client.GetCustomerWallets(ctx, customerID)
	if err != nil {
		logger.L.Warn("Failed to fetch wallets for existing customer", "customerID", customerID, "error", err)
	} else if len(wallets) > 0 {
		result.WalletID = wallets[0].ID
		result.WalletAddress = wallets[0].Address
	}

	accounts, err := s.client.GetCustomerExternalAccounts(ctx, customerID)
	if err != nil {
		logger.L.Warn("Failed to fetch external accounts for existing customer", "customerID", customerID, "error", err)
	} else if len(accounts) > 0 {
		result.ExistingExternalAccount = &accounts[0]
	}

	logger.L.Info("Reusing existing customer profile", "customerID", customerID,
		"hasWallet", result.WalletID != "", "hasExternalAccount", result.ExistingExternalAccount != nil)
	return result, nil
}

// ExternalAccountInput is the USD wire account collected on the delivery step.
type ExternalAccountInput struct {
	AccountHolderName string
	BankName          string
	AccountNumber     string
	RoutingNumber     string
	BankStreetAddress string
	BankCity          string
	BankState         string
	BankZipCode       string
}

func (in *ExternalAccountInput) validate() error {
	required := []struct{ value, label string }{
		{in.AccountHolderName, "Account Holder Name"},
		{in.BankName, "Bank Name"},
		{in.AccountNumber, "Account Number"},
		{in.RoutingNumber, "Routing Number"},
		{in.BankStreetAddress, "Bank Street Address"},
		{in.BankCity, "Bank City"},
		{in.BankState, "Bank State"},
		{in.BankZipCode, "Bank ZIP Code"},
	}
	for _, f := range required {
		if err := validation.ValidateStringNotEmpty(f.value, f.label); err != nil {
			return err
		}
	}
	return nil
}

// CreateExternalAccount registers the customer's USD wire account with the
// provider and returns its id.
func (s *CustomerService) CreateExternalAccount(ctx context.Context, customerID string, in *ExternalAccountInput) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("customer_id is required")
	}
	if err := in.validate(); err != nil {
		return "", err
	}

	acct, err := s.client.CreateExternalAccount(ctx, &provider.CreateExternalAccountRequest{
		CustomerID:        customerID,
		AccountName:       fmt.Sprintf("%s's USD Account", validation.SanitizeFreeText(in.AccountHolderName)),
		BeneficiaryName:   validation.SanitizeFreeText(in.AccountHolderName),
		BankName:          validation.SanitizeFreeText(in.BankName),
		BankAccountNumber: in.AccountNumber,
		RoutingNumber:     in.RoutingNumber,
		Address: provider.Address{
			StreetLine1: validation.SanitizeFreeText(in.BankStreetAddress),
			City:        validation.SanitizeFreeText(in.BankCity),
			State:       validation.SanitizeFreeText(in.BankState),
			PostalCode:  in.BankZipCode,
			Country:     "USA",
		},
	})
	if err != nil {
		return "", err
	}
	logger.L.Info("External account created", "customerID", customerID, "externalAccountID", acct.ID)
	return acct.ID, nil
}
