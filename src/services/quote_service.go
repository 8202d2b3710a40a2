package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/models"
	"github.com/crebit/backend/src/provider"
	"golang.org/x/sync/errgroup"
)

// rateSampleUSD is the amount used to derive the current rate when the user
// enters a local-currency amount instead of USD.
const rateSampleUSD = 100

type QuoteService struct {
	client *provider.Client
}

func NewQuoteService(client *provider.Client) *QuoteService {
	return &QuoteService{client: client}
}

// localCurrency extracts the local leg from a symbol like "USDC/MXN".
func localCurrency(symbol string) (string, error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid symbol %q, expected ASSET/CURRENCY", symbol)
	}
	return parts[1], nil
}

// CreateCombinedQuote locks both conversion legs for a transfer of amountUSD:
// the on-ramp (settlement asset priced in local currency) and the off-ramp
// (settlement asset into USD). The legs are fetched concurrently; either
// failure fails the whole quote.
func (s *QuoteService) CreateCombinedQuote(ctx context.Context, symbol string, amountUSD float64) (*models.CombinedQuote, error) {
	if amountUSD <= 0 {
		return nil, fmt.Errorf("amount_usd must be greater than 0")
	}
	currency, err := localCurrency(symbol)
	if err != nil {
		return nil, err
	}

	var onRamp, offRamp *provider.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := s.client.CreateQuote(gctx, "USDC/"+currency, provider.QuoteTypeOnRamp)
		if err != nil {
			return err
		}
		onRamp = q
		return nil
	})
	g.Go(func() error {
		q, err := s.client.CreateQuote(gctx, "USDC/USD", provider.QuoteTypeOffRamp)
		if err != nil {
			return err
		}
		offRamp = q
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	onRampRate := float64(onRamp.Quotation)

	// The settlement asset trades 1:1 against USD and provider fees are
	// folded upstream, so the local amount is the USD amount through the
	// on-ramp rate, rounded up to a whole unit of local currency.
	totalLocalAmount := math.Ceil(amountUSD * onRampRate)

	expiresAt := onRamp.ExpiresAt
	if offRamp.ExpiresAt < expiresAt {
		expiresAt = offRamp.ExpiresAt
	}

	combined := &models.CombinedQuote{
		OnRamp:            *onRamp,
		OffRamp:           *offRamp,
		AmountUSD:         amountUSD,
		TotalLocalAmount:  totalLocalAmount,
		TotalFeesUSD:      0,
		EffectiveRate:     onRampRate,
		ExpiresAt:         expiresAt,
		ExpiresAtReadable: time.Unix(expiresAt, 0).UTC().Format("2006-01-02 15:04:05"),
	}
	logger.L.Info("Combined quote created",
		"onRampID", onRamp.ID, "offRampID", offRamp.ID,
		"amountUSD", amountUSD, "totalLocalAmount", totalLocalAmount,
		"effectiveRate", onRampRate)
	return combined, nil
}

// ConvertLocalToUSD derives the USD equivalent of a local-currency amount via
// a throwaway quote at the current rate. That quote is discarded; the caller
// requests the real quote at the derived amount.
func (s *QuoteService) ConvertLocalToUSD(ctx context.Context, symbol string, amountLocal float64) (float64, error) {
	if amountLocal <= 0 {
		return 0, fmt.Errorf("local amount must be greater than 0")
	}
	sample, err := s.CreateCombinedQuote(ctx, symbol, rateSampleUSD)
	if err != nil {
		return 0, fmt.Errorf("failed to get exchange rate: %w", err)
	}
	rate := sample.TotalLocalAmount / rateSampleUSD
	if rate <= 0 {
		return 0, fmt.Errorf("provider returned a non-positive rate")
	}
	return amountLocal / rate, nil
}

// CreateLegQuote passes a single-leg quote request straight through.
func (s *QuoteService) CreateLegQuote(ctx context.Context, symbol, quoteType string) (*provider.Quote, error) {
	if quoteType != provider.QuoteTypeOnRamp && quoteType != provider.QuoteTypeOffRamp {
		return nil, fmt.Errorf("quote_type must be %s or %s", provider.QuoteTypeOnRamp, provider.QuoteTypeOffRamp)
	}
	return s.client.CreateQuote(ctx, symbol, quoteType)
}
