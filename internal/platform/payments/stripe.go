// Package payments collects client copays through Stripe PaymentIntents.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// ErrNotConfigured is returned when no Stripe key is set.
var ErrNotConfigured = errors.New("payments not configured")

type CreateIntentRequest struct {
	AmountCents int64
	Currency    string
	Description string
	// IdempotencyKey makes retried requests return the same intent.
	IdempotencyKey string
	Metadata       map[string]string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// Succeeded reports whether the intent has been captured.
func (i *Intent) Succeeded() bool {
	return i.Status == string(stripe.PaymentIntentStatusSucceeded)
}

// Processor is implemented by StripeProcessor and test fakes.
type Processor interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

// StripeProcessor wraps a dedicated Stripe API client so the key is never
// stored in package state.
type StripeProcessor struct {
	api *client.API
}

func NewStripeProcessor(secretKey string) *StripeProcessor {
	return newStripeProcessor(secretKey, nil)
}

func newStripeProcessor(secretKey string, backends *stripe.Backends) *StripeProcessor {
	if secretKey == "" {
		return &StripeProcessor{}
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProcessor{api: api}
}

func (p *StripeProcessor) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	if p.api == nil {
		return nil, ErrNotConfigured
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(currency),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (p *StripeProcessor) GetIntent(ctx context.Context, id string) (*Intent, error) {
	if p.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}
}
