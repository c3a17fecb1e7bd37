package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/paymentintent"

	"github.com/craftyard/api/internal/services"
)

// Logger defines the logging contract for payment gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// IntentSearcher finds the payment intents tagged with a production order.
type IntentSearcher interface {
	Search(ctx context.Context, query string) ([]*stripe.PaymentIntent, error)
}

// ErrEscrowNotFound indicates no settled or held payment exists for the order.
var ErrEscrowNotFound = errors.New("payments: no escrow record for order")

// StripeEscrowGatewayConfig configures the Stripe-backed escrow gateway.
type StripeEscrowGatewayConfig struct {
	APIKey    string
	AccountID string
	Logger    Logger

	// Searcher overrides the Stripe search client, primarily for tests.
	Searcher IntentSearcher
}

// StripeEscrowGateway resolves final price and escrow amounts from Stripe
// payment intents. Checkout tags each intent with the production order id in
// its metadata, which is the join key used here.
type StripeEscrowGateway struct {
	searcher IntentSearcher
	logger   Logger
}

var _ services.EscrowGateway = (*StripeEscrowGateway)(nil)

// NewStripeEscrowGateway constructs the gateway using the given configuration.
func NewStripeEscrowGateway(cfg StripeEscrowGatewayConfig) (*StripeEscrowGateway, error) {
	searcher := cfg.Searcher
	if searcher == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("payments: stripe api key is required")
		}
		sc := client.New(apiKey, nil)
		searcher = &stripeIntentSearcher{
			intents: sc.PaymentIntents,
			account: strings.TrimSpace(cfg.AccountID),
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeEscrowGateway{searcher: searcher, logger: logger}, nil
}

// LookupEscrow returns the payment figures for the order. Held (uncaptured)
// intents count fully toward escrow; intents still awaiting customer action
// do not.
func (g *StripeEscrowGateway) LookupEscrow(ctx context.Context, orderID string) (services.EscrowInfo, error) {
	if g == nil || g.searcher == nil {
		return services.EscrowInfo{}, errors.New("payments: escrow gateway not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return services.EscrowInfo{}, errors.New("payments: order id is required")
	}

	query := fmt.Sprintf("metadata['productionOrderId']:'%s'", orderID)
	intents, err := g.searcher.Search(ctx, query)
	if err != nil {
		return services.EscrowInfo{}, err
	}

	intent := pickEscrowIntent(intents)
	if intent == nil {
		return services.EscrowInfo{}, fmt.Errorf("%w: %s", ErrEscrowNotFound, orderID)
	}

	info := services.EscrowInfo{
		FinalPrice:   intent.Amount,
		EscrowAmount: escrowAmount(intent),
		Currency:     string(intent.Currency),
	}

	g.logger(ctx, "payments.escrow.lookup", map[string]any{
		"orderId":       orderID,
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"escrowAmount":  info.EscrowAmount,
	})

	return info, nil
}

func pickEscrowIntent(intents []*stripe.PaymentIntent) *stripe.PaymentIntent {
	for _, intent := range intents {
		if intent == nil {
			continue
		}
		switch intent.Status {
		case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
			return intent
		}
	}
	return nil
}

func escrowAmount(intent *stripe.PaymentIntent) int64 {
	if intent.Status == stripe.PaymentIntentStatusSucceeded && intent.AmountReceived > 0 {
		return intent.AmountReceived
	}
	return intent.Amount
}

type stripeIntentSearcher struct {
	intents *paymentintent.Client
	account string
}

func (s *stripeIntentSearcher) Search(ctx context.Context, query string) ([]*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   query,
		},
	}
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}

	iter := s.intents.Search(params)
	var intents []*stripe.PaymentIntent
	for iter.Next() {
		intents = append(intents, iter.PaymentIntent())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("payments: search payment intents: %w", err)
	}
	return intents, nil
}
