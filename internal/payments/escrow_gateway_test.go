package payments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type stubIntentSearcher struct {
	searchFn func(ctx context.Context, query string) ([]*stripe.PaymentIntent, error)
}

func (s *stubIntentSearcher) Search(ctx context.Context, query string) ([]*stripe.PaymentIntent, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, query)
	}
	return nil, errors.New("not implemented")
}

func TestLookupEscrowReturnsCapturedAmounts(t *testing.T) {
	gateway, err := NewStripeEscrowGateway(StripeEscrowGatewayConfig{
		Searcher: &stubIntentSearcher{
			searchFn: func(_ context.Context, query string) ([]*stripe.PaymentIntent, error) {
				if !strings.Contains(query, "ord_1") {
					t.Fatalf("query does not target the order: %s", query)
				}
				return []*stripe.PaymentIntent{
					{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded, Amount: 13500, AmountReceived: 13500, Currency: "usd"},
				}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}

	info, err := gateway.LookupEscrow(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("lookup escrow: %v", err)
	}
	if info.FinalPrice != 13500 || info.EscrowAmount != 13500 {
		t.Fatalf("unexpected amounts: %+v", info)
	}
	if info.Currency != "usd" {
		t.Fatalf("unexpected currency: %s", info.Currency)
	}
}

func TestLookupEscrowCountsHeldIntents(t *testing.T) {
	gateway, err := NewStripeEscrowGateway(StripeEscrowGatewayConfig{
		Searcher: &stubIntentSearcher{
			searchFn: func(context.Context, string) ([]*stripe.PaymentIntent, error) {
				return []*stripe.PaymentIntent{
					{ID: "pi_pending", Status: stripe.PaymentIntentStatusRequiresAction, Amount: 9900, Currency: "usd"},
					{ID: "pi_held", Status: stripe.PaymentIntentStatusRequiresCapture, Amount: 9900, Currency: "usd"},
				}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}

	info, err := gateway.LookupEscrow(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("lookup escrow: %v", err)
	}
	if info.EscrowAmount != 9900 {
		t.Fatalf("held intent should count toward escrow: %+v", info)
	}
}

func TestLookupEscrowReportsMissingRecord(t *testing.T) {
	gateway, err := NewStripeEscrowGateway(StripeEscrowGatewayConfig{
		Searcher: &stubIntentSearcher{
			searchFn: func(context.Context, string) ([]*stripe.PaymentIntent, error) {
				return []*stripe.PaymentIntent{
					{ID: "pi_pending", Status: stripe.PaymentIntentStatusRequiresPaymentMethod, Amount: 5000},
				}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}

	if _, err := gateway.LookupEscrow(context.Background(), "ord_1"); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestLookupEscrowRequiresOrderID(t *testing.T) {
	gateway, err := NewStripeEscrowGateway(StripeEscrowGatewayConfig{
		Searcher: &stubIntentSearcher{},
	})
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	if _, err := gateway.LookupEscrow(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank order id")
	}
}

func TestNewStripeEscrowGatewayRequiresKeyOrSearcher(t *testing.T) {
	if _, err := NewStripeEscrowGateway(StripeEscrowGatewayConfig{}); err == nil {
		t.Fatal("expected error without api key or searcher")
	}
}
