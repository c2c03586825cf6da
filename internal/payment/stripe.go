package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Stripe places holds as manual-capture PaymentIntents.
type Stripe struct {
	api *client.API
}

func NewStripe(secretKey string) *Stripe {
	return &Stripe{api: client.New(secretKey, nil)}
}

// newStripeWithURL points the client at another API host.
func newStripeWithURL(secretKey, url string) *Stripe {
	backends := &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(url),
			MaxNetworkRetries: stripe.Int64(0),
		}),
	}
	return &Stripe{api: client.New(secretKey, backends)}
}

func (s *Stripe) Authorize(ctx context.Context, amount int, currency, jobID string) (*Hold, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(amount) * 100),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("jobId", jobID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &Hold{Ref: pi.ID, ClientSecret: pi.ClientSecret, Status: holdStatus(pi.Status)}, nil
}

func (s *Stripe) Status(ctx context.Context, ref string) (HoldStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return "", fmt.Errorf("stripe get payment intent: %w", err)
	}
	return holdStatus(pi.Status), nil
}

func (s *Stripe) Cancel(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Cancel(ref, params); err != nil {
		return fmt.Errorf("stripe cancel payment intent: %w", err)
	}
	return nil
}

func holdStatus(st stripe.PaymentIntentStatus) HoldStatus {
	switch st {
	case stripe.PaymentIntentStatusCanceled:
		return HoldCanceled
	case stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusSucceeded:
		return HoldAuthorized
	default:
		return HoldPending
	}
}
